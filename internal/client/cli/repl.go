package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peerassess/fieldsync/internal/client/models"
)

var getSimpleText = GetSimpleText
var getPassword = GetPassword

func (a *App) repl(ctx context.Context) {
	fmt.Println("fieldsync client (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("fieldsync %s> ", a.prompt())
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		cmd, args := parts[0], parts[1:]
		var err error

		switch cmd {
		case "help":
			printHelp()
		case "login":
			err = a.login(ctx)
		case "status":
			err = a.status(ctx)
		case "init":
			err = a.initChecklist(ctx, args)
		case "checklist":
			err = a.showChecklist(ctx, args)
		case "complete":
			err = a.completeItem(ctx, args)
		case "note":
			err = a.noteItem(ctx, args)
		case "photo":
			err = a.addPhoto(ctx, args)
		case "rmphoto":
			err = a.removePhoto(ctx, args)
		case "progress":
			err = a.showProgress(ctx, args)
		case "sync":
			a.engine.SyncNow()
			fmt.Println("sync requested")
		case "retry":
			err = a.retry(ctx, args)
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Println("Unknown command:", cmd)
		}

		if err != nil {
			fmt.Println("Error:", err)
		}
	}
}

func (a *App) prompt() string {
	if a.monitor.Online() {
		return "[online] "
	}
	return "[offline] "
}

func printHelp() {
	fmt.Println(`Commands:
  login                          authenticate against the server
  status                         connectivity and sync-queue state
  init <reviewId>                pull the review's checklist into the local store
  checklist <reviewId>           list checklist items
  complete <itemId>              mark an item completed
  note <itemId> <status> <text>  set item status and notes
  photo <itemId> <file> [lat lng]  attach a photo as evidence
  rmphoto <evidenceId>           remove evidence
  progress <reviewId>            checklist completion
  sync                           drain the sync queue now
  retry [entryId]                re-enable failed queue entries
  exit`)
}

func (a *App) login(ctx context.Context) error {
	userName, err := getSimpleText(a.in, "Enter login", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}

	if err := a.client.Login(ctx, userName, string(password)); err != nil {
		return err
	}
	a.userName = userName
	fmt.Println("Success!")
	return nil
}

func (a *App) status(ctx context.Context) error {
	st, err := a.tracker.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("connectivity: %s\n", strings.TrimSpace(a.prompt()))
	fmt.Printf("pending mutations: %d\n", st.Pending)
	if !st.LastSyncAt.IsZero() {
		fmt.Printf("last sync: %s\n", st.LastSyncAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Printf("last error: %s\n", st.LastError)
	}
	for _, e := range st.Failed {
		fmt.Printf("FAILED %s  %s %s/%s  attempts=%d  %s\n",
			e.ID, e.Action, e.Kind, e.EntityID, e.Attempts, e.LastError)
	}
	return nil
}

func (a *App) initChecklist(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: init <reviewId>")
	}

	recs, err := a.client.FetchAll(ctx, models.KindChecklistItem, map[string]string{"reviewId": args[0]})
	if err != nil {
		return err
	}

	items := make([]models.ChecklistItem, 0, len(recs))
	for _, rec := range recs {
		var item models.ChecklistItem
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			return err
		}
		items = append(items, item)
	}

	seeded, err := a.checklist.InitializeChecklist(ctx, args[0], items)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d items\n", len(seeded))
	return nil
}

func (a *App) showChecklist(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: checklist <reviewId>")
	}
	views, err := a.checklist.GetChecklist(ctx, args[0])
	if err != nil && len(views) == 0 {
		return err
	}

	for _, v := range views {
		badge := ""
		if v.State != "CONFIRMED" {
			badge = " (pending sync)"
		}
		if v.Stale {
			badge += " (stale)"
		}
		fmt.Printf("%-40s %-12s %-14s%s\n", v.Item.ID, v.Item.CategoryID, v.Item.Status, badge)
	}
	if err != nil {
		fmt.Println("warning: showing cached data:", err)
	}
	return nil
}

func (a *App) completeItem(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: complete <itemId>")
	}
	item, err := a.checklist.CompleteItem(ctx, args[0], a.userName)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", item.ID, item.Status)
	return nil
}

func (a *App) noteItem(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: note <itemId> <status> [text...]")
	}
	item, err := a.checklist.UpdateItem(ctx, args[0], itemStatus(args[1]), strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", item.ID, item.Status)
	return nil
}

func (a *App) addPhoto(ctx context.Context, args []string) error {
	if len(args) != 2 && len(args) != 4 {
		return fmt.Errorf("usage: photo <itemId> <file> [lat lng]")
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	input := evidenceInputFromFile(args[1], data)
	if len(args) == 4 {
		lat, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return err
		}
		lng, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return err
		}
		input.Latitude, input.Longitude = &lat, &lng
	}

	ev, err := a.checklist.AddEvidence(ctx, args[0], input)
	if err != nil {
		return err
	}
	fmt.Printf("evidence %s attached (queued for upload)\n", ev.ID)
	return nil
}

func (a *App) removePhoto(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rmphoto <evidenceId>")
	}
	return a.checklist.RemoveEvidence(ctx, args[0])
}

func (a *App) showProgress(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: progress <reviewId>")
	}
	p, err := a.checklist.GetProgress(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%d/%d complete (%.0f%%)\n", p.Completed, p.Total, p.Percentage)
	return nil
}

func (a *App) retry(ctx context.Context, args []string) error {
	if len(args) == 1 {
		if err := a.queue.Retry(ctx, args[0]); err != nil {
			return err
		}
		a.engine.SyncNow()
		return nil
	}

	n, err := a.queue.RetryAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("re-enabled %d entries\n", n)
	a.engine.SyncNow()
	return nil
}
