package cli

import (
	"encoding/base64"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/peerassess/fieldsync/internal/client/checklist"
	"github.com/peerassess/fieldsync/internal/client/models"
)

// itemStatus maps a user-typed status onto the wire value, accepting lower
// case and dashes.
func itemStatus(s string) models.ItemStatus {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "_")) {
	case "IN_PROGRESS":
		return models.ItemInProgress
	case "COMPLETED":
		return models.ItemCompleted
	case "NOT_APPLICABLE", "NA", "N_A":
		return models.ItemNotApplicable
	default:
		return models.ItemNotStarted
	}
}

// evidenceInputFromFile wraps raw photo bytes into the capture shape the
// checklist service expects, encoding them as a data URL.
func evidenceInputFromFile(path string, data []byte) checklist.EvidenceInput {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return checklist.EvidenceInput{
		DataURL:    "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		FileName:   filepath.Base(path),
		MimeType:   mimeType,
		Size:       int64(len(data)),
		CapturedAt: time.Now(),
	}
}
