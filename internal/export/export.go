// Package export renders a complaint's case report as PDF via headless
// Chrome: complaint details, the chat transcript, feedback, and attachment
// metadata on one printable page.
package export

import (
	"errors"
	"time"

	"caseflow/api/internal/store"
)

// ErrPDFDependencyMissing means no chromium binary was found on PATH.
var ErrPDFDependencyMissing = errors.New("pdf export dependency missing")

// CaseReport is everything the report template renders.
type CaseReport struct {
	Complaint   store.Complaint
	Messages    []store.ChatMessage
	Feedback    *store.Feedback
	Attachments []store.Attachment
	GeneratedBy string
	GeneratedAt time.Time
}
