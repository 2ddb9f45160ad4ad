package store

import "time"

// User mirrors a row in the users table. Accounts originate at the external
// identity provider; rows here exist so notifications always target a known
// principal and so admins can manage roles.
type User struct {
	ID            string
	Name          string
	Email         string
	Role          string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
}

type Complaint struct {
	ID           string
	Title        string
	Description  string
	Category     string
	Priority     string
	Status       string
	UserID       string
	UserName     string
	AgentID      *string
	AgentName    *string
	Address      string
	ProductName  string
	PurchaseDate *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Message   string
	Type      string
	Read      bool
	CreatedAt time.Time
}

type ChatMessage struct {
	ID          string
	ComplaintID string
	SenderID    string
	SenderName  string
	SenderRole  string
	Message     string
	CreatedAt   time.Time
}

// Feedback is write-once: at most one row per complaint, attached after
// resolution by the complaint owner.
type Feedback struct {
	ComplaintID string
	UserID      string
	Rating      int
	Comment     string
	CreatedAt   time.Time
}

type Attachment struct {
	ID          string
	ComplaintID string
	ObjectKey   string
	FileName    string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

type SummaryCounts struct {
	Total      int
	Pending    int
	Assigned   int
	InProgress int
	Resolved   int
}
