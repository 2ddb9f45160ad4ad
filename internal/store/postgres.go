package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is the durable source of truth. It is the single point where
// snake_case rows become the CamelCase structs the rest of the service sees.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

// EnsureUser upserts the principal carried by a verified token. The identity
// provider owns the account; we keep a local row so notification targets and
// role changes have something to reference.
func (s *PostgresStore) EnsureUser(ctx context.Context, id, name, role string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.caseflow.dev'), $3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name
		RETURNING id, name, email, role, deactivated_at, created_at
	`, id, name, role).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.DeactivatedAt, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, deactivated_at, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.DeactivatedAt, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, deactivated_at, created_at
		FROM users
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Role, &item.DeactivatedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET deactivated_at=NOW() WHERE id=$1 AND deactivated_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- complaints ----

const complaintColumns = `
	id, title, description, category, priority, status,
	user_id, user_name, agent_id, agent_name,
	address, product_name, purchase_date, created_at, updated_at`

func scanComplaint(row interface{ Scan(...any) error }) (Complaint, error) {
	var item Complaint
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.Category, &item.Priority, &item.Status,
		&item.UserID, &item.UserName, &item.AgentID, &item.AgentName,
		&item.Address, &item.ProductName, &item.PurchaseDate, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertComplaint(ctx context.Context, item Complaint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO complaints (
			id, title, description, category, priority, status,
			user_id, user_name, address, product_name, purchase_date,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, item.ID, item.Title, item.Description, item.Category, item.Priority, item.Status,
		item.UserID, item.UserName, item.Address, item.ProductName, item.PurchaseDate,
		item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert complaint: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComplaint(ctx context.Context, complaintID string) (Complaint, error) {
	item, err := scanComplaint(s.db.QueryRowContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE id=$1`, complaintID))
	if err != nil {
		return Complaint{}, err
	}
	return item, nil
}

// ListComplaintsVisibleTo returns the rows the given principal may see,
// newest first. Users see their own complaints; agents and admins see the
// whole pipeline.
func (s *PostgresStore) ListComplaintsVisibleTo(ctx context.Context, principalID, role string) ([]Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints ORDER BY created_at DESC`
	args := []any{}
	if role == "user" {
		query = `SELECT ` + complaintColumns + ` FROM complaints WHERE user_id=$1 ORDER BY created_at DESC`
		args = []any{principalID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	items := make([]Complaint, 0)
	for rows.Next() {
		item, err := scanComplaint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan complaint: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate complaints: %w", err)
	}
	return items, nil
}

// AssignComplaint binds an agent and moves pending -> assigned in one
// conditional write. Returns false when the complaint was not pending or
// already had an agent, so a concurrent double-assign loses cleanly instead
// of overwriting the first agent.
func (s *PostgresStore) AssignComplaint(ctx context.Context, complaintID, agentID, agentName string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE complaints
		SET agent_id=$2, agent_name=$3, status='assigned', updated_at=$4
		WHERE id=$1 AND status='pending' AND agent_id IS NULL
	`, complaintID, agentID, agentName, now)
	if err != nil {
		return false, fmt.Errorf("assign complaint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign complaint rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateComplaintStatus performs a compare-and-swap on the status column:
// the write only lands if the row still carries the status the caller
// validated the transition against.
func (s *PostgresStore) UpdateComplaintStatus(ctx context.Context, complaintID, fromStatus, toStatus string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE complaints
		SET status=$3, updated_at=$4
		WHERE id=$1 AND status=$2
	`, complaintID, fromStatus, toStatus, now)
	if err != nil {
		return false, fmt.Errorf("update complaint status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update complaint status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountComplaintsByStatus(ctx context.Context) (SummaryCounts, error) {
	var counts SummaryCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status='pending'),
			COUNT(*) FILTER (WHERE status='assigned'),
			COUNT(*) FILTER (WHERE status='in-progress'),
			COUNT(*) FILTER (WHERE status='resolved')
		FROM complaints
	`).Scan(&counts.Total, &counts.Pending, &counts.Assigned, &counts.InProgress, &counts.Resolved)
	if err != nil {
		return SummaryCounts{}, fmt.Errorf("count complaints: %w", err)
	}
	return counts, nil
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, type, read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, item.ID, item.UserID, item.Message, item.Type, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, type, read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Message, &item.Type, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead flips read to true. The flag never reverts; marking an
// already-read notification is a no-op that still reports success.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_id=$1 AND read=FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// ---- chat messages ----

func (s *PostgresStore) InsertChatMessage(ctx context.Context, item ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, complaint_id, sender_id, sender_name, sender_role, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ComplaintID, item.SenderID, item.SenderName, item.SenderRole, item.Message, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChatMessages(ctx context.Context) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, complaint_id, sender_id, sender_name, sender_role, message, created_at
		FROM chat_messages
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var item ChatMessage
		if err := rows.Scan(&item.ID, &item.ComplaintID, &item.SenderID, &item.SenderName, &item.SenderRole, &item.Message, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return items, nil
}

// ---- feedback ----

// InsertFeedback relies on the primary key on complaint_id: the second
// attempt for the same complaint inserts nothing and returns false.
func (s *PostgresStore) InsertFeedback(ctx context.Context, item Feedback) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO complaint_feedback (complaint_id, user_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (complaint_id) DO NOTHING
	`, item.ComplaintID, item.UserID, item.Rating, item.Comment, item.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert feedback rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetFeedback(ctx context.Context, complaintID string) (*Feedback, error) {
	var item Feedback
	err := s.db.QueryRowContext(ctx, `
		SELECT complaint_id, user_id, rating, comment, created_at
		FROM complaint_feedback
		WHERE complaint_id=$1
	`, complaintID).Scan(&item.ComplaintID, &item.UserID, &item.Rating, &item.Comment, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return &item, nil
}

// ---- attachments ----

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, complaint_id, object_key, file_name, content_type, size_bytes, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.ComplaintID, item.ObjectKey, item.FileName, item.ContentType, item.SizeBytes, item.UploadedBy, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, complaintID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, complaint_id, object_key, file_name, content_type, size_bytes, uploaded_by, created_at
		FROM attachments
		WHERE complaint_id=$1
		ORDER BY created_at ASC
	`, complaintID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.ComplaintID, &item.ObjectKey, &item.FileName, &item.ContentType, &item.SizeBytes, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}
