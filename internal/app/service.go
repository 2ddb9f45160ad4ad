package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"caseflow/api/internal/auth"
	"caseflow/api/internal/config"
	"caseflow/api/internal/export"
	"caseflow/api/internal/projection"
	"caseflow/api/internal/rbac"
	"caseflow/api/internal/realtime"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
	"caseflow/api/internal/workflow"
)

// Principal is the authenticated caller, parsed from the bearer token the
// identity provider minted. Every mutation re-checks authorization against
// it; the HTTP edge is not the only gate.
type Principal struct {
	ID   string
	Name string
	Role string
}

type Session struct {
	Token     string
	Principal Principal
	ExpiresAt time.Time
}

type SubmitComplaintInput struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Priority     string `json:"priority"`
	Address      string `json:"address"`
	ProductName  string `json:"productName"`
	PurchaseDate string `json:"purchaseDate"`
}

type AssignComplaintInput struct {
	AgentID string `json:"agentId"`
}

type UpdateStatusInput struct {
	Status string `json:"status"`
}

type SendMessageInput struct {
	Message string `json:"message"`
}

type SubmitFeedbackInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type UpdateUserRoleInput struct {
	Role string `json:"role"`
}

var allowedPriorities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
}

type dataStore interface {
	EnsureUser(ctx context.Context, id, name, role string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserRole(ctx context.Context, userID, role string) error
	DeactivateUser(ctx context.Context, userID string) error
	InsertComplaint(ctx context.Context, item store.Complaint) error
	GetComplaint(ctx context.Context, complaintID string) (store.Complaint, error)
	ListComplaintsVisibleTo(ctx context.Context, principalID, role string) ([]store.Complaint, error)
	AssignComplaint(ctx context.Context, complaintID, agentID, agentName string, now time.Time) (bool, error)
	UpdateComplaintStatus(ctx context.Context, complaintID, fromStatus, toStatus string, now time.Time) (bool, error)
	CountComplaintsByStatus(ctx context.Context) (store.SummaryCounts, error)
	InsertNotification(ctx context.Context, item store.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	InsertChatMessage(ctx context.Context, item store.ChatMessage) error
	ListChatMessages(ctx context.Context) ([]store.ChatMessage, error)
	InsertFeedback(ctx context.Context, item store.Feedback) (bool, error)
	GetFeedback(ctx context.Context, complaintID string) (*store.Feedback, error)
	InsertAttachment(ctx context.Context, item store.Attachment) error
	ListAttachments(ctx context.Context, complaintID string) ([]store.Attachment, error)
	Ping(ctx context.Context) error
}

type changeFeed interface {
	Publish(ctx context.Context, event realtime.Event) error
	Subscribe(ctx context.Context, tables ...string) (<-chan realtime.Event, func())
	Ping(ctx context.Context) error
}

type complaintIndex interface {
	IndexComplaint(ctx context.Context, item store.Complaint) error
	Search(ctx context.Context, query string) ([]string, error)
}

type objectStore interface {
	Upload(ctx context.Context, objectKey, contentType string, size int64, body io.Reader) error
	PresignedGetURL(ctx context.Context, objectKey, fileName string) (string, error)
}

type mailSender interface {
	SendNotification(ctx context.Context, recipient store.User, item store.Notification) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	feed    changeFeed
	index   complaintIndex
	objects objectStore
	mail    mailSender

	projMu      sync.Mutex
	projections map[string]*projection.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, feed *realtime.Feed) *Service {
	return &Service{
		cfg:         cfg,
		store:       dataStore,
		feed:        feed,
		projections: make(map[string]*projection.Service),
	}
}

// SetSearchIndex wires an optional complaint search index. Without one,
// search requests report BACKEND_UNAVAILABLE.
func (s *Service) SetSearchIndex(index complaintIndex) {
	s.index = index
}

// SetObjectStore wires optional attachment object storage.
func (s *Service) SetObjectStore(objects objectStore) {
	s.objects = objects
}

// SetMailSender wires optional email delivery for notifications.
func (s *Service) SetMailSender(mail mailSender) {
	s.mail = mail
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingFeed checks the change feed connection.
func (s *Service) PingFeed(ctx context.Context) error {
	return s.feed.Ping(ctx)
}

// Bootstrap seeds demo accounts on an empty database so the service is
// usable before the identity provider has upserted anyone.
func (s *Service) Bootstrap(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	seeds := []struct {
		ID   string
		Name string
		Role string
	}{
		{ID: "u_admin", Name: "Priya Nair", Role: "admin"},
		{ID: "u_agent", Name: "Marcus Webb", Role: "agent"},
		{ID: "u_user", Name: "Elena Ortiz", Role: "user"},
	}
	for _, seed := range seeds {
		if _, err := s.store.EnsureUser(ctx, seed.ID, seed.Name, seed.Role); err != nil {
			return err
		}
	}
	return nil
}

// SessionFromToken verifies the bearer token and upserts the principal's
// user row. Deactivated accounts fail verification even with a valid token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	role := string(rbac.Normalize(claims.Role))
	user, err := s.store.EnsureUser(ctx, claims.Sub, claims.Name, role)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token: token,
		Principal: Principal{
			ID:   user.ID,
			Name: user.Name,
			Role: user.Role,
		},
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) can(principal Principal, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(principal.Role), action)
}

// ProjectionFor returns the principal's live projection, creating, starting
// and priming it on first use. The subscription outlives the request, so it
// runs on the background context until EndSession. A projection is started
// before it becomes visible in the registry, so a concurrent EndSession only
// ever closes a started projection. A cached projection whose role no longer
// matches the principal's is rebuilt: its visibility scope would be wrong.
func (s *Service) ProjectionFor(ctx context.Context, principal Principal) *projection.Service {
	role := string(rbac.Normalize(principal.Role))

	s.projMu.Lock()
	proj, ok := s.projections[principal.ID]
	var stale *projection.Service
	if ok && proj.Role() != role {
		stale = proj
		ok = false
	}
	if !ok {
		proj = projection.New(s.store, s.feed, principal.ID, role)
		proj.Start(context.Background())
		s.projections[principal.ID] = proj
	}
	s.projMu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if !ok {
		_ = proj.RefreshAll(ctx)
	}
	return proj
}

// EndSession closes and discards the principal's projection.
func (s *Service) EndSession(principalID string) {
	s.projMu.Lock()
	proj, ok := s.projections[principalID]
	if ok {
		delete(s.projections, principalID)
	}
	s.projMu.Unlock()
	if ok {
		proj.Close()
	}
}

// Close tears down every live projection.
func (s *Service) Close() {
	s.projMu.Lock()
	projections := s.projections
	s.projections = make(map[string]*projection.Service)
	s.projMu.Unlock()
	for _, proj := range projections {
		proj.Close()
	}
}

func (s *Service) refreshComplaints(ctx context.Context, principalID string) {
	s.projMu.Lock()
	proj, ok := s.projections[principalID]
	s.projMu.Unlock()
	if ok {
		_ = proj.RefreshComplaints(ctx)
	}
}

func (s *Service) refreshNotifications(ctx context.Context, principalID string) {
	s.projMu.Lock()
	proj, ok := s.projections[principalID]
	s.projMu.Unlock()
	if ok {
		_ = proj.RefreshNotifications(ctx)
	}
}

func (s *Service) refreshMessages(ctx context.Context, principalID string) {
	s.projMu.Lock()
	proj, ok := s.projections[principalID]
	s.projMu.Unlock()
	if ok {
		_ = proj.RefreshMessages(ctx)
	}
}

// publishChange announces a committed mutation on the change feed. Feed
// outages degrade liveness only, so failures are logged, never returned.
func (s *Service) publishChange(ctx context.Context, table, op, id string) {
	if err := s.feed.Publish(ctx, realtime.Event{Table: table, Op: op, ID: id}); err != nil {
		log.Printf("WARNING: change feed publish failed for %s/%s %s: %v", table, op, id, err)
	}
}

func (s *Service) indexComplaint(ctx context.Context, item store.Complaint) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexComplaint(ctx, item); err != nil {
		log.Printf("WARNING: search index update failed for %s: %v", item.ID, err)
	}
}

// notify records a notification for userID and publishes the change. The
// row insert is part of the operation; email delivery is best effort.
// Missing or deactivated recipients are skipped without error.
func (s *Service) notify(ctx context.Context, userID, notificationType, message string) error {
	recipient, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Printf("WARNING: dropping %s notification for unknown user %s", notificationType, userID)
		return nil
	}
	if err != nil {
		return err
	}
	if recipient.DeactivatedAt != nil {
		return nil
	}

	item := store.Notification{
		ID:        util.NewID("n"),
		UserID:    userID,
		Message:   message,
		Type:      notificationType,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertNotification(ctx, item); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	s.publishChange(ctx, realtime.TableNotifications, "insert", item.ID)

	if s.mail != nil && recipient.Email != "" {
		if err := s.mail.SendNotification(ctx, recipient, item); err != nil {
			log.Printf("WARNING: notification email to %s failed: %v", recipient.Email, err)
		}
	}
	return nil
}

// Submit files a new complaint for the calling user. Status is forced to
// pending and no agent is bound regardless of input.
func (s *Service) Submit(ctx context.Context, principal Principal, input SubmitComplaintInput) (store.Complaint, error) {
	if !s.can(principal, rbac.ActionSubmit) {
		return store.Complaint{}, forbiddenError("only users may submit complaints")
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	category := strings.TrimSpace(input.Category)
	if title == "" || description == "" || category == "" {
		return store.Complaint{}, validationError("title, description and category are required")
	}
	priority := strings.ToLower(strings.TrimSpace(input.Priority))
	if priority == "" {
		priority = "medium"
	}
	if _, ok := allowedPriorities[priority]; !ok {
		return store.Complaint{}, validationError("priority must be low, medium or high")
	}

	var purchaseDate *time.Time
	if raw := strings.TrimSpace(input.PurchaseDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return store.Complaint{}, validationError("purchaseDate must be YYYY-MM-DD")
		}
		purchaseDate = &parsed
	}

	now := time.Now().UTC()
	item := store.Complaint{
		ID:           util.NewID("c"),
		Title:        title,
		Description:  description,
		Category:     category,
		Priority:     priority,
		Status:       string(workflow.StatusPending),
		UserID:       principal.ID,
		UserName:     principal.Name,
		Address:      strings.TrimSpace(input.Address),
		ProductName:  strings.TrimSpace(input.ProductName),
		PurchaseDate: purchaseDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertComplaint(ctx, item); err != nil {
		return store.Complaint{}, fmt.Errorf("insert complaint: %w", err)
	}

	s.publishChange(ctx, realtime.TableComplaints, "insert", item.ID)
	s.indexComplaint(ctx, item)
	s.refreshComplaints(ctx, principal.ID)
	return item, nil
}

// Assign binds an agent to a pending complaint. The conditional update
// guarantees a complaint is assigned at most once; the losing admin of a
// race gets CONFLICT, never a silent overwrite.
func (s *Service) Assign(ctx context.Context, principal Principal, complaintID, agentID string) (store.Complaint, error) {
	if !s.can(principal, rbac.ActionAssign) {
		return store.Complaint{}, forbiddenError("only admins may assign complaints")
	}

	if _, err := s.store.GetComplaint(ctx, complaintID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Complaint{}, notFoundError("complaint not found")
		}
		return store.Complaint{}, err
	}

	agent, err := s.store.GetUserByID(ctx, strings.TrimSpace(agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Complaint{}, validationError("agent not found")
	}
	if err != nil {
		return store.Complaint{}, err
	}
	if rbac.Normalize(agent.Role) != rbac.RoleAgent || agent.DeactivatedAt != nil {
		return store.Complaint{}, validationError("assignee must be an active agent")
	}

	changed, err := s.store.AssignComplaint(ctx, complaintID, agent.ID, agent.Name, time.Now().UTC())
	if err != nil {
		return store.Complaint{}, fmt.Errorf("assign complaint: %w", err)
	}
	if !changed {
		return store.Complaint{}, conflictError("complaint is no longer pending or already has an agent")
	}

	item, err := s.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return store.Complaint{}, err
	}

	if err := s.notify(ctx, item.UserID, "assignment", fmt.Sprintf("Your complaint %q has been assigned to %s.", item.Title, agent.Name)); err != nil {
		return store.Complaint{}, err
	}
	s.publishChange(ctx, realtime.TableComplaints, "update", item.ID)
	s.indexComplaint(ctx, item)
	s.refreshComplaints(ctx, principal.ID)
	return item, nil
}

// UpdateStatus moves a complaint forward along the lifecycle. Only the
// assigned agent or an admin may call it; the write is conditional on the
// status the caller observed, so concurrent movers cannot skip or repeat a
// step.
func (s *Service) UpdateStatus(ctx context.Context, principal Principal, complaintID, newStatus string) (store.Complaint, error) {
	if !s.can(principal, rbac.ActionUpdateStatus) {
		return store.Complaint{}, forbiddenError("only agents and admins may update complaint status")
	}

	to := workflow.Status(strings.TrimSpace(newStatus))
	if !workflow.Valid(to) {
		return store.Complaint{}, validationError("status must be pending, assigned, in-progress or resolved")
	}

	item, err := s.store.GetComplaint(ctx, complaintID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Complaint{}, notFoundError("complaint not found")
	}
	if err != nil {
		return store.Complaint{}, err
	}

	if rbac.Normalize(principal.Role) == rbac.RoleAgent {
		if item.AgentID == nil || *item.AgentID != principal.ID {
			return store.Complaint{}, forbiddenError("only the assigned agent may update this complaint")
		}
	}

	from := workflow.Status(item.Status)
	if !workflow.CanTransition(from, to) {
		return store.Complaint{}, illegalTransitionError(
			fmt.Sprintf("cannot move complaint from %s to %s", from, to),
			map[string]any{"from": string(from), "to": string(to)},
		)
	}

	changed, err := s.store.UpdateComplaintStatus(ctx, complaintID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return store.Complaint{}, fmt.Errorf("update complaint status: %w", err)
	}
	if !changed {
		return store.Complaint{}, conflictError("complaint status changed concurrently, reload and retry")
	}

	item, err = s.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return store.Complaint{}, err
	}

	notificationType := "status_update"
	message := fmt.Sprintf("Your complaint %q is now %s.", item.Title, to)
	if to == workflow.StatusResolved {
		notificationType = "resolution"
		message = fmt.Sprintf("Your complaint %q has been resolved.", item.Title)
	}
	if err := s.notify(ctx, item.UserID, notificationType, message); err != nil {
		return store.Complaint{}, err
	}
	s.publishChange(ctx, realtime.TableComplaints, "update", item.ID)
	s.indexComplaint(ctx, item)
	s.refreshComplaints(ctx, principal.ID)
	return item, nil
}

// SendMessage appends to a complaint's chat. Chat opens when an agent is
// bound and closes for good on resolution.
func (s *Service) SendMessage(ctx context.Context, principal Principal, complaintID string, input SendMessageInput) (store.ChatMessage, error) {
	if !s.can(principal, rbac.ActionMessage) {
		return store.ChatMessage{}, forbiddenError("role may not send messages")
	}

	text := strings.TrimSpace(input.Message)
	if text == "" {
		return store.ChatMessage{}, validationError("message is required")
	}

	item, err := s.store.GetComplaint(ctx, complaintID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ChatMessage{}, notFoundError("complaint not found")
	}
	if err != nil {
		return store.ChatMessage{}, err
	}

	if workflow.Status(item.Status) == workflow.StatusResolved {
		return store.ChatMessage{}, illegalTransitionError("chat is closed on a resolved complaint", nil)
	}
	if item.AgentID == nil {
		return store.ChatMessage{}, illegalTransitionError("chat opens once an agent is assigned", nil)
	}

	role := rbac.Normalize(principal.Role)
	isOwner := item.UserID == principal.ID
	isAssignedAgent := *item.AgentID == principal.ID
	if !isOwner && !isAssignedAgent && role != rbac.RoleAdmin {
		return store.ChatMessage{}, forbiddenError("only the owner, assigned agent or an admin may chat here")
	}

	message := store.ChatMessage{
		ID:          util.NewID("m"),
		ComplaintID: item.ID,
		SenderID:    principal.ID,
		SenderName:  principal.Name,
		SenderRole:  string(role),
		Message:     text,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertChatMessage(ctx, message); err != nil {
		return store.ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	s.publishChange(ctx, realtime.TableChatMessages, "insert", message.ID)

	// Counterpart gets the heads-up: agent for the owner's messages,
	// owner for everyone else's.
	recipient := item.UserID
	if isOwner {
		recipient = *item.AgentID
	}
	if err := s.notify(ctx, recipient, "message", fmt.Sprintf("New message from %s on complaint %q.", principal.Name, item.Title)); err != nil {
		return store.ChatMessage{}, err
	}
	s.refreshMessages(ctx, principal.ID)
	return message, nil
}

// SubmitFeedback records the owner's one-time rating of a resolved
// complaint. The unique insert means a duplicate attempt leaves no row
// behind.
func (s *Service) SubmitFeedback(ctx context.Context, principal Principal, complaintID string, input SubmitFeedbackInput) (store.Feedback, error) {
	if !s.can(principal, rbac.ActionFeedback) {
		return store.Feedback{}, forbiddenError("only users may submit feedback")
	}
	if input.Rating < 1 || input.Rating > 5 {
		return store.Feedback{}, validationError("rating must be between 1 and 5")
	}

	item, err := s.store.GetComplaint(ctx, complaintID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Feedback{}, notFoundError("complaint not found")
	}
	if err != nil {
		return store.Feedback{}, err
	}
	if item.UserID != principal.ID {
		return store.Feedback{}, forbiddenError("only the complaint owner may submit feedback")
	}
	if workflow.Status(item.Status) != workflow.StatusResolved {
		return store.Feedback{}, illegalTransitionError("feedback requires a resolved complaint", nil)
	}

	feedback := store.Feedback{
		ComplaintID: item.ID,
		UserID:      principal.ID,
		Rating:      input.Rating,
		Comment:     strings.TrimSpace(input.Comment),
		CreatedAt:   time.Now().UTC(),
	}
	inserted, err := s.store.InsertFeedback(ctx, feedback)
	if err != nil {
		return store.Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	if !inserted {
		return store.Feedback{}, conflictError("feedback already submitted for this complaint")
	}
	return feedback, nil
}

// GetComplaint loads one complaint, hiding other users' complaints behind
// NOT_FOUND rather than confirming they exist.
func (s *Service) GetComplaint(ctx context.Context, principal Principal, complaintID string) (store.Complaint, error) {
	if !s.can(principal, rbac.ActionRead) {
		return store.Complaint{}, forbiddenError("role may not read complaints")
	}
	item, err := s.store.GetComplaint(ctx, complaintID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Complaint{}, notFoundError("complaint not found")
	}
	if err != nil {
		return store.Complaint{}, err
	}
	if rbac.Normalize(principal.Role) == rbac.RoleUser && item.UserID != principal.ID {
		return store.Complaint{}, notFoundError("complaint not found")
	}
	return item, nil
}

// Transcript returns a complaint's chat, createdAt ascending.
func (s *Service) Transcript(ctx context.Context, principal Principal, complaintID string) ([]store.ChatMessage, error) {
	if _, err := s.GetComplaint(ctx, principal, complaintID); err != nil {
		return nil, err
	}
	all, err := s.store.ListChatMessages(ctx)
	if err != nil {
		return nil, err
	}
	messages := make([]store.ChatMessage, 0)
	for _, message := range all {
		if message.ComplaintID == complaintID {
			messages = append(messages, message)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// FeedbackFor returns a complaint's feedback record, nil when none exists.
func (s *Service) FeedbackFor(ctx context.Context, principal Principal, complaintID string) (*store.Feedback, error) {
	if _, err := s.GetComplaint(ctx, principal, complaintID); err != nil {
		return nil, err
	}
	return s.store.GetFeedback(ctx, complaintID)
}

// MarkNotificationRead flips one of the principal's notifications to read.
// The flag never goes back.
func (s *Service) MarkNotificationRead(ctx context.Context, principal Principal, notificationID string) error {
	err := s.store.MarkNotificationRead(ctx, notificationID, principal.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("notification not found")
	}
	if err != nil {
		return err
	}
	s.publishChange(ctx, realtime.TableNotifications, "update", notificationID)
	s.refreshNotifications(ctx, principal.ID)
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, principal Principal) error {
	if err := s.store.MarkAllNotificationsRead(ctx, principal.ID); err != nil {
		return err
	}
	s.publishChange(ctx, realtime.TableNotifications, "update", principal.ID)
	s.refreshNotifications(ctx, principal.ID)
	return nil
}

// Summary returns complaint totals by status for the admin dashboard.
func (s *Service) Summary(ctx context.Context, principal Principal) (store.SummaryCounts, error) {
	if !s.can(principal, rbac.ActionAdmin) {
		return store.SummaryCounts{}, forbiddenError("only admins may view the summary")
	}
	return s.store.CountComplaintsByStatus(ctx)
}

// SearchComplaints runs a full-text query and intersects the hits with the
// principal's visibility scope, preserving search ranking.
func (s *Service) SearchComplaints(ctx context.Context, principal Principal, query string) ([]store.Complaint, error) {
	if !s.can(principal, rbac.ActionRead) {
		return nil, forbiddenError("role may not read complaints")
	}
	if s.index == nil {
		return nil, backendUnavailableError("search is not configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("query is required")
	}

	ids, err := s.index.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search complaints: %w", err)
	}
	visible, err := s.store.ListComplaintsVisibleTo(ctx, principal.ID, string(rbac.Normalize(principal.Role)))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Complaint, len(visible))
	for _, item := range visible {
		byID[item.ID] = item
	}
	results := make([]store.Complaint, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			results = append(results, item)
		}
	}
	return results, nil
}

// UploadAttachment stores an attachment's bytes and records its metadata.
// Resolved complaints no longer accept uploads.
func (s *Service) UploadAttachment(ctx context.Context, principal Principal, complaintID, fileName, contentType string, size int64, body io.Reader) (store.Attachment, error) {
	item, err := s.GetComplaint(ctx, principal, complaintID)
	if err != nil {
		return store.Attachment{}, err
	}
	role := rbac.Normalize(principal.Role)
	if role == rbac.RoleAgent && (item.AgentID == nil || *item.AgentID != principal.ID) {
		return store.Attachment{}, forbiddenError("only the assigned agent may attach files")
	}
	if workflow.Status(item.Status) == workflow.StatusResolved {
		return store.Attachment{}, illegalTransitionError("resolved complaints no longer accept attachments", nil)
	}
	if s.objects == nil {
		return store.Attachment{}, backendUnavailableError("attachment storage is not configured")
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return store.Attachment{}, validationError("fileName is required")
	}

	attachment := store.Attachment{
		ID:          util.NewID("att"),
		ComplaintID: item.ID,
		ObjectKey:   item.ID + "/" + util.NewID("obj") + "/" + fileName,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  principal.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.objects.Upload(ctx, attachment.ObjectKey, contentType, size, body); err != nil {
		return store.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	if err := s.store.InsertAttachment(ctx, attachment); err != nil {
		return store.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return attachment, nil
}

// AttachmentLink pairs an attachment record with a presigned download URL.
type AttachmentLink struct {
	Attachment store.Attachment
	URL        string
}

// ListAttachments returns a complaint's attachments with download links.
func (s *Service) ListAttachments(ctx context.Context, principal Principal, complaintID string) ([]AttachmentLink, error) {
	if _, err := s.GetComplaint(ctx, principal, complaintID); err != nil {
		return nil, err
	}
	if s.objects == nil {
		return nil, backendUnavailableError("attachment storage is not configured")
	}
	items, err := s.store.ListAttachments(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	links := make([]AttachmentLink, 0, len(items))
	for _, item := range items {
		url, err := s.objects.PresignedGetURL(ctx, item.ObjectKey, item.FileName)
		if err != nil {
			return nil, fmt.Errorf("presign attachment %s: %w", item.ID, err)
		}
		links = append(links, AttachmentLink{Attachment: item, URL: url})
	}
	return links, nil
}

// ListUsers is the admin view of every account.
func (s *Service) ListUsers(ctx context.Context, principal Principal) ([]store.User, error) {
	if !s.can(principal, rbac.ActionAdmin) {
		return nil, forbiddenError("only admins may manage users")
	}
	return s.store.ListUsers(ctx)
}

// UpdateUserRole changes another account's role.
func (s *Service) UpdateUserRole(ctx context.Context, principal Principal, userID, role string) error {
	if !s.can(principal, rbac.ActionAdmin) {
		return forbiddenError("only admins may manage users")
	}
	switch rbac.Role(role) {
	case rbac.RoleUser, rbac.RoleAgent, rbac.RoleAdmin:
	default:
		return validationError("role must be user, agent or admin")
	}
	if userID == principal.ID {
		return validationError("cannot change your own role")
	}
	if _, err := s.store.GetUserByID(ctx, userID); errors.Is(err, sql.ErrNoRows) {
		return notFoundError("user not found")
	} else if err != nil {
		return err
	}
	return s.store.UpdateUserRole(ctx, userID, role)
}

// DeactivateUser retires an account. Deactivated accounts fail token
// verification and stop receiving notifications; their history stays.
func (s *Service) DeactivateUser(ctx context.Context, principal Principal, userID string) error {
	if !s.can(principal, rbac.ActionAdmin) {
		return forbiddenError("only admins may manage users")
	}
	if userID == principal.ID {
		return validationError("cannot deactivate your own account")
	}
	if _, err := s.store.GetUserByID(ctx, userID); errors.Is(err, sql.ErrNoRows) {
		return notFoundError("user not found")
	} else if err != nil {
		return err
	}
	return s.store.DeactivateUser(ctx, userID)
}

// CaseReport assembles everything the PDF case report renders: the
// complaint, its transcript, feedback if any, and attachment metadata.
func (s *Service) CaseReport(ctx context.Context, principal Principal, complaintID string) (export.CaseReport, error) {
	item, err := s.GetComplaint(ctx, principal, complaintID)
	if err != nil {
		return export.CaseReport{}, err
	}
	messages, err := s.Transcript(ctx, principal, complaintID)
	if err != nil {
		return export.CaseReport{}, err
	}
	feedback, err := s.store.GetFeedback(ctx, complaintID)
	if err != nil {
		return export.CaseReport{}, err
	}
	attachments, err := s.store.ListAttachments(ctx, complaintID)
	if err != nil {
		return export.CaseReport{}, err
	}
	return export.CaseReport{
		Complaint:   item,
		Messages:    messages,
		Feedback:    feedback,
		Attachments: attachments,
		GeneratedBy: principal.Name,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
