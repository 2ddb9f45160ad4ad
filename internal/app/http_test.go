package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"caseflow/api/internal/auth"
	"caseflow/api/internal/export"
	"caseflow/api/internal/store"
)

func issueToken(t *testing.T, principal Principal) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  principal.ID,
		Name: principal.Name,
		Role: principal.Role,
		Exp:  time.Now().Add(15 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func parseJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := parseJSON(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload := parseJSON(t, rr); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request ID header")
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	fs := &fakeStore{}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload := parseJSON(t, rr); payload["status"] != "ready" {
		t.Fatalf("expected status ready, got %v", payload["status"])
	}

	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr = doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if payload := parseJSON(t, rr); payload["status"] != "not_ready" {
		t.Fatalf("expected status not_ready, got %v", payload["status"])
	}
}

func TestProtectedRouteWithoutBearer(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/complaints", "", nil)
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestProtectedRouteWithInvalidBearer(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/complaints", "definitely-not-a-token", nil)
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestSessionEndpointSoftCheck(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/session", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload := parseJSON(t, rr); payload["authenticated"] != false {
		t.Fatalf("expected authenticated false, got %v", payload["authenticated"])
	}

	rr = doJSON(t, server, http.MethodGet, "/api/session", issueToken(t, owner), nil)
	payload := parseJSON(t, rr)
	if payload["authenticated"] != true || payload["role"] != "user" || payload["userName"] != owner.Name {
		t.Fatalf("unexpected session payload %v", payload)
	}
}

func TestDeactivatedAccountCannotAuthenticate(t *testing.T) {
	retired := time.Now().UTC()
	fs := &fakeStore{
		ensureUserFn: func(_ context.Context, id, name, role string) (store.User, error) {
			return store.User{ID: id, Name: name, Role: role, DeactivatedAt: &retired}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/complaints", issueToken(t, owner), nil)
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

// lifecycleStore keeps one complaint in memory so a whole
// submit/assign/progress/resolve/feedback exchange can run over HTTP.
type lifecycleStore struct {
	fakeStore
	mu        sync.Mutex
	complaint *store.Complaint
	feedback  *store.Feedback
}

func newLifecycleStore() *lifecycleStore {
	ls := &lifecycleStore{}
	ls.insertComplaintFn = func(_ context.Context, item store.Complaint) error {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		ls.complaint = &item
		return nil
	}
	ls.getUserByIDFn = func(_ context.Context, userID string) (store.User, error) {
		if userID == agent.ID {
			return store.User{ID: agent.ID, Name: agent.Name, Role: "agent"}, nil
		}
		return store.User{ID: userID, Name: "Elena Ortiz", Role: "user"}, nil
	}
	ls.getComplaintFn = func(_ context.Context, complaintID string) (store.Complaint, error) {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		if ls.complaint == nil || ls.complaint.ID != complaintID {
			return store.Complaint{}, sql.ErrNoRows
		}
		return *ls.complaint, nil
	}
	ls.assignComplaintFn = func(_ context.Context, complaintID, agentID, agentName string, now time.Time) (bool, error) {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		if ls.complaint == nil || ls.complaint.Status != "pending" || ls.complaint.AgentID != nil {
			return false, nil
		}
		ls.complaint.Status = "assigned"
		ls.complaint.AgentID = &agentID
		ls.complaint.AgentName = &agentName
		ls.complaint.UpdatedAt = now
		return true, nil
	}
	ls.updateComplaintStatusFn = func(_ context.Context, complaintID, fromStatus, toStatus string, now time.Time) (bool, error) {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		if ls.complaint == nil || ls.complaint.Status != fromStatus {
			return false, nil
		}
		ls.complaint.Status = toStatus
		ls.complaint.UpdatedAt = now
		return true, nil
	}
	ls.insertFeedbackFn = func(_ context.Context, item store.Feedback) (bool, error) {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		if ls.feedback != nil {
			return false, nil
		}
		ls.feedback = &item
		return true, nil
	}
	return ls
}

func TestComplaintLifecycleOverHTTP(t *testing.T) {
	ls := newLifecycleStore()
	server := NewHTTPServer(newTestService(&ls.fakeStore), "*")

	ownerToken := issueToken(t, owner)
	agentToken := issueToken(t, agent)
	adminToken := issueToken(t, admin)

	rr := doJSON(t, server, http.MethodPost, "/api/complaints", ownerToken, SubmitComplaintInput{
		Title:       "Water heater leaking",
		Description: "Steady drip from the tank seam.",
		Category:    "plumbing",
		Priority:    "high",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := parseJSON(t, rr)
	complaintID, _ := created["id"].(string)
	if created["status"] != "pending" || complaintID == "" {
		t.Fatalf("submit: unexpected payload %v", created)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/assign", adminToken, AssignComplaintInput{AgentID: agent.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := parseJSON(t, rr); payload["status"] != "assigned" || payload["agentId"] != agent.ID {
		t.Fatalf("assign: unexpected payload %v", payload)
	}

	// A second assignment loses the conditional update.
	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/assign", adminToken, AssignComplaintInput{AgentID: agent.ID})
	assertErrorCode(t, rr, http.StatusConflict, CodeConflict)

	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/status", agentToken, UpdateStatusInput{Status: "in-progress"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/messages", ownerToken, SendMessageInput{Message: "Any news?"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("message: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := parseJSON(t, rr); payload["senderRole"] != "user" {
		t.Fatalf("message: unexpected payload %v", payload)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/status", agentToken, UpdateStatusInput{Status: "resolved"})
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Chat closes on resolution.
	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/messages", ownerToken, SendMessageInput{Message: "thanks"})
	assertErrorCode(t, rr, http.StatusConflict, CodeIllegalTransition)

	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/feedback", ownerToken, SubmitFeedbackInput{Rating: 5, Comment: "Quick fix."})
	if rr.Code != http.StatusCreated {
		t.Fatalf("feedback: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/complaints/"+complaintID+"/feedback", ownerToken, SubmitFeedbackInput{Rating: 1, Comment: "changed my mind"})
	assertErrorCode(t, rr, http.StatusConflict, CodeConflict)
}

func TestComplaintsListServedFromProjection(t *testing.T) {
	listCalls := 0
	fs := &fakeStore{
		listComplaintsFn: func(context.Context, string, string) ([]store.Complaint, error) {
			listCalls++
			return []store.Complaint{{ID: "c_1", Title: "Broken toaster", Status: "pending", UserID: owner.ID}}, nil
		},
	}
	svc := newTestService(fs)
	defer svc.Close()
	server := NewHTTPServer(svc, "*")
	token := issueToken(t, owner)

	rr := doJSON(t, server, http.MethodGet, "/api/complaints", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	items, _ := parseJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one complaint, got %v", items)
	}
	primedCalls := listCalls

	// Later reads come from the in-memory snapshot, not the database.
	rr = doJSON(t, server, http.MethodGet, "/api/complaints", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if listCalls != primedCalls {
		t.Fatalf("expected snapshot read, store was queried %d more times", listCalls-primedCalls)
	}
}

func TestNotificationsUnreadFilter(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	defer svc.Close()
	server := NewHTTPServer(svc, "*")
	token := issueToken(t, owner)

	// Prime the projection before notifications exist, then refresh through
	// the read-all endpoint once rows are in place.
	rr := doJSON(t, server, http.MethodGet, "/api/notifications", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	notifications := []store.Notification{
		{ID: "n_1", UserID: owner.ID, Type: "assignment", Read: true},
		{ID: "n_2", UserID: owner.ID, Type: "message", Read: false},
	}
	fs.listNotificationsFn = func(context.Context, string) ([]store.Notification, error) {
		return notifications, nil
	}
	proj := svc.ProjectionFor(context.Background(), owner)
	if err := proj.RefreshNotifications(context.Background()); err != nil {
		t.Fatalf("refresh notifications: %v", err)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/notifications?unread=1", token, nil)
	items, _ := parseJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one unread notification, got %v", items)
	}
	unread, _ := items[0].(map[string]any)
	if unread["id"] != "n_2" {
		t.Fatalf("expected n_2, got %v", unread["id"])
	}
}

func TestRoleForbiddenOverHTTP(t *testing.T) {
	fs := &fakeStore{
		getComplaintFn: func(_ context.Context, complaintID string) (store.Complaint, error) {
			return store.Complaint{ID: complaintID, Status: "pending", UserID: owner.ID}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	tests := []struct {
		name      string
		principal Principal
		method    string
		path      string
		body      any
	}{
		{"agent cannot submit", agent, http.MethodPost, "/api/complaints", SubmitComplaintInput{Title: "t", Description: "d", Category: "c"}},
		{"user cannot assign", owner, http.MethodPost, "/api/complaints/c_1/assign", AssignComplaintInput{AgentID: agent.ID}},
		{"user cannot view summary", owner, http.MethodGet, "/api/summary", nil},
		{"agent cannot manage users", agent, http.MethodGet, "/api/users", nil},
		{"agent cannot leave feedback", agent, http.MethodPost, "/api/complaints/c_1/feedback", SubmitFeedbackInput{Rating: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, server, tt.method, tt.path, issueToken(t, tt.principal), tt.body)
			assertErrorCode(t, rr, http.StatusForbidden, CodeForbidden)
		})
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/widgets", issueToken(t, owner), nil)
	assertErrorCode(t, rr, http.StatusNotFound, CodeNotFound)
}

func TestFeedbackEndpointReturnsNullWhenMissing(t *testing.T) {
	fs := &fakeStore{
		getComplaintFn: func(_ context.Context, complaintID string) (store.Complaint, error) {
			return store.Complaint{ID: complaintID, Status: "resolved", UserID: owner.ID}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/complaints/c_1/feedback", issueToken(t, owner), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := parseJSON(t, rr)
	if value, exists := payload["feedback"]; !exists || value != nil {
		t.Fatalf("expected feedback null, got %v", payload)
	}
}

type fakeExporter struct {
	renderFn func(context.Context, export.CaseReport) ([]byte, error)
}

func (f *fakeExporter) RenderPDF(ctx context.Context, report export.CaseReport) ([]byte, error) {
	if f.renderFn != nil {
		return f.renderFn(ctx, report)
	}
	return []byte("%PDF-1.4 fake"), nil
}

func TestCaseReportEndpoint(t *testing.T) {
	fs := &fakeStore{
		getComplaintFn: func(_ context.Context, complaintID string) (store.Complaint, error) {
			return store.Complaint{ID: complaintID, Title: "Broken toaster", Status: "resolved", UserID: owner.ID}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")
	token := issueToken(t, owner)

	rr := doJSON(t, server, http.MethodGet, "/api/complaints/c_1/report", token, nil)
	assertErrorCode(t, rr, http.StatusServiceUnavailable, CodeBackendUnavailable)

	server.SetExporter(&fakeExporter{})
	rr = doJSON(t, server, http.MethodGet, "/api/complaints/c_1/report", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", got)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "c_1.pdf") {
		t.Fatalf("expected attachment disposition, got %s", rr.Header().Get("Content-Disposition"))
	}
}

func TestAttachmentUploadOverHTTP(t *testing.T) {
	fs := &fakeStore{
		getComplaintFn: func(_ context.Context, complaintID string) (store.Complaint, error) {
			return store.Complaint{ID: complaintID, Status: "in-progress", UserID: owner.ID, AgentID: strPtr(agent.ID)}, nil
		},
	}
	svc := newTestService(fs)
	svc.SetObjectStore(&fakeObjects{})
	server := NewHTTPServer(svc, "*")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "receipt.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(part, "not a real pdf")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/complaints/c_1/attachments", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+issueToken(t, owner))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseJSON(t, rr)
	if payload["fileName"] != "receipt.pdf" || payload["uploadedBy"] != owner.ID {
		t.Fatalf("unexpected payload %v", payload)
	}
}
