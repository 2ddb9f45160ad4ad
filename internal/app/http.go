package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"caseflow/api/internal/auth"
	"caseflow/api/internal/export"
	"caseflow/api/internal/store"
)

const maxAttachmentBytes = 25 << 20

type caseExporter interface {
	RenderPDF(ctx context.Context, report export.CaseReport) ([]byte, error)
}

type HTTPServer struct {
	service    *Service
	exporter   caseExporter
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// SetExporter wires optional PDF report rendering.
func (s *HTTPServer) SetExporter(exporter caseExporter) {
	s.exporter = exporter
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"redis":    map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		if err := s.service.PingFeed(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.Principal.ID,
			"userName":      session.Principal.Name,
			"role":          session.Principal.Role,
		})
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/session" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.service.EndSession(session.Principal.ID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	principal := session.Principal

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}

	switch {
	case parts[1] == "complaints" && len(parts) == 2 && r.Method == http.MethodGet:
		proj := s.service.ProjectionFor(r.Context(), principal)
		items := proj.Complaints()
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, complaintPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})
		return

	case parts[1] == "complaints" && len(parts) == 2 && r.Method == http.MethodPost:
		var body SubmitComplaintInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.Submit(r.Context(), principal, body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, complaintPayload(item))
		return

	case parts[1] == "complaints" && len(parts) == 3 && r.Method == http.MethodGet:
		item, err := s.service.GetComplaint(r.Context(), principal, parts[2])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, complaintPayload(item))
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "assign" && r.Method == http.MethodPost:
		var body AssignComplaintInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.Assign(r.Context(), principal, parts[2], body.AgentID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, complaintPayload(item))
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPost:
		var body UpdateStatusInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateStatus(r.Context(), principal, parts[2], body.Status)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, complaintPayload(item))
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodGet:
		if _, err := s.service.GetComplaint(r.Context(), principal, parts[2]); err != nil {
			s.writeMappedError(w, err)
			return
		}
		proj := s.service.ProjectionFor(r.Context(), principal)
		items := proj.MessagesForComplaint(parts[2])
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, messagePayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodPost:
		var body SendMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SendMessage(r.Context(), principal, parts[2], body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, messagePayload(item))
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "feedback" && r.Method == http.MethodGet:
		feedback, err := s.service.FeedbackFor(r.Context(), principal, parts[2])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if feedback == nil {
			writeJSON(w, http.StatusOK, map[string]any{"feedback": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": feedbackPayload(*feedback)})
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "feedback" && r.Method == http.MethodPost:
		var body SubmitFeedbackInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		feedback, err := s.service.SubmitFeedback(r.Context(), principal, parts[2], body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, feedbackPayload(feedback))
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "report" && r.Method == http.MethodGet:
		if s.exporter == nil {
			writeError(w, http.StatusServiceUnavailable, CodeBackendUnavailable, "Report rendering is not configured", nil)
			return
		}
		report, err := s.service.CaseReport(r.Context(), principal, parts[2])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		pdf, err := s.exporter.RenderPDF(r.Context(), report)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Complaint.ID+".pdf"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "attachments" && r.Method == http.MethodGet:
		links, err := s.service.ListAttachments(r.Context(), principal, parts[2])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(links))
		for _, link := range links {
			payload = append(payload, attachmentPayload(link))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})
		return

	case parts[1] == "complaints" && len(parts) == 4 && parts[3] == "attachments" && r.Method == http.MethodPost:
		if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "file field is required", nil)
			return
		}
		defer file.Close()
		item, err := s.service.UploadAttachment(
			r.Context(),
			principal,
			parts[2],
			header.Filename,
			header.Header.Get("Content-Type"),
			header.Size,
			file,
		)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, attachmentPayload(AttachmentLink{Attachment: item}))
		return

	case parts[1] == "notifications" && len(parts) == 2 && r.Method == http.MethodGet:
		proj := s.service.ProjectionFor(r.Context(), principal)
		var items []store.Notification
		if r.URL.Query().Get("unread") == "1" {
			items = proj.UnreadNotifications(principal.ID)
		} else {
			items = proj.Notifications()
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, notificationPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})
		return

	case parts[1] == "notifications" && len(parts) == 3 && parts[2] == "read-all" && r.Method == http.MethodPost:
		if err := s.service.MarkAllNotificationsRead(r.Context(), principal); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case parts[1] == "notifications" && len(parts) == 4 && parts[3] == "read" && r.Method == http.MethodPost:
		if err := s.service.MarkNotificationRead(r.Context(), principal, parts[2]); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case parts[1] == "search" && len(parts) == 2 && r.Method == http.MethodGet:
		items, err := s.service.SearchComplaints(r.Context(), principal, r.URL.Query().Get("q"))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, complaintPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})
		return

	case parts[1] == "summary" && len(parts) == 2 && r.Method == http.MethodGet:
		counts, err := s.service.Summary(r.Context(), principal)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":      counts.Total,
			"pending":    counts.Pending,
			"assigned":   counts.Assigned,
			"inProgress": counts.InProgress,
			"resolved":   counts.Resolved,
		})
		return

	case parts[1] == "users" && len(parts) == 2 && r.Method == http.MethodGet:
		users, err := s.service.ListUsers(r.Context(), principal)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(users))
		for _, user := range users {
			payload = append(payload, userPayload(user))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})
		return

	case parts[1] == "users" && len(parts) == 4 && parts[3] == "role" && r.Method == http.MethodPost:
		var body UpdateUserRoleInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateUserRole(r.Context(), principal, parts[2], body.Role); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case parts[1] == "users" && len(parts) == 4 && parts[3] == "deactivate" && r.Method == http.MethodPost:
		if err := s.service.DeactivateUser(r.Context(), principal, parts[2]); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusServiceUnavailable, CodeBackendUnavailable, "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func complaintPayload(item store.Complaint) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"category":    item.Category,
		"priority":    item.Priority,
		"status":      item.Status,
		"userId":      item.UserID,
		"userName":    item.UserName,
		"agentId":     item.AgentID,
		"agentName":   item.AgentName,
		"address":     item.Address,
		"productName": item.ProductName,
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
		"updatedAt":   item.UpdatedAt.Format(time.RFC3339),
	}
	if item.PurchaseDate != nil {
		payload["purchaseDate"] = item.PurchaseDate.Format("2006-01-02")
	}
	return payload
}

func notificationPayload(item store.Notification) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"userId":    item.UserID,
		"message":   item.Message,
		"type":      item.Type,
		"read":      item.Read,
		"createdAt": item.CreatedAt.Format(time.RFC3339),
	}
}

func messagePayload(item store.ChatMessage) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"complaintId": item.ComplaintID,
		"senderId":    item.SenderID,
		"senderName":  item.SenderName,
		"senderRole":  item.SenderRole,
		"message":     item.Message,
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
	}
}

func feedbackPayload(item store.Feedback) map[string]any {
	return map[string]any{
		"complaintId": item.ComplaintID,
		"userId":      item.UserID,
		"rating":      item.Rating,
		"comment":     item.Comment,
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
	}
}

func attachmentPayload(link AttachmentLink) map[string]any {
	payload := map[string]any{
		"id":          link.Attachment.ID,
		"complaintId": link.Attachment.ComplaintID,
		"fileName":    link.Attachment.FileName,
		"contentType": link.Attachment.ContentType,
		"sizeBytes":   link.Attachment.SizeBytes,
		"uploadedBy":  link.Attachment.UploadedBy,
		"createdAt":   link.Attachment.CreatedAt.Format(time.RFC3339),
	}
	if link.URL != "" {
		payload["url"] = link.URL
	}
	return payload
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"name":        user.Name,
		"email":       user.Email,
		"role":        user.Role,
		"deactivated": user.DeactivatedAt != nil,
		"createdAt":   user.CreatedAt.Format(time.RFC3339),
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusServiceUnavailable, CodeBackendUnavailable, "Backend unavailable", nil
}
