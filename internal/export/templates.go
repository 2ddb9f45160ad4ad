package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var caseTemplate = template.Must(template.New("case").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(value any, layout string) string {
		switch t := value.(type) {
		case time.Time:
			return t.Format(layout)
		case *time.Time:
			if t == nil {
				return ""
			}
			return t.Format(layout)
		}
		return ""
	},
}).Parse(caseTemplateHTML))

// RenderCaseHTML renders the case report template. All values pass through
// html/template escaping, complaint text is user input.
func RenderCaseHTML(report CaseReport) (string, error) {
	var buf bytes.Buffer
	if err := caseTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const caseTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Case {{.Complaint.ID}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .badge { display: inline-block; padding: 0.1rem 0.5rem; border: 1px solid #999; border-radius: 3px; font-size: 0.85em; }
    table { border-collapse: collapse; width: 100%; }
    th, td { text-align: left; padding: 0.35rem 0.5rem; border-bottom: 1px solid #ddd; font-size: 0.9em; }
    .message { background: #f5f5f5; padding: 0.75rem 1rem; margin: 0.5rem 0; border-left: 3px solid #333; }
    .message .who { color: #666; font-size: 0.85em; }
    .feedback { background: #eef6ee; padding: 1rem; border-left: 3px solid #3a3; }
    .footer { color: #999; font-size: 0.8em; margin-top: 3rem; }
  </style>
</head>
<body>
  <h1>{{.Complaint.Title}}</h1>
  <div class="meta">
    Case {{.Complaint.ID}}
    | <span class="badge">{{.Complaint.Status}}</span>
    | priority {{.Complaint.Priority}}
    | {{.Complaint.Category}}
    | filed {{formatDate .Complaint.CreatedAt "Jan 2, 2006"}}
  </div>

  <table>
    <tr><th>Customer</th><td>{{.Complaint.UserName}}</td></tr>
    {{if .Complaint.AgentName}}<tr><th>Agent</th><td>{{.Complaint.AgentName}}</td></tr>{{end}}
    {{if .Complaint.ProductName}}<tr><th>Product</th><td>{{.Complaint.ProductName}}</td></tr>{{end}}
    {{if .Complaint.PurchaseDate}}<tr><th>Purchased</th><td>{{formatDate .Complaint.PurchaseDate "Jan 2, 2006"}}</td></tr>{{end}}
    {{if .Complaint.Address}}<tr><th>Address</th><td>{{.Complaint.Address}}</td></tr>{{end}}
    <tr><th>Last updated</th><td>{{formatDate .Complaint.UpdatedAt "Jan 2, 2006 15:04"}}</td></tr>
  </table>

  <h2>Description</h2>
  <p>{{.Complaint.Description}}</p>

  {{if .Messages}}
  <h2>Conversation</h2>
  {{range .Messages}}
  <div class="message">
    <div class="who">{{.SenderName}} ({{lower .SenderRole}}) · {{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</div>
    {{.Message}}
  </div>
  {{end}}
  {{end}}

  {{if .Feedback}}
  <h2>Feedback</h2>
  <div class="feedback">
    Rating: {{.Feedback.Rating}}/5
    {{if .Feedback.Comment}}<br>{{.Feedback.Comment}}{{end}}
  </div>
  {{end}}

  {{if .Attachments}}
  <h2>Attachments</h2>
  <table>
    <tr><th>File</th><th>Type</th><th>Size</th></tr>
    {{range .Attachments}}
    <tr><td>{{.FileName}}</td><td>{{.ContentType}}</td><td>{{.SizeBytes}} bytes</td></tr>
    {{end}}
  </table>
  {{end}}

  <div class="footer">Generated by {{.GeneratedBy}} on {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}</div>
</body>
</html>`
