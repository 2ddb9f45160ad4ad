// Package search provides complaint full-text search backed by Meilisearch,
// with PostgreSQL FTS as the fallback when Meilisearch is down.
package search

import "caseflow/api/internal/store"

// ComplaintRecord is the data we index for a complaint.
type ComplaintRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	ProductName string `json:"productName"`
}

// RecordFromComplaint projects a stored complaint onto the indexed fields.
func RecordFromComplaint(item store.Complaint) ComplaintRecord {
	return ComplaintRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Priority:    item.Priority,
		Status:      item.Status,
		ProductName: item.ProductName,
	}
}
