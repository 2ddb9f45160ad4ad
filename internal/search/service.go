package search

import (
	"context"
	"log"

	"caseflow/api/internal/store"
)

const defaultLimit = 20

// Service is the facade that tries Meilisearch first and falls back to
// Postgres FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search returns matching complaint ids, best match first. Visibility
// filtering is the caller's job; the index knows nothing about roles.
func (s *Service) Search(ctx context.Context, query string) ([]string, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchIDs(query, defaultLimit)
		if err == nil {
			return ids, nil
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}
	return s.pgfts.SearchIDs(ctx, query, defaultLimit)
}

// IndexComplaint pushes a complaint into Meilisearch, fire and forget. The
// Postgres side needs no upkeep, the FTS index follows the table.
func (s *Service) IndexComplaint(ctx context.Context, item store.Complaint) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	record := RecordFromComplaint(item)
	go func() {
		if err := s.meili.IndexComplaint(record); err != nil {
			log.Printf("search: index complaint %s: %v", record.ID, err)
		}
	}()
	return nil
}

// Reindex bulk-loads every complaint into Meilisearch, used on boot when
// the index may be empty or stale.
func (s *Service) Reindex(items []store.Complaint) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]ComplaintRecord, 0, len(items))
	for _, item := range items {
		records = append(records, RecordFromComplaint(item))
	}
	if err := s.meili.IndexComplaints(records); err != nil {
		log.Printf("search: reindex complaints: %v", err)
	}
}
