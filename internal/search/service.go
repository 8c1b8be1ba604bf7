package search

import (
	"context"
	"log"
	"sort"
	"strings"
)

// Service is the facade that tries Meilisearch first and falls back to
// scanning the document store.
type Service struct {
	meili   *Meili
	scanner Scanner
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, scanner Scanner) *Service {
	return &Service{meili: meili, scanner: scanner}
}

func (s *Service) Search(ctx context.Context, q Query) ([]Record, error) {
	if s.meili != nil && s.meili.Healthy() {
		records, err := s.meili.Search(q)
		if err == nil {
			return records, nil
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}
	return s.scanSearch(ctx, q)
}

// IndexFiche indexes a sheet, fire-and-forget.
func (s *Service) IndexFiche(record Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Index(record); err != nil {
			log.Printf("search: index fiche %s: %v", record.ID, err)
		}
	}()
}

func (s *Service) scanSearch(ctx context.Context, q Query) ([]Record, error) {
	records, err := s.scanner.ScanFiches(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	matched := make([]Record, 0, len(records))
	for _, record := range records {
		if q.FilterState != "" && record.State != q.FilterState {
			continue
		}
		if needle != "" && !matchesRecord(record, needle) {
			continue
		}
		matched = append(matched, record)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matchesRecord(record Record, needle string) bool {
	for _, field := range []string{record.Name, record.Job, record.Description, record.OwnerName} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
