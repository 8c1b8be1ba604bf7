package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxFiches = "ficherp_fiches"

// Meili indexes and searches sheets via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the sheet index.
// The caller should proceed without it if the instance stays unreachable;
// a background loop keeps probing and reconfigures on recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxFiches,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxFiches, err)
	}

	index := m.client.Index(idxFiches)
	filterable := []interface{}{"state", "ownerId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"name", "job", "description", "ownerName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Index upserts one sheet record.
func (m *Meili) Index(record Record) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxFiches).AddDocuments([]Record{record}, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("meilisearch index fiche %s: %w", record.ID, err)
	}
	return nil
}

func (m *Meili) Search(q Query) ([]Record, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	request := &meili.SearchRequest{Limit: limit}
	if q.FilterState != "" {
		request.Filter = fmt.Sprintf("state = %q", q.FilterState)
	}

	resp, err := m.client.Index(idxFiches).Search(q.Text, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	records := make([]Record, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		records = append(records, Record{
			ID:          decodeString(hit, "id"),
			OwnerID:     decodeString(hit, "ownerId"),
			OwnerName:   decodeString(hit, "ownerName"),
			Name:        decodeString(hit, "name"),
			Job:         decodeString(hit, "job"),
			State:       decodeString(hit, "state"),
			Description: decodeString(hit, "description"),
		})
	}
	return records, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
