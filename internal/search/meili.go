package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxNotes = "notespace_public_notes"

// Meili implements Backend via Meilisearch.
type Meili struct {
	client    meili.ServiceManager
	healthy   atomic.Bool
	recovered atomic.Pointer[func()]
	done      chan struct{}
	log       zerolog.Logger
}

// NewMeili creates a Meilisearch client and configures the note index. An
// unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "meilisearch").Logger(),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
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
		Uid:        idxNotes,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxNotes)
	filterable := []interface{}{"tenantId", "workspaceId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"title", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
	}
}

// OnRecover registers fn to run each time the server comes back after an
// outage. Writes made while it was unhealthy were dropped.
func (m *Meili) OnRecover(fn func()) {
	m.recovered.Store(&fn)
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	wasHealthy := m.healthy.Swap(err == nil)
	if err != nil || wasHealthy {
		return
	}
	m.log.Info().Msg("meilisearch recovered, reconfiguring index")
	m.configureIndex()
	if fn := m.recovered.Load(); fn != nil {
		(*fn)()
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs text against the note index restricted to tenantID.
func (m *Meili) Search(_ context.Context, tenantID uuid.UUID, text string, limit int) ([]uuid.UUID, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxNotes,
			Query:    text,
			Limit:    int64(limit),
			Filter:   []string{fmt.Sprintf("tenantId = %q", tenantID.String())},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	raw := make([]string, 0)
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			raw = append(raw, decodeString(hit, "id"))
		}
	}
	return parseIDs(raw), nil
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

// IndexNote adds or updates one note.
func (m *Meili) IndexNote(record NoteRecord) error {
	_, err := m.client.Index(idxNotes).AddDocuments([]NoteRecord{record}, nil)
	return err
}

// IndexNotes bulk-indexes notes.
func (m *Meili) IndexNotes(records []NoteRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNotes).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteNote(id string) error {
	_, err := m.client.Index(idxNotes).DeleteDocument(id, nil)
	return err
}
