package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

type memOpps struct {
	rows []domain.Opportunity
}

func (s *memOpps) Insert(_ context.Context, o domain.Opportunity) error {
	s.rows = append(s.rows, o)
	return nil
}

func (s *memOpps) ListRecent(_ context.Context, limit int) ([]domain.Opportunity, error) {
	return s.rows, nil
}

func (s *memOpps) ListBefore(_ context.Context, before time.Time) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, o := range s.rows {
		if o.DetectedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

type memAttempts struct {
	rows []domain.Attempt
}

func (s *memAttempts) Create(_ context.Context, a domain.Attempt) error {
	s.rows = append(s.rows, a)
	return nil
}

func (s *memAttempts) Update(_ context.Context, a domain.Attempt) error { return nil }

func (s *memAttempts) GetByID(_ context.Context, id string) (domain.Attempt, error) {
	return domain.Attempt{}, domain.ErrNotFound
}

func (s *memAttempts) ListRecent(_ context.Context, limit int) ([]domain.Attempt, error) {
	return s.rows, nil
}

func (s *memAttempts) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for _, a := range s.rows {
		if a.ResolvedAt != nil && a.ResolvedAt.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memAudit struct {
	actions []string
}

func (s *memAudit) Log(_ context.Context, action string, details map[string]any) error {
	s.actions = append(s.actions, action)
	return nil
}

func (s *memAudit) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testArchiver(w BlobWriter, opps domain.OpportunityStore, attempts domain.AttemptStore, audit domain.AuditStore) *Archiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(ArchiverConfig{}, logger, w, opps, attempts, audit)
}

func TestArchiveOpportunitiesWritesJSONL(t *testing.T) {
	cutoff := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	opps := &memOpps{rows: []domain.Opportunity{
		{ID: "opp-1", MarketID: "mkt-1", DetectedAt: cutoff.Add(-48 * time.Hour)},
		{ID: "opp-2", MarketID: "mkt-2", DetectedAt: cutoff.Add(-24 * time.Hour)},
		{ID: "opp-3", MarketID: "mkt-3", DetectedAt: cutoff.Add(time.Hour)},
	}}
	audit := &memAudit{}
	w := newMemWriter()

	n, err := testArchiver(w, opps, &memAttempts{}, audit).ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := w.objects["archive/opportunities/2026-08.jsonl"]
	require.True(t, ok)
	assert.Equal(t, "application/x-ndjson", w.types["archive/opportunities/2026-08.jsonl"])

	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	require.Len(t, lines, 2)
	var first domain.Opportunity
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "opp-1", first.ID)

	assert.Equal(t, []string{"archive.opportunities"}, audit.actions)
}

func TestArchiveAttemptsSkipsUnresolved(t *testing.T) {
	cutoff := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	resolved := cutoff.Add(-time.Hour)
	attempts := &memAttempts{rows: []domain.Attempt{
		{ID: "att-1", ResolvedAt: &resolved},
		{ID: "att-2"}, // still live, must not be archived
	}}
	w := newMemWriter()

	n, err := testArchiver(w, &memOpps{}, attempts, &memAudit{}).ArchiveAttempts(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, w.objects, "archive/attempts/2026-08.jsonl")
}

func TestArchiveNothingToDo(t *testing.T) {
	w := newMemWriter()
	audit := &memAudit{}

	n, err := testArchiver(w, &memOpps{}, &memAttempts{}, audit).ArchiveOpportunities(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.Empty(t, audit.actions)
}
