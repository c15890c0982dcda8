package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/karb/internal/domain"
)

// BlobWriter is the upload surface the archiver needs. Satisfied by Writer.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ArchiverConfig controls the archival sweep cadence and retention.
type ArchiverConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// Retention is how long records stay in the primary store before they
	// are eligible for archival.
	Retention time.Duration
}

// Archiver periodically drains aged records out of the primary store into
// JSONL files on object storage. Deletion from the primary store is a
// separate, explicit step taken after an archive has been verified.
type Archiver struct {
	cfg      ArchiverConfig
	logger   *slog.Logger
	writer   BlobWriter
	opps     domain.OpportunityStore
	attempts domain.AttemptStore
	audit    domain.AuditStore
}

// NewArchiver creates an Archiver. The audit store doubles as a source of
// archivable entries and the log of completed archive runs.
func NewArchiver(cfg ArchiverConfig, logger *slog.Logger, writer BlobWriter, opps domain.OpportunityStore, attempts domain.AttemptStore, audit domain.AuditStore) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Archiver{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "archiver")),
		writer:   writer,
		opps:     opps,
		attempts: attempts,
		audit:    audit,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep archives everything older than the retention cutoff. Failures are
// logged, not fatal; the next sweep retries.
func (a *Archiver) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.Retention)

	if n, err := a.ArchiveOpportunities(ctx, cutoff); err != nil {
		a.logger.Error("archive opportunities failed", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("archived opportunities", slog.Int64("count", n))
	}

	if n, err := a.ArchiveAttempts(ctx, cutoff); err != nil {
		a.logger.Error("archive attempts failed", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("archived attempts", slog.Int64("count", n))
	}

	if n, err := a.ArchiveAudit(ctx, cutoff); err != nil {
		a.logger.Error("archive audit log failed", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("archived audit entries", slog.Int64("count", n))
	}
}

// ArchiveOpportunities uploads opportunities detected before the cutoff to
// archive/opportunities/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	return upload(ctx, a, "opportunities", before, opps)
}

// ArchiveAttempts uploads attempts resolved before the cutoff to
// archive/attempts/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveAttempts(ctx context.Context, before time.Time) (int64, error) {
	attempts, err := a.attempts.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts query: %w", err)
	}
	return upload(ctx, a, "attempts", before, attempts)
}

// ArchiveAudit uploads audit entries recorded before the cutoff to
// archive/audit/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return upload(ctx, a, "audit", before, entries)
}

func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/opportunities/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes a slice as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
