package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly through their ListClosedBefore / ListBefore
// methods.

// NegotiationArchiveStore provides read access to closed negotiations for
// archival purposes.
type NegotiationArchiveStore interface {
	// ListClosedBefore returns terminal negotiations last updated strictly
	// before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Negotiation, error)
}

// MandiPriceArchiveStore provides read access to aged mandi price records
// for archival purposes.
type MandiPriceArchiveStore interface {
	// ListBefore returns records whose report date is strictly before the
	// cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.MarketPriceRecord, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, uploading the result to S3, and
// reading the object back to verify the upload.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here. That is a separate, explicit step; the read-back
// verification is what makes it safe to run later.
type ArchiveImpl struct {
	writer       domain.BlobWriter
	reader       domain.BlobReader
	negotiations NegotiationArchiveStore
	prices       MandiPriceArchiveStore
	audit        domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	negotiations NegotiationArchiveStore,
	prices MandiPriceArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:       writer,
		reader:       reader,
		negotiations: negotiations,
		prices:       prices,
		audit:        audit,
	}
}

// ArchiveClosedNegotiations queries terminal negotiations updated before the
// cutoff, serializes them to JSONL, and uploads the file to S3 at
// archive/negotiations/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveClosedNegotiations(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.negotiations.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive negotiations query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive negotiations marshal: %w", err)
	}

	path := archivePath("negotiations", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive negotiations upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive negotiations: %w", err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive.negotiations", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive negotiations audit log: %w", err)
	}

	return count, nil
}

// ArchiveMandiPrices queries mandi price records reported before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/mandi_prices/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveMandiPrices(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.prices.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive mandi prices query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive mandi prices marshal: %w", err)
	}

	path := archivePath("mandi_prices", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive mandi prices upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive mandi prices: %w", err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive.mandi_prices", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive mandi prices audit log: %w", err)
	}

	return count, nil
}

// verifyUpload reads the object back and compares it byte for byte with
// what was written. An archive that fails verification must not be audited
// as complete; primary-store deletion keys off those audit entries.
func (a *ArchiveImpl) verifyUpload(ctx context.Context, path string, want []byte) error {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("verify read %s: %w", path, err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("verify read %s: %w", path, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("verify %s: stored %d bytes differ from written %d bytes", path, len(got), len(want))
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/negotiations/2026-07.jsonl
//	archive/mandi_prices/2026-07.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is marshalled as a single compact JSON line followed by '\n'.
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
