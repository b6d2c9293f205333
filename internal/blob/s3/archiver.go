package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// archiveRecord is the serialized form of an archived agreement: the final
// snapshot plus its full event history.
type archiveRecord struct {
	Agreement  domain.Agreement `json:"agreement"`
	Events     []domain.Event   `json:"events"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// Archiver implements domain.Archiver by serializing terminal agreements
// with their event logs and uploading them to blob storage.
//
// The primary store keeps its copy; the archive is a durable audit trail,
// not a migration.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveAgreement uploads the agreement and its events as a single JSON
// object at agreements/<protocol>/<id>.json and returns the key.
func (a *Archiver) ArchiveAgreement(ctx context.Context, ag domain.Agreement, events []domain.Event) (string, error) {
	rec := archiveRecord{
		Agreement:  ag,
		Events:     events,
		ArchivedAt: time.Now().UTC(),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return "", fmt.Errorf("s3blob: archive agreement %s marshal: %w", ag.ID, err)
	}

	key := archiveKey(ag)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf.Bytes()), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive agreement %s upload: %w", ag.ID, err)
	}
	return key, nil
}

// archiveKey builds the blob key for an archived agreement, partitioned by
// protocol.
//
//	agreements/payment_channel/7f0c....json
func archiveKey(ag domain.Agreement) string {
	return fmt.Sprintf("agreements/%s/%s.json", ag.Protocol, ag.ID)
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
