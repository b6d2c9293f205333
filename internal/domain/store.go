package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AgreementStore persists agreement snapshots.
type AgreementStore interface {
	Upsert(ctx context.Context, a Agreement) error
	GetByID(ctx context.Context, id string) (Agreement, error)
	List(ctx context.Context, opts ListOpts) ([]Agreement, error)
	ListByStatus(ctx context.Context, status AgreementStatus, opts ListOpts) ([]Agreement, error)
	ListByProtocol(ctx context.Context, p Protocol, opts ListOpts) ([]Agreement, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the append-only event log.
type EventStore interface {
	Insert(ctx context.Context, e Event) error
	ListByAgreement(ctx context.Context, agreementID string, opts ListOpts) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Archiver writes terminal agreements and their event history to long-term
// storage. It returns the storage key of the written object.
type Archiver interface {
	ArchiveAgreement(ctx context.Context, a Agreement, events []Event) (string, error)
}
