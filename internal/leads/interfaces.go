package leads

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when an insert collides with an existing identity key.
	ErrDuplicateKey = errors.New("duplicate identity key")
	// ErrQueueClosed is returned by queues that no longer accept or yield work.
	ErrQueueClosed = errors.New("queue closed")
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BusinessFinder discovers businesses for a maps query.
type BusinessFinder interface {
	FindBusinesses(ctx context.Context, query string) ([]Business, error)
}

// PageExtractor turns a URL into contact observations and follow-up links.
type PageExtractor interface {
	ExtractPage(ctx context.Context, request PageRequest) (PageResult, error)
}

// SnapshotFinder lists archived snapshots of a website.
type SnapshotFinder interface {
	FindSnapshots(ctx context.Context, siteURL string) ([]Snapshot, error)
}

// BusinessStore persists business listings.
type BusinessStore interface {
	UpsertBusinesses(ctx context.Context, businesses []Business) error
}

// ContactStore persists merged contact records.
type ContactStore interface {
	ListContacts(ctx context.Context, businessName string) ([]ContactRecord, error)
	GetContact(ctx context.Context, key IdentityKey) (ContactRecord, error)
	InsertContact(ctx context.Context, record ContactRecord) (ContactRecord, error)
	UpdateContact(ctx context.Context, record ContactRecord) error
}

// HarvestStore tracks service-mode harvest jobs and their results.
type HarvestStore interface {
	CreateHarvest(ctx context.Context, harvest Harvest) error
	UpdateHarvest(ctx context.Context, id string, status HarvestStatus, errText string, counters HarvestCounter) error
	GetHarvest(ctx context.Context, id string) (Harvest, error)
	SaveResult(ctx context.Context, id string, contacts map[string][]ContactRecord) error
	GetResult(ctx context.Context, id string) (map[string][]ContactRecord, error)
}

// BlobStore writes export documents and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes harvest notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for harvest jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem wraps a harvest ready to run.
type QueueItem struct {
	HarvestID     string
	Query         string
	MaxBusinesses int
	Submitted     int64
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces harvest IDs.
type IDGenerator interface {
	NewID() (string, error)
}
