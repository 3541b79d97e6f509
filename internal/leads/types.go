// Package leads defines the domain types and collaborator contracts shared
// across the lead harvesting pipeline.
package leads

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SourceKind classifies where a contact was observed.
type SourceKind string

// Source kinds persisted in the contacts table.
const (
	SourceInternal SourceKind = "internal"
	SourceExternal SourceKind = "external"
	SourceWayback  SourceKind = "wayback"
)

// ErrUnknownSourceKind is returned by ParseSourceKind for values outside the enumeration.
var ErrUnknownSourceKind = errors.New("unknown source kind")

// ParseSourceKind converts raw text into a SourceKind.
func ParseSourceKind(raw string) (SourceKind, error) {
	switch kind := SourceKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case SourceInternal, SourceExternal, SourceWayback:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceKind, raw)
	}
}

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceInternal, SourceExternal, SourceWayback:
		return true
	default:
		return false
	}
}

// Business is a listing discovered by the maps search.
type Business struct {
	ID                 string         `json:"id,omitempty"`
	Name               string         `json:"name"`
	Query              string         `json:"query"`
	Address            string         `json:"address,omitempty"`
	Phone              string         `json:"phone,omitempty"`
	Website            string         `json:"website,omitempty"`
	MapsURL            string         `json:"google_maps_url,omitempty"`
	Rating             *float64       `json:"rating,omitempty"`
	ReviewCount        *int           `json:"review_count,omitempty"`
	AdditionalMetadata map[string]any `json:"additional_metadata,omitempty"`
}

// BusinessKey identifies a business: the maps URL when present, else (name, query).
type BusinessKey struct {
	MapsURL string
	Name    string
	Query   string
}

// Key returns the identity of the business.
func (b Business) Key() BusinessKey {
	if b.MapsURL != "" {
		return BusinessKey{MapsURL: b.MapsURL}
	}
	return BusinessKey{Name: b.Name, Query: b.Query}
}

// IdentityKey is the five-part identity of a contact row.
type IdentityKey struct {
	BusinessName      string
	PersonName        string
	Position          string
	SourceKind        SourceKind
	SnapshotTimestamp string
}

// String renders the key for logs and error messages.
func (k IdentityKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.BusinessName, k.PersonName, k.Position, k.SourceKind, k.SnapshotTimestamp)
}

// ContactObservation is a single sighting of a person's contact details.
type ContactObservation struct {
	BusinessName      string     `json:"business_name" validate:"required"`
	PersonName        string     `json:"person_name" validate:"required"`
	Position          string     `json:"position,omitempty"`
	Emails            []string   `json:"emails"`
	PhoneNumbers      []string   `json:"phone_numbers"`
	SocialLinks       []string   `json:"social_links"`
	Location          string     `json:"location,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	SourceURL         string     `json:"source_url" validate:"required"`
	SourceKind        SourceKind `json:"source_type" validate:"required,oneof=internal external wayback"`
	SnapshotTimestamp string     `json:"snapshot_timestamp,omitempty"`
}

// Key returns the identity key of the observation.
func (o ContactObservation) Key() IdentityKey {
	return IdentityKey{
		BusinessName:      o.BusinessName,
		PersonName:        o.PersonName,
		Position:          o.Position,
		SourceKind:        o.SourceKind,
		SnapshotTimestamp: o.SnapshotTimestamp,
	}
}

// ContactRecord is the merged state of every observation sharing an identity key.
type ContactRecord struct {
	ID                string     `json:"id,omitempty"`
	BusinessName      string     `json:"business_name"`
	PersonName        string     `json:"person_name"`
	Position          string     `json:"position,omitempty"`
	Emails            []string   `json:"emails"`
	PhoneNumbers      []string   `json:"phone_numbers"`
	SocialLinks       []string   `json:"social_links"`
	Location          string     `json:"location,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	SourceURL         string     `json:"source_url"`
	SourceKind        SourceKind `json:"source_type"`
	SnapshotTimestamp string     `json:"snapshot_timestamp,omitempty"`
	CreatedAt         time.Time  `json:"-"`
	UpdatedAt         time.Time  `json:"-"`
}

// Key returns the identity key of the record.
func (r ContactRecord) Key() IdentityKey {
	return IdentityKey{
		BusinessName:      r.BusinessName,
		PersonName:        r.PersonName,
		Position:          r.Position,
		SourceKind:        r.SourceKind,
		SnapshotTimestamp: r.SnapshotTimestamp,
	}
}

// Clone returns a deep copy so callers can mutate slices safely.
func (r ContactRecord) Clone() ContactRecord {
	out := r
	out.Emails = append([]string(nil), r.Emails...)
	out.PhoneNumbers = append([]string(nil), r.PhoneNumbers...)
	out.SocialLinks = append([]string(nil), r.SocialLinks...)
	return out
}

// Snapshot is an archived copy of a page worth crawling.
type Snapshot struct {
	OriginalURL string
	SnapshotURL string
	Timestamp   string
}

// ScoredLink is a follow-up URL with a priority score.
type ScoredLink struct {
	URL   string
	Text  string
	Score float64
}

// PageRequest describes one page to extract contacts from.
type PageRequest struct {
	Business          Business
	URL               string
	Kind              SourceKind
	SnapshotTimestamp string
}

// PageResult is what the extraction collaborator returns for a URL.
type PageResult struct {
	Observations []ContactObservation
	Links        []ScoredLink
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// Link is an anchor discovered on a fetched page.
type Link struct {
	URL  string
	Text string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Links        []Link
	Duration     time.Duration
	UsedHeadless bool
}

// HarvestStatus represents the lifecycle state of a harvest job.
type HarvestStatus string

// Harvest status values.
const (
	HarvestQueued    HarvestStatus = "queued"
	HarvestRunning   HarvestStatus = "running"
	HarvestSucceeded HarvestStatus = "succeeded"
	HarvestFailed    HarvestStatus = "failed"
	HarvestCanceled  HarvestStatus = "canceled"
)

// Harvest is a single pipeline run submitted through the service API.
type Harvest struct {
	ID            string         `json:"id"`
	Query         string         `json:"query"`
	MaxBusinesses int            `json:"max_businesses,omitempty"`
	Status        HarvestStatus  `json:"status"`
	Submitted     time.Time      `json:"submitted_at"`
	Started       *time.Time     `json:"started_at,omitempty"`
	Finished      *time.Time     `json:"finished_at,omitempty"`
	ErrorText     string         `json:"error_text,omitempty"`
	Counters      HarvestCounter `json:"counters"`
}

// HarvestCounter tracks per-run totals.
type HarvestCounter struct {
	Businesses   int `json:"businesses"`
	Observations int `json:"observations"`
	Rejected     int `json:"rejected"`
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Failed       int `json:"failed"`
}

// Add folds another counter into c.
func (c *HarvestCounter) Add(other HarvestCounter) {
	c.Businesses += other.Businesses
	c.Observations += other.Observations
	c.Rejected += other.Rejected
	c.Inserted += other.Inserted
	c.Updated += other.Updated
	c.Failed += other.Failed
}

// HarvestResult maps business names to their merged contacts.
type HarvestResult struct {
	Query      string
	Businesses []Business
	Contacts   map[string][]ContactRecord
	Counters   HarvestCounter
}
