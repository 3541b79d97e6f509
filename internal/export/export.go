// Package export reads and writes the JSON lead document: an object keyed by
// business name whose values are arrays of contacts.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// ContentType is the MIME type of exported documents.
const ContentType = "application/json"

// Document maps business names to their merged contacts.
type Document map[string][]leads.ContactRecord

// Count returns the total number of contacts in the document.
func (d Document) Count() int {
	n := 0
	for _, contacts := range d {
		n += len(contacts)
	}
	return n
}

// Write encodes doc as indented JSON. Businesses without contacts are
// written as empty arrays.
func Write(w io.Writer, doc Document) error {
	out := make(map[string][]leads.ContactRecord, len(doc))
	for business, contacts := range doc {
		if contacts == nil {
			contacts = []leads.ContactRecord{}
		}
		out[business] = contacts
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// Store writes doc to blobs at path and returns the object URI.
func Store(ctx context.Context, blobs leads.BlobStore, path string, doc Document) (string, error) {
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		return "", err
	}
	uri, err := blobs.PutObject(ctx, path, ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store export %s: %w", path, err)
	}
	return uri, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// ObjectPath builds "<prefix>/<query-slug>/<timestamp>.json".
func ObjectPath(prefix, query string, at time.Time) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(query), "-"), "-")
	if slug == "" {
		slug = "query"
	}
	name := fmt.Sprintf("%s/%s.json", slug, at.UTC().Format("20060102T150405Z"))
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		return prefix + "/" + name
	}
	return name
}

// Backfill is a decoded export ready to be re-ingested.
type Backfill struct {
	// Businesses lists the document's business names in sorted order.
	Businesses   []string
	Observations map[string][]leads.ContactObservation
	// Fallbacks counts entries whose source_type was unknown and was read as internal.
	Fallbacks int
}

type entry struct {
	PersonName        string   `json:"person_name"`
	Position          string   `json:"position"`
	Emails            []string `json:"emails"`
	PhoneNumbers      []string `json:"phone_numbers"`
	SocialLinks       []string `json:"social_links"`
	Location          string   `json:"location"`
	Notes             string   `json:"notes"`
	SourceURL         string   `json:"source_url"`
	SourceType        string   `json:"source_type"`
	SnapshotTimestamp string   `json:"snapshot_timestamp"`
}

// Read decodes an export document. The top level must be an object keyed by
// business name; a null value is treated as no contacts. Missing source
// types default to internal and unknown ones fall back to internal with a
// warning.
func Read(r io.Reader, logger *zap.Logger) (Backfill, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var raw map[string][]entry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Backfill{}, fmt.Errorf("decode export: leads JSON must be an object keyed by business name: %w", err)
	}

	out := Backfill{
		Businesses:   make([]string, 0, len(raw)),
		Observations: make(map[string][]leads.ContactObservation, len(raw)),
	}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		// names are trimmed so they match the keys Reduce produces
		business := strings.TrimSpace(key)
		if business == "" {
			logger.Warn("skipping entries without a business name", zap.Int("entries", len(raw[key])))
			continue
		}
		if _, seen := out.Observations[business]; !seen {
			out.Businesses = append(out.Businesses, business)
		}
		entries := raw[key]
		observations := make([]leads.ContactObservation, 0, len(entries))
		for i, e := range entries {
			kind := leads.SourceInternal
			if strings.TrimSpace(e.SourceType) != "" {
				parsed, err := leads.ParseSourceKind(e.SourceType)
				if err != nil {
					out.Fallbacks++
					logger.Warn("unknown source type, using internal",
						zap.String("business", business),
						zap.Int("entry", i),
						zap.String("source_type", e.SourceType),
					)
				} else {
					kind = parsed
				}
			}
			obs := leads.ContactObservation{
				BusinessName: business,
				PersonName:   strings.TrimSpace(e.PersonName),
				Position:     e.Position,
				Emails:       e.Emails,
				PhoneNumbers: e.PhoneNumbers,
				SocialLinks:  e.SocialLinks,
				Location:     e.Location,
				Notes:        e.Notes,
				SourceURL:    e.SourceURL,
				SourceKind:   kind,
			}
			if kind == leads.SourceWayback {
				obs.SnapshotTimestamp = e.SnapshotTimestamp
			}
			observations = append(observations, obs)
		}
		out.Observations[business] = append(out.Observations[business], observations...)
	}
	sort.Strings(out.Businesses)
	return out, nil
}
