// Package merge reduces contact observations into deduplicated records and
// reconciles them against the persisted set.
//
// The engine is stateless between calls and performs no I/O: Reduce and
// Reconcile take in-memory collections and return new ones. Persistence, and
// the unique constraint that backs it, belong to the caller.
package merge

import (
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// Engine applies the merge rules under a fixed Policy.
type Engine struct {
	policy   Policy
	validate *validator.Validate
}

// Plan is the outcome of Reconcile: rows to insert and rows to update.
type Plan struct {
	Inserts []leads.ContactRecord
	Updates []leads.ContactRecord
}

// Empty reports whether the plan schedules no writes.
func (p Plan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0
}

// New constructs an Engine.
func New(policy Policy) *Engine {
	return &Engine{
		policy:   policy,
		validate: newValidator(),
	}
}

// Policy returns the engine's normalization policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Validate trims the identity fields of obs and checks the required ones.
// The returned observation is the canonical form used for keying.
func (e *Engine) Validate(obs leads.ContactObservation) (leads.ContactObservation, error) {
	obs.BusinessName = strings.TrimSpace(obs.BusinessName)
	obs.PersonName = strings.TrimSpace(obs.PersonName)
	obs.Position = strings.TrimSpace(obs.Position)
	obs.SourceURL = strings.TrimSpace(obs.SourceURL)
	obs.SnapshotTimestamp = strings.TrimSpace(obs.SnapshotTimestamp)

	if err := e.validate.Struct(obs); err != nil {
		return obs, toValidationError(0, obs.Key(), err)
	}
	if obs.SnapshotTimestamp != "" && obs.SourceKind != leads.SourceWayback {
		return obs, &ValidationError{
			Key:    obs.Key(),
			Fields: []string{"snapshot_timestamp"},
			Reason: "snapshot timestamp is only valid for wayback observations",
		}
	}
	return obs, nil
}

// Reduce groups observations by identity key and merges each group into a
// single record. Invalid observations are skipped and reported through a
// *BatchError; the records built from the valid ones are always returned.
// Output order follows the first appearance of each key.
func (e *Engine) Reduce(observations []leads.ContactObservation) ([]leads.ContactRecord, error) {
	type indexed struct {
		index int
		obs   leads.ContactObservation
	}
	ordered := make([]indexed, len(observations))
	for i, obs := range observations {
		ordered[i] = indexed{index: i, obs: obs}
	}
	if e.policy.StableOrder {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].obs.SourceURL < ordered[j].obs.SourceURL
		})
	}

	var (
		failures []*ValidationError
		order    []leads.IdentityKey
		groups   = make(map[leads.IdentityKey]*builder)
	)
	for _, item := range ordered {
		obs, err := e.Validate(item.obs)
		if err != nil {
			verr := err.(*ValidationError)
			verr.Index = item.index
			failures = append(failures, verr)
			continue
		}
		key := obs.Key()
		b, ok := groups[key]
		if !ok {
			b = e.newBuilder(leads.ContactRecord{
				BusinessName:      obs.BusinessName,
				PersonName:        obs.PersonName,
				Position:          obs.Position,
				SourceURL:         obs.SourceURL,
				SourceKind:        obs.SourceKind,
				SnapshotTimestamp: obs.SnapshotTimestamp,
			})
			groups[key] = b
			order = append(order, key)
		}
		b.absorb(obs.Emails, obs.PhoneNumbers, obs.SocialLinks)
		b.overrideScalars(obs.Position, obs.Location, obs.Notes)
	}

	records := make([]leads.ContactRecord, 0, len(order))
	for _, key := range order {
		records = append(records, groups[key].rec)
	}
	if len(failures) > 0 {
		return records, &BatchError{Failures: failures}
	}
	return records, nil
}

// Merge folds incoming into existing: contact details are unioned and
// non-empty incoming scalars override. The existing source URL and ID are
// kept. The bool reports whether the result differs from existing.
func (e *Engine) Merge(existing, incoming leads.ContactRecord) (leads.ContactRecord, bool) {
	b := e.newBuilder(existing.Clone())
	b.absorb(incoming.Emails, incoming.PhoneNumbers, incoming.SocialLinks)
	b.overrideScalars(incoming.Position, incoming.Location, incoming.Notes)
	if b.rec.SourceURL == "" {
		b.rec.SourceURL = incoming.SourceURL
	}
	return b.rec, !sameContent(existing, b.rec)
}

// Reconcile diffs incoming records against the persisted set. Records with
// no persisted counterpart are scheduled for insert; the rest are merged and
// scheduled for update only when the merge changes something.
func (e *Engine) Reconcile(existing, incoming []leads.ContactRecord) Plan {
	current := make(map[leads.IdentityKey]leads.ContactRecord, len(existing))
	for _, rec := range existing {
		key := canonical(rec).Key()
		if _, dup := current[key]; !dup {
			current[key] = rec
		}
	}

	var (
		plan      Plan
		insertIdx = make(map[leads.IdentityKey]int)
		updateIdx = make(map[leads.IdentityKey]int)
	)
	for _, rec := range incoming {
		rec = canonical(rec)
		key := rec.Key()
		if base, ok := current[key]; ok {
			merged, changed := e.Merge(base, rec)
			if !changed {
				continue
			}
			current[key] = merged
			if i, seen := updateIdx[key]; seen {
				plan.Updates[i] = merged
			} else {
				updateIdx[key] = len(plan.Updates)
				plan.Updates = append(plan.Updates, merged)
			}
			continue
		}
		if i, pending := insertIdx[key]; pending {
			plan.Inserts[i], _ = e.Merge(plan.Inserts[i], rec)
			continue
		}
		fresh, _ := e.Merge(leads.ContactRecord{
			ID:                rec.ID,
			BusinessName:      rec.BusinessName,
			PersonName:        rec.PersonName,
			Position:          rec.Position,
			SourceKind:        rec.SourceKind,
			SnapshotTimestamp: rec.SnapshotTimestamp,
		}, rec)
		insertIdx[key] = len(plan.Inserts)
		plan.Inserts = append(plan.Inserts, fresh)
	}
	return plan
}

// canonical trims the identity fields of rec the way Validate trims an
// observation, so keys built from records and observations agree.
func canonical(rec leads.ContactRecord) leads.ContactRecord {
	rec.BusinessName = strings.TrimSpace(rec.BusinessName)
	rec.PersonName = strings.TrimSpace(rec.PersonName)
	rec.Position = strings.TrimSpace(rec.Position)
	rec.SnapshotTimestamp = strings.TrimSpace(rec.SnapshotTimestamp)
	return rec
}

type builder struct {
	rec    leads.ContactRecord
	emails map[string]struct{}
	phones map[string]struct{}
	social map[string]struct{}
	phone  PhonePolicy
}

func (e *Engine) newBuilder(rec leads.ContactRecord) *builder {
	b := &builder{
		rec:    rec,
		emails: make(map[string]struct{}),
		phones: make(map[string]struct{}),
		social: make(map[string]struct{}),
		phone:  e.policy.Phone,
	}
	for _, v := range rec.Emails {
		b.emails[emailKey(v)] = struct{}{}
	}
	for _, v := range rec.PhoneNumbers {
		b.phones[b.phone.key(v)] = struct{}{}
	}
	for _, v := range rec.SocialLinks {
		b.social[socialKey(v)] = struct{}{}
	}
	if b.rec.Emails == nil {
		b.rec.Emails = []string{}
	}
	if b.rec.PhoneNumbers == nil {
		b.rec.PhoneNumbers = []string{}
	}
	if b.rec.SocialLinks == nil {
		b.rec.SocialLinks = []string{}
	}
	return b
}

func (b *builder) absorb(emails, phones, social []string) {
	b.rec.Emails = union(b.rec.Emails, b.emails, emails, emailKey)
	b.rec.PhoneNumbers = union(b.rec.PhoneNumbers, b.phones, phones, b.phone.key)
	b.rec.SocialLinks = union(b.rec.SocialLinks, b.social, social, socialKey)
}

func (b *builder) overrideScalars(position, location, notes string) {
	if strings.TrimSpace(position) != "" {
		b.rec.Position = strings.TrimSpace(position)
	}
	if strings.TrimSpace(location) != "" {
		b.rec.Location = location
	}
	if strings.TrimSpace(notes) != "" {
		b.rec.Notes = notes
	}
}

// union appends raw values whose comparison key is not yet in seen. Raw
// values are kept verbatim; blank entries carry no contact detail.
func union(dst []string, seen map[string]struct{}, values []string, key func(string) string) []string {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		k := key(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

func sameContent(a, b leads.ContactRecord) bool {
	return a.Position == b.Position &&
		a.Location == b.Location &&
		a.Notes == b.Notes &&
		a.SourceURL == b.SourceURL &&
		slices.Equal(a.Emails, b.Emails) &&
		slices.Equal(a.PhoneNumbers, b.PhoneNumbers) &&
		slices.Equal(a.SocialLinks, b.SocialLinks)
}
