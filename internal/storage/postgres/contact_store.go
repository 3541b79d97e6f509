package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

const uniqueViolation = "23505"

const contactColumns = `id::text, business_name, person_name, position, emails, phone_numbers, social_links,
	location, notes, source_url, source_type, snapshot_timestamp, created_at, updated_at`

// ListContacts returns every persisted contact of a business.
func (s *Store) ListContacts(ctx context.Context, businessName string) ([]leads.ContactRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE business_name = $1 ORDER BY created_at, id`,
		contactColumns, s.contactTable)
	rows, err := s.pool.Query(ctx, query, businessName)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []leads.ContactRecord
	for rows.Next() {
		rec, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return out, nil
}

// GetContact loads the row holding key.
func (s *Store) GetContact(ctx context.Context, key leads.IdentityKey) (leads.ContactRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE business_name = $1 AND person_name = $2 AND position = $3 AND source_type = $4 AND snapshot_timestamp = $5`,
		contactColumns, s.contactTable)
	rec, err := scanContact(s.pool.QueryRow(ctx, query,
		key.BusinessName, key.PersonName, key.Position, string(key.SourceKind), key.SnapshotTimestamp,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return leads.ContactRecord{}, fmt.Errorf("contact %s: %w", key, leads.ErrNotFound)
		}
		return leads.ContactRecord{}, fmt.Errorf("get contact %s: %w", key, err)
	}
	return rec, nil
}

// InsertContact creates a row. A concurrent row with the same identity key
// yields leads.ErrDuplicateKey.
func (s *Store) InsertContact(ctx context.Context, rec leads.ContactRecord) (leads.ContactRecord, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (business_name, person_name, position, emails, phone_numbers, social_links,
	location, notes, source_url, source_type, snapshot_timestamp)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id::text, created_at, updated_at`, s.contactTable)
	err := s.pool.QueryRow(ctx, query,
		rec.BusinessName, rec.PersonName, rec.Position,
		nonNil(rec.Emails), nonNil(rec.PhoneNumbers), nonNil(rec.SocialLinks),
		rec.Location, rec.Notes, rec.SourceURL, string(rec.SourceKind), rec.SnapshotTimestamp,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return leads.ContactRecord{}, fmt.Errorf("insert contact %s: %w", rec.Key(), leads.ErrDuplicateKey)
		}
		return leads.ContactRecord{}, fmt.Errorf("insert contact %s: %w", rec.Key(), err)
	}
	return rec, nil
}

// UpdateContact overwrites the mutable fields of the row holding rec's key.
func (s *Store) UpdateContact(ctx context.Context, rec leads.ContactRecord) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	emails = $6,
	phone_numbers = $7,
	social_links = $8,
	location = $9,
	notes = $10,
	source_url = $11,
	updated_at = now()
WHERE business_name = $1 AND person_name = $2 AND position = $3 AND source_type = $4 AND snapshot_timestamp = $5`,
		s.contactTable)
	tag, err := s.pool.Exec(ctx, query,
		rec.BusinessName, rec.PersonName, rec.Position, string(rec.SourceKind), rec.SnapshotTimestamp,
		nonNil(rec.Emails), nonNil(rec.PhoneNumbers), nonNil(rec.SocialLinks),
		rec.Location, rec.Notes, rec.SourceURL,
	)
	if err != nil {
		return fmt.Errorf("update contact %s: %w", rec.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update contact %s: %w", rec.Key(), leads.ErrNotFound)
	}
	return nil
}

func scanContact(row pgx.Row) (leads.ContactRecord, error) {
	var (
		rec  leads.ContactRecord
		kind string
	)
	err := row.Scan(
		&rec.ID,
		&rec.BusinessName,
		&rec.PersonName,
		&rec.Position,
		&rec.Emails,
		&rec.PhoneNumbers,
		&rec.SocialLinks,
		&rec.Location,
		&rec.Notes,
		&rec.SourceURL,
		&kind,
		&rec.SnapshotTimestamp,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return leads.ContactRecord{}, err
	}
	rec.SourceKind = leads.SourceKind(kind)
	return rec, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
