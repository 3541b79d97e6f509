package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// UpsertBusinesses writes each business, keyed by maps URL when present and
// by (name, query) otherwise. Rediscovered rows are overwritten field by field.
func (s *Store) UpsertBusinesses(ctx context.Context, businesses []leads.Business) error {
	for _, b := range businesses {
		if err := s.upsertBusiness(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertBusiness(ctx context.Context, b leads.Business) error {
	if b.Name == "" {
		return fmt.Errorf("upsert business: name is required")
	}
	metadata := b.AdditionalMetadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", b.Name, err)
	}

	if b.MapsURL != "" {
		query := fmt.Sprintf(`
INSERT INTO %s (name, query, address, phone, website, google_maps_url, rating, review_count, additional_metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (google_maps_url) DO UPDATE SET
	name = EXCLUDED.name,
	query = EXCLUDED.query,
	address = EXCLUDED.address,
	phone = EXCLUDED.phone,
	website = EXCLUDED.website,
	rating = EXCLUDED.rating,
	review_count = EXCLUDED.review_count,
	additional_metadata = EXCLUDED.additional_metadata,
	updated_at = now()`, s.businessTable)
		if _, err := s.pool.Exec(ctx, query,
			b.Name, b.Query, b.Address, b.Phone, b.Website, b.MapsURL, b.Rating, b.ReviewCount, metadataJSON,
		); err != nil {
			return fmt.Errorf("upsert business %s: %w", b.Name, err)
		}
		return nil
	}

	// businesses_unlisted_name_query_key makes (name, query) unique for rows
	// without a maps URL.
	query := fmt.Sprintf(`
INSERT INTO %s (name, query, address, phone, website, rating, review_count, additional_metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (name, query) WHERE google_maps_url IS NULL DO UPDATE SET
	address = EXCLUDED.address,
	phone = EXCLUDED.phone,
	website = EXCLUDED.website,
	rating = EXCLUDED.rating,
	review_count = EXCLUDED.review_count,
	additional_metadata = EXCLUDED.additional_metadata,
	updated_at = now()`, s.businessTable)
	if _, err := s.pool.Exec(ctx, query,
		b.Name, b.Query, b.Address, b.Phone, b.Website, b.Rating, b.ReviewCount, metadataJSON,
	); err != nil {
		return fmt.Errorf("upsert business %s: %w", b.Name, err)
	}
	return nil
}
