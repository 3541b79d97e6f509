package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// BusinessRequest is the input for ExtractBusinesses.
type BusinessRequest struct {
	Query    string
	Fragment string
}

const businessSystemPrompt = `You parse Google Maps search result data.
Reply with a JSON object {"businesses": [...]} where each entry has the keys
name, address, phone, website, google_maps_url, rating, review_count and
additional_metadata (an object). Use null or omit unknown values.`

// ExtractBusinesses asks the model for the listings contained in a maps page fragment.
func (c *Client) ExtractBusinesses(ctx context.Context, req BusinessRequest) ([]leads.Business, error) {
	if strings.TrimSpace(req.Fragment) == "" {
		return nil, nil
	}
	user := fmt.Sprintf(`Query: %s
Google often embeds the structured results inside JavaScript variables such as
APP_INITIALIZATION_STATE; extract businesses from those data blobs even if the
listings are not visible in the markup. Prioritize the first 12 high-confidence
businesses. Give phone numbers in international format and complete listing URLs.
Put categories, highlights and opening hours in additional_metadata.
The content may be truncated.

%s`, req.Query, c.truncate(req.Fragment))

	raw, err := c.complete(ctx, "businesses", businessSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	businesses, err := ParseBusinesses(raw)
	if err != nil {
		return nil, fmt.Errorf("parse businesses for %q: %w", req.Query, err)
	}
	return businesses, nil
}

// ParseBusinesses decodes {"businesses": [...]}, [{"businesses": [...]}] or a
// bare array of listings. Entries that fail to decode or lack a name are skipped.
func ParseBusinesses(raw string) ([]leads.Business, error) {
	raw = strings.TrimSpace(raw)
	var entries []json.RawMessage
	if strings.HasPrefix(raw, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("decode businesses: %w", err)
		}
		entries = list
		if len(list) > 0 {
			var wrapped struct {
				Businesses []json.RawMessage `json:"businesses"`
			}
			if json.Unmarshal(list[0], &wrapped) == nil && wrapped.Businesses != nil {
				entries = wrapped.Businesses
			}
		}
	} else {
		var wrapped struct {
			Businesses []json.RawMessage `json:"businesses"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("decode businesses: %w", err)
		}
		entries = wrapped.Businesses
	}

	out := make([]leads.Business, 0, len(entries))
	for _, entry := range entries {
		var b leads.Business
		if err := json.Unmarshal(entry, &b); err != nil {
			continue
		}
		b.Name = strings.TrimSpace(b.Name)
		if b.Name == "" {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
