package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Person is one contact as returned by the model.
type Person struct {
	FullName     string   `json:"full_name"`
	Position     string   `json:"position"`
	Emails       []string `json:"emails"`
	PhoneNumbers []string `json:"phone_numbers"`
	SocialLinks  []string `json:"social_links"`
	Location     string   `json:"location"`
	Notes        string   `json:"notes"`
}

// PeopleRequest is the input for ExtractPeople.
type PeopleRequest struct {
	BusinessName string
	PageURL      string
	Content      string
}

const peopleSystemPrompt = `You extract person-level contact data from web pages.
Reply with a JSON object {"people": [...]} where each entry has the keys
full_name, position, emails, phone_numbers, social_links, location and notes.
Only include real people. Use empty strings or empty arrays for unknown values.`

// ExtractPeople asks the model for everyone mentioned in the page content.
func (c *Client) ExtractPeople(ctx context.Context, req PeopleRequest) ([]Person, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil
	}
	user := fmt.Sprintf(`You are researching staff members for %s.
Page: %s
Extract contact-level information for everyone mentioned on this page.
Focus on unique people, their roles, and any contact methods (emails, phone numbers, messaging links).
Ignore generic department phone numbers unless they are clearly tied to a specific person.
Ignore non-human entities.
Convert phone numbers to international format when possible.

%s`, req.BusinessName, req.PageURL, c.truncate(req.Content))

	raw, err := c.complete(ctx, "people", peopleSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	people, err := ParsePeople(raw)
	if err != nil {
		return nil, fmt.Errorf("parse people for %s: %w", req.PageURL, err)
	}
	return people, nil
}

// ParsePeople decodes {"people": [...]} or an array of such chunks. Entries
// without a name are kept so the merge engine rejects and reports them.
func ParsePeople(raw string) ([]Person, error) {
	type payload struct {
		People []Person `json:"people"`
	}
	raw = strings.TrimSpace(raw)
	var chunks []payload
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &chunks); err != nil {
			return nil, fmt.Errorf("decode people chunks: %w", err)
		}
	} else {
		var single payload
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			return nil, fmt.Errorf("decode people: %w", err)
		}
		chunks = append(chunks, single)
	}

	var out []Person
	for _, chunk := range chunks {
		out = append(out, chunk.People...)
	}
	return out, nil
}
