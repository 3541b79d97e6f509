// Package extract turns fetched pages into contact observations and ranked
// follow-up links.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/llm"
)

// PeopleExtractor is the LLM collaborator.
type PeopleExtractor interface {
	ExtractPeople(ctx context.Context, req llm.PeopleRequest) ([]llm.Person, error)
}

// Extractor implements leads.PageExtractor.
type Extractor struct {
	fetcher  leads.Fetcher
	people   PeopleExtractor
	keywords []string
	logger   *zap.Logger
}

// New builds an Extractor.
func New(fetcher leads.Fetcher, people PeopleExtractor, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		fetcher:  fetcher,
		people:   people,
		keywords: ContactKeywords,
		logger:   logger.Named("extract"),
	}
}

// ExtractPage fetches req.URL, asks the model for the people on it and scores
// the page's links.
func (e *Extractor) ExtractPage(ctx context.Context, req leads.PageRequest) (leads.PageResult, error) {
	resp, err := e.fetcher.Fetch(ctx, leads.FetchRequest{URL: req.URL})
	if err != nil {
		return leads.PageResult{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	text, err := VisibleText(resp.Body)
	if err != nil {
		return leads.PageResult{}, err
	}

	people, err := e.people.ExtractPeople(ctx, llm.PeopleRequest{
		BusinessName: req.Business.Name,
		PageURL:      req.URL,
		Content:      text,
	})
	if err != nil {
		return leads.PageResult{}, fmt.Errorf("extract people from %s: %w", req.URL, err)
	}

	result := leads.PageResult{
		Observations: make([]leads.ContactObservation, 0, len(people)),
		Links:        ScoreLinks(resp.Links, e.keywords),
	}
	for _, p := range people {
		result.Observations = append(result.Observations, observation(req, p))
	}
	e.logger.Debug("page extracted",
		zap.String("url", req.URL),
		zap.String("kind", string(req.Kind)),
		zap.Int("people", len(people)),
		zap.Int("links", len(result.Links)),
	)
	return result, nil
}

func observation(req leads.PageRequest, p llm.Person) leads.ContactObservation {
	obs := leads.ContactObservation{
		BusinessName: req.Business.Name,
		PersonName:   p.FullName,
		Position:     p.Position,
		Emails:       p.Emails,
		PhoneNumbers: p.PhoneNumbers,
		SocialLinks:  p.SocialLinks,
		Location:     p.Location,
		Notes:        p.Notes,
		SourceURL:    req.URL,
		SourceKind:   req.Kind,
	}
	if req.Kind == leads.SourceWayback {
		obs.SnapshotTimestamp = req.SnapshotTimestamp
		obs.Notes = TagArchival(obs.Notes, req.SnapshotTimestamp)
	}
	return obs
}

// TagArchival marks notes with the snapshot they were sourced from.
func TagArchival(notes, timestamp string) string {
	if strings.TrimSpace(notes) == "" {
		return "Sourced from " + timestamp
	}
	return fmt.Sprintf("%s (sourced from %s)", notes, timestamp)
}
