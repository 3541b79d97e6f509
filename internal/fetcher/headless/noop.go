package headless

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// Noop implements leads.Fetcher for environments without a browser. Maps
// searches through it fail fast instead of hanging on a missing Chrome.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// ErrUnavailable is returned by Noop.Fetch.
var ErrUnavailable = errors.New("headless browser disabled")

// Fetch always fails with ErrUnavailable.
func (Noop) Fetch(_ context.Context, request leads.FetchRequest) (leads.FetchResponse, error) {
	return leads.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, ErrUnavailable)
}
