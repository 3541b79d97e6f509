package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/export"
	"github.com/JakeFAU/leadharvest/internal/leads"
)

// Import backfills the stores from a decoded export. Each business is
// upserted under defaultQuery and its contacts go through the same
// reduce/reconcile path as a live run.
func (p *Pipeline) Import(ctx context.Context, backfill export.Backfill, defaultQuery string) (leads.HarvestCounter, error) {
	var counters leads.HarvestCounter
	if len(backfill.Businesses) == 0 {
		return counters, nil
	}

	businesses := make([]leads.Business, 0, len(backfill.Businesses))
	for _, name := range backfill.Businesses {
		businesses = append(businesses, leads.Business{Name: name, Query: defaultQuery})
	}
	if err := p.deps.Businesses.UpsertBusinesses(ctx, businesses); err != nil {
		return counters, fmt.Errorf("upsert imported businesses: %w", err)
	}
	counters.Businesses = len(businesses)

	for _, name := range backfill.Businesses {
		if err := ctx.Err(); err != nil {
			return counters, fmt.Errorf("import: %w", err)
		}
		_, c, err := p.mergeAndPersist(ctx, name, backfill.Observations[name])
		counters.Add(c)
		if err != nil {
			counters.Failed++
			p.logger.Error("import business failed", zap.String("business", name), zap.Error(err))
		}
	}
	p.logger.Info("import complete",
		zap.Int("businesses", counters.Businesses),
		zap.Int("observations", counters.Observations),
		zap.Int("inserted", counters.Inserted),
		zap.Int("updated", counters.Updated),
		zap.Int("rejected", counters.Rejected),
		zap.Int("fallbacks", backfill.Fallbacks),
	)
	return counters, nil
}
