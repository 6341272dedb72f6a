package services

import (
	"context"
	"strings"

	"market-collector/models"
	"market-collector/observability"
)

// Chain runs an ordered list of Source Adapters with priority + fallback.
// The first adapter supplies the bulk of the record and its failure fails
// the entity; later adapters only fill fields still missing and their
// failures are downgraded to per-field fill errors, logged but never
// discarded silently.
type Chain struct {
	adapters []SourceAdapter
}

// NewChain creates a chain; adapters are tried in the given priority order.
func NewChain(adapters ...SourceAdapter) *Chain {
	return &Chain{adapters: adapters}
}

// Name returns the joined provider names, highest priority first
func (c *Chain) Name() string {
	names := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		names[i] = a.Name()
	}
	return strings.Join(names, ">")
}

// Fetch produces one merged result per entity.
func (c *Chain) Fetch(ctx context.Context, entity models.Entity) (*models.FetchResult, error) {
	var merged *models.FetchResult

	for i, adapter := range c.adapters {
		if merged != nil && merged.Quote != nil && !merged.Quote.NeedsFill() {
			break
		}

		res, err := adapter.Fetch(ctx, entity)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			observability.WithSymbol(entity.Symbol).Debug("secondary provider left fields unfilled",
				"provider", adapter.Name(),
				"class", string(ClassOf(err)),
				"error", err)
			merged.FillErrors = append(merged.FillErrors, err)
			continue
		}

		if merged == nil {
			merged = res
			continue
		}
		merged.Quote.MergeMissing(res.Quote)
		if len(merged.History) == 0 {
			merged.History = res.History
		}
	}

	return merged, nil
}
