package dashboard

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/eventbus"
)

// ScrapeAccounts queues a scrape and, once the service accepts it, invalidates the
// account, competitor and post reads here and on every peer.
func (d *Dashboard) ScrapeAccounts(ctx context.Context, req analytics.ScrapeRequest) (analytics.ScrapeAccepted, error) {
	accepted, err := d.client.ScrapeAccounts(ctx, req)
	if err != nil {
		return analytics.ScrapeAccepted{}, fmt.Errorf("scrape accounts: %w", err)
	}
	d.mutationSucceeded(ctx, analytics.MutationScrapeAccounts)
	return accepted, nil
}

// AnalyzeContent runs content analysis for a post and invalidates the post lists.
func (d *Dashboard) AnalyzeContent(ctx context.Context, postID string) error {
	if err := d.client.AnalyzeContent(ctx, postID); err != nil {
		return fmt.Errorf("analyze content: %w", err)
	}
	d.mutationSucceeded(ctx, analytics.MutationAnalyzeContent)
	return nil
}

// GenerateTrends asks for a new trend analysis and invalidates the latest trends.
func (d *Dashboard) GenerateTrends(ctx context.Context, period string) (analytics.TrendSnapshot, error) {
	snapshot, err := d.client.GenerateTrends(ctx, period)
	if err != nil {
		return analytics.TrendSnapshot{}, fmt.Errorf("generate trends: %w", err)
	}
	d.mutationSucceeded(ctx, analytics.MutationGenerateTrends)
	return snapshot, nil
}

// mutationSucceeded runs the local invalidation and tells the peers. A failed publish
// is logged, not returned.
func (d *Dashboard) mutationSucceeded(ctx context.Context, mutation string) {
	matched := d.invalidator.OnMutationSuccess(mutation)
	d.logger.Info().Str("mutation", mutation).Int("invalidated", matched).Msg("Mutation succeeded.")

	if d.bus == nil {
		return
	}
	event := eventbus.NewEvent(mutation, d.bus.Origin(), d.clock.Now())
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logger.Warn().Err(err).Str("mutation", mutation).Str("event_id", event.ID.String()).Msg("Failed to publish mutation event.")
	}
}

// onPeerEvent applies a mutation another instance ran.
func (d *Dashboard) onPeerEvent(_ context.Context, e eventbus.Event) {
	if len(d.invalidator.Patterns(e.MutationType)) == 0 {
		d.logger.Warn().Str("mutation", e.MutationType).Str("from", e.Origin).Msg("Ignoring event for unknown mutation.")
		return
	}
	matched := d.invalidator.OnMutationSuccess(e.MutationType)
	d.logger.Info().Str("mutation", e.MutationType).Str("from", e.Origin).Int("invalidated", matched).
		Msg("Applied peer mutation.")
}
