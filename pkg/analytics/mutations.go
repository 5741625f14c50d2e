package analytics

import (
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
)

// Mutation types, as carried by invalidation rules and bus events.
const (
	MutationScrapeAccounts = "scrape-accounts"
	MutationAnalyzeContent = "analyze-content"
	MutationGenerateTrends = "generate-trends"
)

// Mutations lists every mutation type in a stable order.
func Mutations() []string {
	return []string{MutationScrapeAccounts, MutationAnalyzeContent, MutationGenerateTrends}
}

// Invalidations returns the reads each mutation makes stale. Prefix patterns cover
// every parameterization of an endpoint.
func Invalidations() map[string][]querycache.Pattern {
	return map[string][]querycache.Pattern{
		MutationScrapeAccounts: {
			querycache.Prefix(EndpointCompetitors),
			querycache.Prefix(EndpointAccounts),
			querycache.Prefix(EndpointPosts),
		},
		MutationAnalyzeContent: {
			querycache.Prefix(EndpointPosts),
		},
		MutationGenerateTrends: {
			querycache.Prefix(EndpointLatestTrends),
		},
	}
}

// RegisterInvalidations installs Invalidations on inv.
func RegisterInvalidations(inv *querycache.Invalidator) {
	for _, mutation := range Mutations() {
		inv.Register(mutation, Invalidations()[mutation]...)
	}
}
