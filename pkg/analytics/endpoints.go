package analytics

import (
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/querycache"
)

// Read endpoints, relative to the service's API root.
const (
	EndpointAccounts              = "instagram/accounts"
	EndpointCompetitors           = "instagram/competitors"
	EndpointPosts                 = "instagram/posts"
	EndpointCategoryDistribution  = "analysis/content/category-distribution"
	EndpointSentimentOverview     = "analysis/sentiment/overview"
	EndpointLatestTrends          = "analysis/trends/latest"
	EndpointCompetitorBenchmark   = "analysis/competitors/benchmark"
	EndpointEngagementPerformance = "analysis/performance/engagement"
)

// Mutation endpoints.
const (
	EndpointScrapeAccounts = "instagram/scrape-accounts"
	EndpointAnalyzeContent = "analysis/content/analyze"
	EndpointGenerateTrends = "analysis/trends/generate"
)

// Defaults used by the service when a parameter is left out.
const (
	DefaultPostsLimit    = 50
	DefaultAccountsLimit = 100
	DefaultPeriodDays    = 30
)

// AccountsKey addresses one page of tracked accounts.
func AccountsKey(skip, limit int) querycache.Key {
	return querycache.NewKey(EndpointAccounts, querycache.Params{"skip": skip, "limit": limit})
}

// CompetitorsKey addresses the competitor list.
func CompetitorsKey() querycache.Key {
	return querycache.NewKey(EndpointCompetitors, nil)
}

// PostsKey addresses the post list. An empty account or category is not sent.
func PostsKey(account, category string, limit int) querycache.Key {
	if limit <= 0 {
		limit = DefaultPostsLimit
	}
	return querycache.NewKey(EndpointPosts, querycache.Params{
		"account_username": account,
		"content_category": category,
		"limit":            limit,
	})
}

// CategoryDistributionKey addresses the category counts, optionally limited to a
// date window and an account.
func CategoryDistributionKey(start, end *time.Time, account string) querycache.Key {
	return querycache.NewKey(EndpointCategoryDistribution, querycache.Params{
		"start_date":       start,
		"end_date":         end,
		"account_username": account,
	})
}

// SentimentOverviewKey addresses the sentiment overview for the last days.
func SentimentOverviewKey(days int) querycache.Key {
	return querycache.NewKey(EndpointSentimentOverview, querycache.Params{"days": periodDays(days)})
}

// LatestTrendsKey addresses the most recent trend snapshot.
func LatestTrendsKey() querycache.Key {
	return querycache.NewKey(EndpointLatestTrends, nil)
}

// CompetitorBenchmarkKey addresses the benchmark over the last days.
func CompetitorBenchmarkKey(days int) querycache.Key {
	return querycache.NewKey(EndpointCompetitorBenchmark, querycache.Params{"days": periodDays(days)})
}

// EngagementPerformanceKey addresses engagement by category, optionally for one account.
func EngagementPerformanceKey(days int, account string) querycache.Key {
	return querycache.NewKey(EndpointEngagementPerformance, querycache.Params{
		"days":             periodDays(days),
		"account_username": account,
	})
}

func periodDays(days int) int {
	if days <= 0 {
		return DefaultPeriodDays
	}
	return days
}
