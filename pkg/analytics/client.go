package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
	"github.com/rs/zerolog"
)

// Getter is the read side of the fetcher.
type Getter interface {
	Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
}

// Poster is the mutation side of the fetcher.
type Poster interface {
	Post(ctx context.Context, endpoint string, payload any) ([]byte, error)
}

// Transport is what the Client needs from a fetcher.Fetcher.
type Transport interface {
	Getter
	Poster
}

// Client is the typed API of the analytics service.
type Client struct {
	transport Transport
	logger    zerolog.Logger
}

// NewClient creates a Client over transport, normally a *fetcher.Fetcher.
func NewClient(transport Transport, logger zerolog.Logger) (*Client, error) {
	if transport == nil {
		return nil, errors.New("analytics transport cannot be nil")
	}
	return &Client{
		transport: transport,
		logger:    logger.With().Str("component", "AnalyticsClient").Logger(),
	}, nil
}

// Query is the querycache.QueryFunc for every read endpoint. It fetches key and
// returns the decoded entity value:
//
//	instagram/accounts, instagram/competitors   []Account
//	instagram/posts                             []Post
//	analysis/content/category-distribution      CategoryDistribution
//	analysis/sentiment/overview                 SentimentOverview
//	analysis/trends/latest                      TrendSnapshot
//	analysis/competitors/benchmark              CompetitorBenchmark
//	analysis/performance/engagement             EngagementPerformance
func (c *Client) Query(ctx context.Context, key querycache.Key) (any, error) {
	body, err := c.transport.Get(ctx, key.Endpoint, key.Values())
	if err != nil {
		return nil, err
	}
	switch key.Endpoint {
	case EndpointAccounts, EndpointCompetitors:
		return DecodeAccounts(key.Endpoint, body)
	case EndpointPosts:
		return DecodePosts(key.Endpoint, body, key.Param("account_username"))
	case EndpointCategoryDistribution:
		return DecodeCategoryDistribution(key.Endpoint, body)
	case EndpointSentimentOverview:
		return DecodeSentimentOverview(key.Endpoint, body, daysParam(key))
	case EndpointLatestTrends:
		return DecodeTrendSnapshot(key.Endpoint, body)
	case EndpointCompetitorBenchmark:
		return DecodeCompetitorBenchmark(key.Endpoint, body)
	case EndpointEngagementPerformance:
		return DecodeEngagementPerformance(key.Endpoint, body, daysParam(key))
	default:
		return nil, &fetcher.Failure{Kind: fetcher.KindClient, Endpoint: key.Endpoint, Err: errors.New("unknown read endpoint")}
	}
}

func daysParam(key querycache.Key) int {
	days, err := strconv.Atoi(key.Param("days"))
	if err != nil {
		return 0
	}
	return days
}

func read[T any](ctx context.Context, c *Client, key querycache.Key) (T, error) {
	v, err := c.Query(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *Client) Accounts(ctx context.Context, skip, limit int) ([]Account, error) {
	return read[[]Account](ctx, c, AccountsKey(skip, limit))
}

func (c *Client) Competitors(ctx context.Context) ([]Account, error) {
	return read[[]Account](ctx, c, CompetitorsKey())
}

func (c *Client) Posts(ctx context.Context, account, category string, limit int) ([]Post, error) {
	return read[[]Post](ctx, c, PostsKey(account, category, limit))
}

func (c *Client) CategoryDistribution(ctx context.Context, start, end *time.Time, account string) (CategoryDistribution, error) {
	return read[CategoryDistribution](ctx, c, CategoryDistributionKey(start, end, account))
}

func (c *Client) SentimentOverview(ctx context.Context, days int) (SentimentOverview, error) {
	return read[SentimentOverview](ctx, c, SentimentOverviewKey(days))
}

func (c *Client) LatestTrends(ctx context.Context) (TrendSnapshot, error) {
	return read[TrendSnapshot](ctx, c, LatestTrendsKey())
}

func (c *Client) CompetitorBenchmark(ctx context.Context, days int) (CompetitorBenchmark, error) {
	return read[CompetitorBenchmark](ctx, c, CompetitorBenchmarkKey(days))
}

func (c *Client) EngagementPerformance(ctx context.Context, days int, account string) (EngagementPerformance, error) {
	return read[EngagementPerformance](ctx, c, EngagementPerformanceKey(days, account))
}

// ScrapeAccounts queues a scrape of the given accounts.
func (c *Client) ScrapeAccounts(ctx context.Context, req ScrapeRequest) (ScrapeAccepted, error) {
	if err := req.Validate(); err != nil {
		return ScrapeAccepted{}, err
	}
	body, err := c.transport.Post(ctx, EndpointScrapeAccounts, req)
	if err != nil {
		return ScrapeAccepted{}, err
	}
	accepted, err := fetcher.Decode[ScrapeAccepted](EndpointScrapeAccounts, body, nil)
	if err != nil {
		return ScrapeAccepted{}, err
	}
	c.logger.Info().Strs("usernames", req.Usernames).Msg("Scrape queued.")
	return accepted, nil
}

// AnalyzeContent runs content analysis for one post.
func (c *Client) AnalyzeContent(ctx context.Context, postID string) error {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return &fetcher.Failure{Kind: fetcher.KindClient, Endpoint: EndpointAnalyzeContent, Err: errors.New("post id is required")}
	}
	endpoint := EndpointAnalyzeContent + "/" + url.PathEscape(postID)
	if _, err := c.transport.Post(ctx, endpoint, nil); err != nil {
		return err
	}
	c.logger.Info().Str("post_id", postID).Msg("Content analysis complete.")
	return nil
}

// GenerateTrends asks the service for a new trend analysis over period.
func (c *Client) GenerateTrends(ctx context.Context, period string) (TrendSnapshot, error) {
	if !ValidPeriod(period) {
		return TrendSnapshot{}, &fetcher.Failure{
			Kind:     fetcher.KindClient,
			Endpoint: EndpointGenerateTrends,
			Err:      fmt.Errorf("unknown analysis period %q", period),
		}
	}
	body, err := c.transport.Post(ctx, EndpointGenerateTrends, map[string]string{"analysis_period": period})
	if err != nil {
		return TrendSnapshot{}, err
	}
	return DecodeTrendSnapshot(EndpointGenerateTrends, body)
}

// Analysis periods accepted by GenerateTrends.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

func ValidPeriod(period string) bool {
	switch period {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// Validate checks a scrape request before it is sent and applies the service defaults.
func (r *ScrapeRequest) Validate() error {
	usernames := make([]string, 0, len(r.Usernames))
	for _, u := range r.Usernames {
		if u = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(u), "@")); u != "" {
			usernames = append(usernames, u)
		}
	}
	if len(usernames) == 0 {
		return &fetcher.Failure{Kind: fetcher.KindClient, Endpoint: EndpointScrapeAccounts, Err: errors.New("at least one username is required")}
	}
	r.Usernames = usernames
	if r.MaxPosts <= 0 {
		r.MaxPosts = DefaultPostsLimit
	}
	return nil
}
