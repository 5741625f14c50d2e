package analytics_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeService is an httptest analytics service answering fixed bodies per path.
type fakeService struct {
	mu       sync.Mutex
	requests []recordedRequest
	bodies   map[string]string
	status   map[string]int
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	status, ok := s.status[r.URL.Path]
	payload := s.bodies[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func (s *fakeService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *fakeService) last() recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, svc *fakeService) *analytics.Client {
	t.Helper()
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	cfg := fetcher.DefaultConfig()
	cfg.BaseURL = server.URL + "/api"
	cfg.Timeout = 2 * time.Second
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	f, err := fetcher.New(cfg, server.Client(), zerolog.Nop())
	require.NoError(t, err)

	client, err := analytics.NewClient(f, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestClient_Query(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	svc := &fakeService{bodies: map[string]string{
		"/api/instagram/posts":                `[{"post_id": "p1", "engagement_rate": 0.05}]`,
		"/api/analysis/sentiment/overview":    `{"message": "nothing yet"}`,
		"/api/analysis/competitors/benchmark": `{"competitor_data": {}}`,
		"/api/analysis/trends/latest":         `{"analysis_date": "not a date"}`,
	}}
	client := newTestClient(t, svc)

	t.Run("Posts are requested with the normalized key parameters", func(t *testing.T) {
		data, err := client.Query(ctx, analytics.PostsKey("51talkksa", "", 0))

		require.NoError(t, err)
		posts, ok := data.([]analytics.Post)
		require.True(t, ok)
		assert.Equal(t, "51talkksa", posts[0].AccountUsername)
		assert.Equal(t, "account_username=51talkksa&limit=50", svc.last().Query)
	})

	t.Run("Sentiment defaults to a thirty day window", func(t *testing.T) {
		data, err := client.Query(ctx, analytics.SentimentOverviewKey(0))

		require.NoError(t, err)
		overview := data.(analytics.SentimentOverview)
		assert.True(t, overview.Empty)
		assert.Equal(t, 30, overview.PeriodDays)
		assert.Equal(t, "days=30", svc.last().Query)
	})

	t.Run("Typed reads share the dispatch", func(t *testing.T) {
		b, err := client.CompetitorBenchmark(ctx, 14)
		require.NoError(t, err)
		assert.Empty(t, b.Competitors)
		assert.Equal(t, "days=14", svc.last().Query)
	})

	t.Run("Invalid payloads surface as validation failures", func(t *testing.T) {
		_, err := client.LatestTrends(ctx)
		kind, ok := fetcher.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, fetcher.KindValidation, kind)
	})

	t.Run("Unknown endpoints are client failures", func(t *testing.T) {
		_, err := client.Query(ctx, querycache.NewKey("instagram/unknown", nil))
		kind, ok := fetcher.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, fetcher.KindClient, kind)
	})
}

func TestClient_Mutations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	svc := &fakeService{
		bodies: map[string]string{
			"/api/instagram/scrape-accounts": `{"message": "queued", "usernames": ["51talkksa"]}`,
			"/api/analysis/trends/generate":  `{"analysis_date": "2024-05-02T00:00:00", "analysis_period": "monthly"}`,
		},
	}
	client := newTestClient(t, svc)

	t.Run("Scrape sends the cleaned request body", func(t *testing.T) {
		accepted, err := client.ScrapeAccounts(ctx, analytics.ScrapeRequest{Usernames: []string{" @51talkksa ", ""}, IncludeComments: true})

		require.NoError(t, err)
		assert.Equal(t, []string{"51talkksa"}, accepted.Usernames)
		req := svc.last()
		assert.Equal(t, http.MethodPost, req.Method)
		var sent analytics.ScrapeRequest
		require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
		assert.Equal(t, analytics.ScrapeRequest{Usernames: []string{"51talkksa"}, MaxPosts: 50, IncludeComments: true}, sent)
	})

	t.Run("Scrape without usernames is rejected locally", func(t *testing.T) {
		before := svc.count()
		_, err := client.ScrapeAccounts(ctx, analytics.ScrapeRequest{Usernames: []string{"  "}})
		kind, _ := fetcher.KindOf(err)
		assert.Equal(t, fetcher.KindClient, kind)
		assert.Equal(t, before, svc.count())
	})

	t.Run("Analyze posts to the post path", func(t *testing.T) {
		require.NoError(t, client.AnalyzeContent(ctx, "p1"))
		assert.Equal(t, "/api/analysis/content/analyze/p1", svc.last().Path)
	})

	t.Run("Generate trends", func(t *testing.T) {
		trend, err := client.GenerateTrends(ctx, analytics.PeriodMonthly)
		require.NoError(t, err)
		assert.Equal(t, "monthly", trend.Period)
		assert.JSONEq(t, `{"analysis_period": "monthly"}`, svc.last().Body)

		_, err = client.GenerateTrends(ctx, "hourly")
		assert.Error(t, err)
	})
}

func TestRegisterInvalidations(t *testing.T) {
	rules := analytics.Invalidations()
	require.Len(t, rules, len(analytics.Mutations()))

	posts := analytics.PostsKey("51talkksa", "Education", 50)
	matches := func(mutation string, key querycache.Key) bool {
		for _, p := range rules[mutation] {
			if p.Matches(key) {
				return true
			}
		}
		return false
	}

	assert.True(t, matches(analytics.MutationScrapeAccounts, analytics.CompetitorsKey()))
	assert.True(t, matches(analytics.MutationScrapeAccounts, analytics.AccountsKey(0, 100)))
	assert.True(t, matches(analytics.MutationScrapeAccounts, posts))
	assert.False(t, matches(analytics.MutationScrapeAccounts, analytics.LatestTrendsKey()))
	assert.True(t, matches(analytics.MutationAnalyzeContent, posts))
	assert.False(t, matches(analytics.MutationAnalyzeContent, analytics.CompetitorsKey()))
	assert.True(t, matches(analytics.MutationGenerateTrends, analytics.LatestTrendsKey()))
	assert.False(t, matches(analytics.MutationGenerateTrends, analytics.SentimentOverviewKey(30)))
}
