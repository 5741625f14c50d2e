package dashboard_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/dashboard"
	"github.com/illmade-knight/go-dashsync/pkg/eventbus"
	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
	"github.com/illmade-knight/go-dashsync/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	competitorsBody = `[
		{"username": "51talkksa", "followers_count": 1000, "posts_count": 10, "avg_engagement_rate": 0.032,
		 "content_category_distribution": {"Education": 5, "Promotion": 3}},
		{"username": "novakid_mena", "followers_count": 500, "posts_count": 4, "avg_engagement_rate": 0.061}
	]`
	postsBody = `[
		{"post_id": "p1", "account_username": "51talkksa", "content_category": "Education", "media_type": "video",
		 "likes_count": 100, "comments_count": 10, "engagement_rate": 0.06, "posted_at": "2024-05-01T09:00:00Z",
		 "sentiment_score": 0.4},
		{"post_id": "p2", "account_username": "novakid_mena", "content_category": "Promotion", "media_type": "image",
		 "likes_count": 40, "comments_count": 2, "engagement_rate": 0.02, "posted_at": "2024-05-02T09:00:00Z"}
	]`
	sentimentBody = `{"period_days": 30, "total_analyses": 4,
		"sentiment_distribution": {"positive": 2, "neutral": 1, "negative": 1},
		"average_sentiment_score": 0.2, "overall_sentiment": "positive"}`
	categoriesBody = `{"total_posts": 8, "category_distribution": {"Education": 5, "Promotion": 3}}`
	trendsBody = `{"analysis_date": "2024-05-02T00:00:00Z", "analysis_period": "weekly",
		"trending_hashtags": {"#learn": 12, "#english": 7},
		"engagement_trends": {"2024-05-01": 0.03},
		"engagement_by_category": {"Education": 0.04}}`
	benchmarkBody = `{"benchmark_name": "Q2", "analysis_period": "30 days", "avg_engagement_rate": 0.04,
		"competitor_data": {
			"51talkksa": {"followers_count": 1000, "avg_engagement_rate": 0.032, "total_posts": 10, "content_diversity": 2},
			"novakid_mena": {"followers_count": 500, "avg_engagement_rate": 0.061, "total_posts": 4, "content_diversity": 1}
		}}`
	performanceBody = `{"period_days": 30, "total_posts": 14, "average_engagement_rate": 0.03,
		"engagement_by_category": {"Education": 0.04, "Promotion": 0.01}, "best_performing_category": "Education"}`
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
}

// fakeService is an httptest analytics service with fixed bodies per path.
type fakeService struct {
	mu       sync.Mutex
	requests []recordedRequest
	bodies   map[string]string
	status   map[string]int
	gates    map[string]chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		bodies: map[string]string{
			"/api/instagram/competitors":                  competitorsBody,
			"/api/instagram/posts":                        postsBody,
			"/api/analysis/sentiment/overview":            sentimentBody,
			"/api/analysis/content/category-distribution": categoriesBody,
			"/api/analysis/trends/latest":                 trendsBody,
			"/api/analysis/competitors/benchmark":         benchmarkBody,
			"/api/analysis/performance/engagement":        performanceBody,
			"/api/instagram/scrape-accounts":              `{"message": "queued", "usernames": ["51talkksa"]}`,
			"/api/analysis/trends/generate":               trendsBody,
			"/api/analysis/content/analyze/p1":            `{"status": "done"}`,
		},
		status: map[string]int{},
		gates:  map[string]chan struct{}{},
	}
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
	status, ok := s.status[r.URL.Path]
	body := s.bodies[r.URL.Path]
	gate := s.gates[r.URL.Path]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if !ok {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *fakeService) setStatus(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status["/api/"+path] = status
}

func (s *fakeService) setBody(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies["/api/"+path] = body
}

// hold blocks every later request to path until the returned release is called.
func (s *fakeService) hold(t *testing.T, path string) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates["/api/"+path] = gate
	s.mu.Unlock()
	var once sync.Once
	release = func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, "/api/"+path)
			s.mu.Unlock()
			close(gate)
		})
	}
	t.Cleanup(release)
	return release
}

// count returns how many requests hit path.
func (s *fakeService) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Path == "/api/"+path {
			n++
		}
	}
	return n
}

// queries returns the query strings sent to path, in order.
func (s *fakeService) queries(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.requests {
		if r.Path == "/api/"+path {
			out = append(out, r.Query)
		}
	}
	return out
}

type harness struct {
	dash  *dashboard.Dashboard
	cache *querycache.Cache
	clock *clockwork.FakeClock
}

// newHarness builds and starts a dashboard over the fake service. A nil hub runs
// without an event bus.
func newHarness(t *testing.T, svc *fakeService, hub *eventbus.Hub, origin string) *harness {
	t.Helper()
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	fcfg := fetcher.DefaultConfig()
	fcfg.BaseURL = server.URL + "/api"
	fcfg.Timeout = 2 * time.Second
	fcfg.MaxRetries = 1
	fcfg.InitialBackoff = time.Millisecond
	fcfg.MaxBackoff = 5 * time.Millisecond
	f, err := fetcher.New(fcfg, server.Client(), zerolog.Nop())
	require.NoError(t, err)
	client, err := analytics.NewClient(f, zerolog.Nop())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	sched := scheduler.New(clock, zerolog.Nop())
	cache, err := querycache.New(&querycache.Config{DefaultTTL: time.Hour, RetainFor: time.Minute}, client.Query, sched, clock, zerolog.Nop())
	require.NoError(t, err)

	var bus eventbus.Bus
	if hub != nil {
		mem := eventbus.NewInMemoryBus(hub, origin, zerolog.Nop())
		t.Cleanup(func() { _ = mem.Close() })
		bus = mem
	}

	dash, err := dashboard.New(dashboard.DefaultConfig(), cache, client, bus, clock, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dash.Close()
		_ = cache.Close()
		sched.Stop()
	})
	require.NoError(t, dash.Start(context.Background()))
	return &harness{dash: dash, cache: cache, clock: clock}
}

// view waits until the panel has the named view and returns it.
func (h *harness) view(t *testing.T, panel, name string) any {
	t.Helper()
	var v any
	require.Eventually(t, func() bool {
		snap, err := h.dash.Panel(panel)
		if err != nil {
			return false
		}
		v = snap.Views[name]
		return v != nil
	}, 5*time.Second, 10*time.Millisecond, "view %s/%s never appeared", panel, name)
	return v
}

// query returns the state of a panel query, if the panel has subscribed it.
func (h *harness) query(panel, name string) (dashboard.QueryState, bool) {
	snap, err := h.dash.Panel(panel)
	if err != nil {
		return dashboard.QueryState{}, false
	}
	for _, q := range snap.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return dashboard.QueryState{}, false
}

// waitQuery waits until a panel query satisfies cond.
func (h *harness) waitQuery(t *testing.T, panel, name string, cond func(dashboard.QueryState) bool) dashboard.QueryState {
	t.Helper()
	var qs dashboard.QueryState
	require.Eventually(t, func() bool {
		var ok bool
		qs, ok = h.query(panel, name)
		return ok && cond(qs)
	}, 5*time.Second, 10*time.Millisecond, "query %s/%s never reached the expected state", panel, name)
	return qs
}

func settled(qs dashboard.QueryState) bool {
	return qs.HasData && !qs.Loading && qs.Status == "fresh"
}
