package microservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/dashboard"
	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/illmade-knight/go-dashsync/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDashboard records calls and answers with canned results.
type stubDashboard struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	filters  dashboard.Filters
	scrapes  []analytics.ScrapeRequest
	analyzed []string
	err      error
}

func (s *stubDashboard) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *stubDashboard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubDashboard) Panel(name string) (dashboard.PanelSnapshot, error) {
	for _, known := range dashboard.PanelNames() {
		if known == name {
			return dashboard.PanelSnapshot{
				Name:    name,
				Queries: []dashboard.QueryState{{Name: "competitors", Status: "fresh", HasData: true, Version: 2}},
				Views:   map[string]any{"competitors": map[string]int{"competitors": 2}},
			}, nil
		}
	}
	return dashboard.PanelSnapshot{}, fmt.Errorf("%w: %q", dashboard.ErrUnknownPanel, name)
}

func (s *stubDashboard) Panels() ([]dashboard.PanelSnapshot, error) {
	var out []dashboard.PanelSnapshot
	for _, name := range dashboard.PanelNames() {
		p, _ := s.Panel(name)
		out = append(out, p)
	}
	return out, nil
}

func (s *stubDashboard) Refresh(name string) (int, error) {
	if _, err := s.Panel(name); err != nil {
		return 0, err
	}
	return 3, nil
}

func (s *stubDashboard) Filters() dashboard.Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

func (s *stubDashboard) SetFilters(f dashboard.Filters) error {
	if f.TrendDays < 0 {
		return fmt.Errorf("trend days must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = f
	return nil
}

func (s *stubDashboard) ScrapeAccounts(_ context.Context, req analytics.ScrapeRequest) (analytics.ScrapeAccepted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return analytics.ScrapeAccepted{}, s.err
	}
	s.scrapes = append(s.scrapes, req)
	return analytics.ScrapeAccepted{Message: "queued", Usernames: req.Usernames}, nil
}

func (s *stubDashboard) AnalyzeContent(_ context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzed = append(s.analyzed, postID)
	return s.err
}

func (s *stubDashboard) GenerateTrends(_ context.Context, period string) (analytics.TrendSnapshot, error) {
	if !analytics.ValidPeriod(period) {
		return analytics.TrendSnapshot{}, &fetcher.Failure{Kind: fetcher.KindClient, Endpoint: analytics.EndpointGenerateTrends}
	}
	return analytics.TrendSnapshot{Period: period}, nil
}

func (s *stubDashboard) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func startServer(t *testing.T, dash microservice.Dashboard) (*microservice.DashboardServer, string) {
	t.Helper()
	server, err := microservice.NewDashboardServer(&microservice.BaseConfig{HTTPPort: ":0"}, dash, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return server, "http://localhost" + server.GetHTTPPort()
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestDashboardServer(t *testing.T) {
	stub := &stubDashboard{}
	_, base := startServer(t, stub)

	t.Run("Start starts the dashboard and marks the server ready", func(t *testing.T) {
		assert.True(t, stub.started)
		status, _ := get(t, base+"/readyz")
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("Panels", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, base+"/api/panels", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var panels []dashboard.PanelSnapshot
		require.NoError(t, json.Unmarshal(body, &panels))
		assert.Len(t, panels, 4)

		resp, body = do(t, http.MethodGet, base+"/api/panels/overview", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var panel dashboard.PanelSnapshot
		require.NoError(t, json.Unmarshal(body, &panel))
		assert.Equal(t, "overview", panel.Name)
		assert.Equal(t, uint64(2), panel.Queries[0].Version)

		resp, _ = do(t, http.MethodGet, base+"/api/panels/settings", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Refresh", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, base+"/api/panels/trends/refresh", nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.JSONEq(t, `{"refetched": 3}`, string(body))
	})

	t.Run("Filters round trip", func(t *testing.T) {
		resp, body := do(t, http.MethodPut, base+"/api/filters", map[string]any{"account": "51talkksa", "trend_days": 7})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"account": "51talkksa", "trend_days": 7}`, string(body))

		resp, body = do(t, http.MethodGet, base+"/api/filters", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"account": "51talkksa", "trend_days": 7}`, string(body))

		resp, _ = do(t, http.MethodPut, base+"/api/filters", map[string]any{"trend_days": -1})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = do(t, http.MethodPut, base+"/api/filters", map[string]any{"acount": "typo"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Mutations", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, base+"/api/mutations/scrape-accounts", map[string]any{"usernames": []string{"51talkksa"}})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.JSONEq(t, `{"message": "queued", "usernames": ["51talkksa"]}`, string(body))

		resp, _ = do(t, http.MethodPost, base+"/api/mutations/analyze-content/p1", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, []string{"p1"}, stub.analyzed)

		resp, body = do(t, http.MethodPost, base+"/api/mutations/generate-trends", map[string]string{"analysis_period": "weekly"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snapshot analytics.TrendSnapshot
		require.NoError(t, json.Unmarshal(body, &snapshot))
		assert.Equal(t, "weekly", snapshot.Period)

		resp, body = do(t, http.MethodPost, base+"/api/mutations/generate-trends", map[string]string{"analysis_period": "hourly"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), `"kind":"client"`)
	})

	t.Run("Upstream failures map to gateway statuses", func(t *testing.T) {
		testCases := []struct {
			name string
			err  error
			want int
		}{
			{"upstream rejects", &fetcher.Failure{Kind: fetcher.KindClient, Status: http.StatusUnprocessableEntity}, http.StatusUnprocessableEntity},
			{"upstream down", &fetcher.Failure{Kind: fetcher.KindServer, Status: http.StatusServiceUnavailable}, http.StatusBadGateway},
			{"unreachable", &fetcher.Failure{Kind: fetcher.KindNetwork}, http.StatusGatewayTimeout},
			{"bad payload", &fetcher.Failure{Kind: fetcher.KindValidation}, http.StatusBadGateway},
			{"not started", dashboard.ErrNotStarted, http.StatusServiceUnavailable},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				stub.setErr(fmt.Errorf("scrape accounts: %w", tc.err))
				t.Cleanup(func() { stub.setErr(nil) })

				resp, _ := do(t, http.MethodPost, base+"/api/mutations/scrape-accounts", map[string]any{"usernames": []string{"x"}})
				assert.Equal(t, tc.want, resp.StatusCode)
			})
		}
	})
}

func TestDashboardServer_Shutdown(t *testing.T) {
	stub := &stubDashboard{}
	server, err := microservice.NewDashboardServer(&microservice.BaseConfig{HTTPPort: ":0"}, stub, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))

	require.NoError(t, server.Shutdown(context.Background()))
	assert.True(t, stub.closed)

	_, err = microservice.NewDashboardServer(&microservice.BaseConfig{HTTPPort: ":0"}, nil, zerolog.Nop())
	assert.Error(t, err)
}
