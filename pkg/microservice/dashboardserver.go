package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/dashboard"
	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/rs/zerolog"
)

const maxRequestBytes = 1 << 20

// Dashboard is what the server needs from *dashboard.Dashboard.
type Dashboard interface {
	Start(ctx context.Context) error
	Close() error
	Panel(name string) (dashboard.PanelSnapshot, error)
	Panels() ([]dashboard.PanelSnapshot, error)
	Refresh(name string) (int, error)
	Filters() dashboard.Filters
	SetFilters(f dashboard.Filters) error
	ScrapeAccounts(ctx context.Context, req analytics.ScrapeRequest) (analytics.ScrapeAccepted, error)
	AnalyzeContent(ctx context.Context, postID string) error
	GenerateTrends(ctx context.Context, period string) (analytics.TrendSnapshot, error)
}

// DashboardServer serves the dashboard over HTTP:
//
//	GET  /api/panels                          every panel
//	GET  /api/panels/{name}                   one panel
//	POST /api/panels/{name}/refresh           refetch a panel's queries
//	GET  /api/filters, PUT /api/filters       filter selections
//	POST /api/mutations/scrape-accounts       {usernames, max_posts, include_comments}
//	POST /api/mutations/analyze-content/{id}
//	POST /api/mutations/generate-trends       {analysis_period}
type DashboardServer struct {
	*BaseServer
	dash   Dashboard
	logger zerolog.Logger
}

var _ Service = (*DashboardServer)(nil)

// NewDashboardServer registers the dashboard routes on a new base server.
func NewDashboardServer(cfg *BaseConfig, dash Dashboard, logger zerolog.Logger) (*DashboardServer, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if dash == nil {
		return nil, errors.New("dashboard cannot be nil")
	}
	s := &DashboardServer{
		BaseServer: NewBaseServer(logger, cfg.HTTPPort),
		dash:       dash,
		logger:     logger.With().Str("component", "DashboardServer").Logger(),
	}
	mux := s.Mux()
	mux.HandleFunc("GET /api/panels", s.handlePanels)
	mux.HandleFunc("GET /api/panels/{name}", s.handlePanel)
	mux.HandleFunc("POST /api/panels/{name}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/filters", s.handleGetFilters)
	mux.HandleFunc("PUT /api/filters", s.handleSetFilters)
	mux.HandleFunc("POST /api/mutations/scrape-accounts", s.handleScrape)
	mux.HandleFunc("POST /api/mutations/analyze-content/{id}", s.handleAnalyze)
	mux.HandleFunc("POST /api/mutations/generate-trends", s.handleGenerateTrends)
	return s, nil
}

// Start starts the dashboard, then the HTTP server.
func (s *DashboardServer) Start(ctx context.Context) error {
	if err := s.dash.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dashboard: %w", err)
	}
	if err := s.BaseServer.Start(); err != nil {
		_ = s.dash.Close()
		return err
	}
	s.SetReady(true)
	return nil
}

// Shutdown stops the HTTP server, then releases the dashboard.
func (s *DashboardServer) Shutdown(ctx context.Context) error {
	err := s.BaseServer.Shutdown(ctx)
	if closeErr := s.dash.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps dashboard and upstream failures onto HTTP statuses.
func (s *DashboardServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var failure *fetcher.Failure
	switch {
	case errors.Is(err, dashboard.ErrUnknownPanel):
		status = http.StatusNotFound
	case errors.Is(err, dashboard.ErrNotStarted):
		status = http.StatusServiceUnavailable
	case errors.As(err, &failure):
		resp.Kind = failure.Kind.String()
		switch failure.Kind {
		case fetcher.KindClient:
			status = http.StatusBadRequest
			if failure.Status >= 400 && failure.Status < 500 {
				status = failure.Status
			}
		case fetcher.KindNetwork:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusBadGateway
		}
	}
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed.")
	}
	writeJSON(w, status, resp)
}

func (s *DashboardServer) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *DashboardServer) handlePanels(w http.ResponseWriter, r *http.Request) {
	panels, err := s.dash.Panels()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, panels)
}

func (s *DashboardServer) handlePanel(w http.ResponseWriter, r *http.Request) {
	panel, err := s.dash.Panel(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, panel)
}

func (s *DashboardServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.dash.Refresh(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"refetched": n})
}

func (s *DashboardServer) handleGetFilters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Filters())
}

func (s *DashboardServer) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var f dashboard.Filters
	if err := decodeBody(r, &f); err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.dash.SetFilters(f); err != nil {
		if errors.Is(err, dashboard.ErrNotStarted) {
			s.writeError(w, r, err)
			return
		}
		s.badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dash.Filters())
}

func (s *DashboardServer) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req analytics.ScrapeRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	accepted, err := s.dash.ScrapeAccounts(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *DashboardServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.AnalyzeContent(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleGenerateTrends(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Period string `json:"analysis_period"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	snapshot, err := s.dash.GenerateTrends(r.Context(), req.Period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
