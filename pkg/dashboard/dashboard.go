// Package dashboard composes the query cache, the analytics client and the event bus
// into the panels of the competitor dashboard. Each panel holds long-lived
// subscriptions; its views are derived from cached data and rebuilt only when that
// data changes.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/aggregate"
	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/eventbus"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownPanel is returned for a panel name outside PanelNames.
	ErrUnknownPanel = errors.New("unknown panel")
	// ErrNotStarted is returned by operations that need Start to have run.
	ErrNotStarted = errors.New("dashboard not started")
)

// Filters are the user's selections. Zero values mean "no filter".
type Filters struct {
	Account  string `json:"account,omitempty"`
	Category string `json:"category,omitempty"`
	// Start and End bound the competitor benchmark and the content category counts.
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	// TrendDays is the engagement performance window; zero uses the configured default.
	TrendDays int `json:"trend_days,omitempty"`
}

func (f Filters) normalized() (Filters, error) {
	f.Account = strings.TrimPrefix(strings.TrimSpace(f.Account), "@")
	f.Category = strings.TrimSpace(f.Category)
	if strings.EqualFold(f.Category, "all") {
		f.Category = ""
	}
	if f.TrendDays < 0 {
		return Filters{}, fmt.Errorf("trend days must not be negative, got %d", f.TrendDays)
	}
	if (f.Start == nil) != (f.End == nil) {
		return Filters{}, errors.New("a date range needs both start and end")
	}
	return f, nil
}

// BenchmarkDays converts the filter's date range into the benchmark window: the
// calendar days between start and end in loc, at least one. Without a range it
// returns the service default.
func BenchmarkDays(f Filters, loc *time.Location) int {
	if f.Start == nil || f.End == nil {
		return analytics.DefaultPeriodDays
	}
	days := aggregate.DaysBetween(*f.Start, *f.End, loc)
	if days < 1 {
		return 1
	}
	return days
}

// Dashboard owns the panels and the mutation runner.
type Dashboard struct {
	cfg         Config
	loc         *time.Location
	cache       *querycache.Cache
	client      *analytics.Client
	invalidator *querycache.Invalidator
	bus         eventbus.Bus
	clock       clockwork.Clock
	logger      zerolog.Logger

	// filterMu serializes filter changes; it is held across cache calls, which is
	// safe because panel listeners never take it.
	filterMu sync.Mutex

	mu      sync.Mutex
	filters Filters
	started bool
	closed  bool
	layout  *layout
}

// layout is the set of subscribed panels plus the sources that follow the filters.
type layout struct {
	panels map[string]*panel

	posts             *source
	contentCategories *source
	performance       *source
	benchmark         *source
}

// New creates a Dashboard. The bus may be nil, in which case mutations only
// invalidate locally.
func New(
	cfg *Config,
	cache *querycache.Cache,
	client *analytics.Client,
	bus eventbus.Bus,
	clock clockwork.Clock,
	logger zerolog.Logger,
) (*Dashboard, error) {
	if cfg == nil {
		return nil, errors.New("dashboard config cannot be nil")
	}
	if cache == nil {
		return nil, errors.New("query cache cannot be nil")
	}
	if client == nil {
		return nil, errors.New("analytics client cannot be nil")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}

	inv := querycache.NewInvalidator(cache, logger)
	analytics.RegisterInvalidations(inv)

	return &Dashboard{
		cfg:         *cfg,
		loc:         loc,
		cache:       cache,
		client:      client,
		invalidator: inv,
		bus:         bus,
		clock:       clock,
		logger:      logger.With().Str("component", "Dashboard").Logger(),
	}, nil
}

// Invalidator returns the dashboard's invalidation rules.
func (d *Dashboard) Invalidator() *querycache.Invalidator { return d.invalidator }

// Location is the timezone used for calendar days.
func (d *Dashboard) Location() *time.Location { return d.loc }

// Start subscribes every panel and begins listening for peer mutation events.
func (d *Dashboard) Start(ctx context.Context) error {
	d.filterMu.Lock()
	defer d.filterMu.Unlock()

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("dashboard already started")
	}
	if d.closed {
		d.mu.Unlock()
		return errors.New("dashboard closed")
	}
	d.started = true
	filters := d.filters
	d.mu.Unlock()

	l, err := d.buildPanels(filters)
	if err != nil {
		for _, p := range l.panels {
			p.close()
		}
		return err
	}

	d.mu.Lock()
	d.layout = l
	d.mu.Unlock()

	if d.bus != nil {
		if err := d.bus.Subscribe(ctx, d.onPeerEvent); err != nil {
			return fmt.Errorf("failed to subscribe to mutation events: %w", err)
		}
	}
	d.logger.Info().Strs("panels", PanelNames()).Msg("Dashboard started.")
	return nil
}

// newSource creates a panel source. Panel queries refetch in the background: a
// refetch of the same key keeps the current data until the response lands.
func (d *Dashboard) newSource(panelName, name string, opts ...querycache.Option) *source {
	return &source{
		name:     name,
		cache:    d.cache,
		opts:     append([]querycache.Option{querycache.WithKeepPreviousData()}, opts...),
		listener: d.listener(panelName, name),
	}
}

// buildPanels returns whatever panels it managed to subscribe, even on error, so the
// caller can release them.
func (d *Dashboard) buildPanels(f Filters) (*layout, error) {
	panels := make(map[string]*panel, 4)
	l := &layout{panels: panels}

	// Overview.
	competitors := d.newSource(PanelOverview, "competitors", querycache.WithRefetchInterval(d.cfg.OverviewRefetch))
	sentiment := d.newSource(PanelOverview, "sentiment")
	categories := d.newSource(PanelOverview, "categories")
	panels[PanelOverview] = &panel{
		name:    PanelOverview,
		sources: []*source{competitors, sentiment, categories},
		parts: []*viewPart{
			{name: "competitors", inputs: []*source{competitors}, build: competitorsView},
			{name: "sentiment", inputs: []*source{sentiment}, build: sentimentView},
			{name: "categories", inputs: []*source{categories}, build: categoriesView},
		},
	}
	if err := competitors.subscribe(analytics.CompetitorsKey()); err != nil {
		return l, err
	}
	if err := sentiment.subscribe(analytics.SentimentOverviewKey(d.cfg.SentimentDays)); err != nil {
		return l, err
	}
	if err := categories.subscribe(analytics.CategoryDistributionKey(nil, nil, "")); err != nil {
		return l, err
	}

	// Content.
	posts := d.newSource(PanelContent, "posts")
	contentCategories := d.newSource(PanelContent, "categories")
	panels[PanelContent] = &panel{
		name:    PanelContent,
		sources: []*source{posts, contentCategories},
		parts: []*viewPart{
			{name: "content", inputs: []*source{posts}, build: contentView(d.loc)},
			{name: "categories", inputs: []*source{contentCategories}, build: categoriesView},
		},
	}
	dep, err := querycache.NewDependentQuery(
		d.cache,
		analytics.CompetitorsKey(),
		derivePosts(d.cfg.PostsLimit),
		postsInput(f),
		d.listener(PanelContent, "posts"),
		d.logger,
		querycache.WithKeepPreviousData(),
	)
	if err != nil {
		return l, fmt.Errorf("failed to create posts query: %w", err)
	}
	posts.dep = dep
	if err := contentCategories.subscribe(analytics.CategoryDistributionKey(f.Start, f.End, f.Account)); err != nil {
		return l, err
	}

	// Trends.
	trends := d.newSource(PanelTrends, "trends", querycache.WithRefetchInterval(d.cfg.TrendsRefetch))
	performance := d.newSource(PanelTrends, "performance")
	panels[PanelTrends] = &panel{
		name:    PanelTrends,
		sources: []*source{trends, performance},
		parts: []*viewPart{
			{name: "trends", inputs: []*source{trends, performance}, build: trendsView},
		},
	}
	if err := trends.subscribe(analytics.LatestTrendsKey()); err != nil {
		return l, err
	}
	if err := performance.subscribe(d.performanceKey(f)); err != nil {
		return l, err
	}

	// Competitor.
	benchmark := d.newSource(PanelCompetitor, "benchmark")
	rivals := d.newSource(PanelCompetitor, "competitors")
	panels[PanelCompetitor] = &panel{
		name:    PanelCompetitor,
		sources: []*source{benchmark, rivals},
		parts: []*viewPart{
			{name: "benchmark", inputs: []*source{benchmark}, build: benchmarkView},
			{name: "competitors", inputs: []*source{rivals}, build: competitorsView},
		},
	}
	if err := benchmark.subscribe(analytics.CompetitorBenchmarkKey(BenchmarkDays(f, d.loc))); err != nil {
		return l, err
	}
	if err := rivals.subscribe(analytics.CompetitorsKey()); err != nil {
		return l, err
	}

	for _, p := range panels {
		for _, part := range p.parts {
			part.views.size = d.cfg.ViewCacheSize
		}
	}
	l.posts = posts
	l.contentCategories = contentCategories
	l.performance = performance
	l.benchmark = benchmark
	return l, nil
}

func postsInput(f Filters) querycache.Params {
	return querycache.Params{inputAccount: f.Account, inputCategory: f.Category}
}

func (d *Dashboard) performanceKey(f Filters) querycache.Key {
	days := f.TrendDays
	if days == 0 {
		days = d.cfg.TrendDays
	}
	return analytics.EngagementPerformanceKey(days, f.Account)
}

func (d *Dashboard) listener(panelName, query string) querycache.Listener {
	return func(snap querycache.Snapshot) {
		if snap.Status == querycache.StatusError {
			d.logger.Warn().Err(snap.Err).Str("panel", panelName).Str("query", query).
				Str("key", snap.Key.String()).Bool("has_data", snap.HasData).Msg("Panel query failed.")
			return
		}
		d.logger.Debug().Str("panel", panelName).Str("query", query).Str("key", snap.Key.String()).
			Stringer("status", snap.Status).Uint64("version", snap.Version).Msg("Panel query updated.")
	}
}

// Filters returns the current selections.
func (d *Dashboard) Filters() Filters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filters
}

// SetFilters applies new selections. Only the queries whose keys change are
// re-issued; the posts query keeps showing the previous list while the new one loads.
func (d *Dashboard) SetFilters(f Filters) error {
	f, err := f.normalized()
	if err != nil {
		return err
	}

	d.filterMu.Lock()
	defer d.filterMu.Unlock()

	d.mu.Lock()
	l := d.layout
	if l == nil || d.closed {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.filters = f
	d.mu.Unlock()

	l.posts.dep.SetInput(postsInput(f))
	if err := l.contentCategories.subscribe(analytics.CategoryDistributionKey(f.Start, f.End, f.Account)); err != nil {
		return err
	}
	if err := l.performance.subscribe(d.performanceKey(f)); err != nil {
		return err
	}
	if err := l.benchmark.subscribe(analytics.CompetitorBenchmarkKey(BenchmarkDays(f, d.loc))); err != nil {
		return err
	}
	d.logger.Info().Str("account", f.Account).Str("category", f.Category).Int("benchmark_days", BenchmarkDays(f, d.loc)).
		Msg("Filters updated.")
	return nil
}

func (d *Dashboard) panel(name string) (*panel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.layout == nil || d.closed {
		return nil, ErrNotStarted
	}
	p, ok := d.layout.panels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPanel, name)
	}
	return p, nil
}

// Panel returns the current state of one panel.
func (d *Dashboard) Panel(name string) (PanelSnapshot, error) {
	p, err := d.panel(name)
	if err != nil {
		return PanelSnapshot{}, err
	}
	return p.snapshot(), nil
}

// Panels returns every panel in display order.
func (d *Dashboard) Panels() ([]PanelSnapshot, error) {
	out := make([]PanelSnapshot, 0, len(PanelNames()))
	for _, name := range PanelNames() {
		snap, err := d.Panel(name)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Refresh refetches every query of a panel and returns how many fetches it issued.
func (d *Dashboard) Refresh(name string) (int, error) {
	p, err := d.panel(name)
	if err != nil {
		return 0, err
	}
	seen := make(map[querycache.Key]bool, len(p.sources))
	n := 0
	for _, s := range p.sources {
		snap, ok := s.snapshot()
		if !ok || seen[snap.Key] {
			continue
		}
		seen[snap.Key] = true
		if d.cache.Refetch(snap.Key) {
			n++
		}
	}
	return n, nil
}

// Close releases every panel subscription. The cache, client and bus belong to
// the caller.
func (d *Dashboard) Close() error {
	d.filterMu.Lock()
	defer d.filterMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	l := d.layout
	d.layout = nil
	d.mu.Unlock()

	if l != nil {
		for _, name := range PanelNames() {
			if p, ok := l.panels[name]; ok {
				p.close()
			}
		}
	}
	d.logger.Info().Msg("Dashboard closed.")
	return nil
}
