package dashboard

import (
	"strings"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/aggregate"
	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
)

// Panel names.
const (
	PanelOverview   = "overview"
	PanelContent    = "content"
	PanelTrends     = "trends"
	PanelCompetitor = "competitor"
)

// PanelNames lists the panels in display order.
func PanelNames() []string {
	return []string{PanelOverview, PanelContent, PanelTrends, PanelCompetitor}
}

// PanelSnapshot is the state of a panel: its queries and the views derived from
// whatever data they hold. A view is absent until one of its inputs has data.
type PanelSnapshot struct {
	Name    string         `json:"name"`
	Queries []QueryState   `json:"queries"`
	Views   map[string]any `json:"views"`
}

// viewPart derives one view from a fixed set of sources.
type viewPart struct {
	name   string
	inputs []*source
	build  func(snaps []querycache.Snapshot) any
	views  viewCache
}

type panel struct {
	name    string
	sources []*source
	parts   []*viewPart
}

func (p *panel) snapshot() PanelSnapshot {
	out := PanelSnapshot{
		Name:    p.name,
		Queries: make([]QueryState, 0, len(p.sources)),
		Views:   make(map[string]any, len(p.parts)),
	}
	snaps := make(map[*source]querycache.Snapshot, len(p.sources))
	for _, s := range p.sources {
		snap, ok := s.snapshot()
		if !ok {
			continue
		}
		snaps[s] = snap
		out.Queries = append(out.Queries, newQueryState(s.name, snap))
	}

	for _, part := range p.parts {
		inputs := make([]querycache.Snapshot, len(part.inputs))
		hasData := false
		for i, s := range part.inputs {
			inputs[i] = snaps[s]
			hasData = hasData || inputs[i].HasData
		}
		if !hasData {
			continue
		}
		out.Views[part.name] = part.views.getOrBuild(dataToken(inputs...), func() any { return part.build(inputs) })
	}
	return out
}

func (p *panel) close() {
	for _, s := range p.sources {
		s.close()
	}
}

// dataAs returns a pointer to the snapshot's data when it holds a T.
func dataAs[T any](snap querycache.Snapshot) *T {
	v, ok := querycache.As[T](snap)
	if !ok {
		return nil
	}
	return &v
}

func competitorsView(snaps []querycache.Snapshot) any {
	accounts, _ := querycache.As[[]analytics.Account](snaps[0])
	return aggregate.NewCompetitorOverview(accounts)
}

func sentimentView(snaps []querycache.Snapshot) any {
	return aggregate.NewSentimentSummary(dataAs[analytics.SentimentOverview](snaps[0]))
}

func categoriesView(snaps []querycache.Snapshot) any {
	return aggregate.NewCategoryBreakdown(dataAs[analytics.CategoryDistribution](snaps[0]))
}

func contentView(loc *time.Location) func([]querycache.Snapshot) any {
	return func(snaps []querycache.Snapshot) any {
		posts, _ := querycache.As[[]analytics.Post](snaps[0])
		return aggregate.NewContentOverview(posts, loc)
	}
}

func trendsView(snaps []querycache.Snapshot) any {
	return aggregate.NewTrendOverview(
		dataAs[analytics.TrendSnapshot](snaps[0]),
		dataAs[analytics.EngagementPerformance](snaps[1]),
	)
}

func benchmarkView(snaps []querycache.Snapshot) any {
	return aggregate.NewBenchmarkChart(dataAs[analytics.CompetitorBenchmark](snaps[0]))
}

// Filter input names of the posts query.
const (
	inputAccount  = "account"
	inputCategory = "category"
)

// derivePosts keys the post list on the competitor list: the query waits for
// competitors, and an account filter applies only to a tracked account.
func derivePosts(limit int) querycache.DeriveFunc {
	return func(upstream querycache.Snapshot, input querycache.Params) (querycache.Key, bool) {
		accounts, ok := querycache.As[[]analytics.Account](upstream)
		if !ok {
			return querycache.Key{}, false
		}
		account, _ := input[inputAccount].(string)
		category, _ := input[inputCategory].(string)
		if account != "" {
			account, _ = tracked(accounts, account)
		}
		return analytics.PostsKey(account, category, limit), true
	}
}

// tracked returns the account's username as the service spells it.
func tracked(accounts []analytics.Account, username string) (string, bool) {
	for _, a := range accounts {
		if strings.EqualFold(a.Username, username) {
			return a.Username, true
		}
	}
	return "", false
}
