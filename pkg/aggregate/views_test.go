package aggregate_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/aggregate"
	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestNewCompetitorOverview(t *testing.T) {
	t.Run("Rows ranked with top categories and bands", func(t *testing.T) {
		accounts := []analytics.Account{
			{Username: "51talkksa", FollowersCount: 1000, TotalPosts: 10, AvgEngagementRate: 0.032,
				CategoryDistribution: analytics.Counts{{Name: "Promotion", Count: 3}, {Name: "Education", Count: 5}, {Name: "Community", Count: 5}}},
			{Username: "novakid_mena", FollowersCount: 500, TotalPosts: 4, AvgEngagementRate: 0.061},
			{Username: "vipkid_ar", FollowersCount: 250, TotalPosts: 6, AvgEngagementRate: 0.011},
		}

		view := aggregate.NewCompetitorOverview(accounts)

		assert.Equal(t, 3, view.Competitors)
		assert.Equal(t, int64(1750), view.TotalFollowers)
		assert.Equal(t, int64(20), view.TotalPosts)
		assert.Equal(t, "novakid_mena", view.Leader)
		require.Len(t, view.Rows, 3)
		assert.Equal(t, aggregate.Excellent, view.Rows[0].EngagementBand)
		assert.Equal(t, aggregate.NeedsImprovement, view.Rows[2].EngagementBand)

		talk := view.Rows[1]
		assert.Equal(t, "51talkksa", talk.Username)
		assert.Equal(t, []string{"Education", "Community"}, countNames(talk.TopCategories))
		assert.Equal(t, "Education", talk.MainCategory)
		assert.InDelta(t, 3.2, talk.EngagementPercent, 1e-9)
		assert.Empty(t, view.Rows[0].MainCategory)
	})

	t.Run("No accounts", func(t *testing.T) {
		view := aggregate.NewCompetitorOverview(nil)
		assert.Zero(t, view.AvgEngagementRate)
		assert.Equal(t, aggregate.NeedsImprovement, view.AvgEngagementBand)
		assert.NotNil(t, view.Rows)
		assert.Empty(t, view.Leader)
	})

	t.Run("Pure on the same input", func(t *testing.T) {
		accounts := []analytics.Account{{Username: "a", AvgEngagementRate: 0.03}}
		assert.Equal(t, aggregate.NewCompetitorOverview(accounts), aggregate.NewCompetitorOverview(accounts))
	})
}

func TestNewContentOverview(t *testing.T) {
	posts := []analytics.Post{
		{PostID: "p1", ContentCategory: "Education", MediaType: "video", LikesCount: 100, CommentsCount: 10,
			EngagementRate: 0.06, PostedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), SentimentScore: score(0.4)},
		{PostID: "p2", ContentCategory: "Promotion", MediaType: "image", LikesCount: 40, CommentsCount: 2,
			EngagementRate: 0.02, PostedAt: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC), SentimentScore: score(-0.5)},
		{PostID: "p3", MediaType: "video", LikesCount: 60, CommentsCount: 6,
			EngagementRate: 0.04, PostedAt: time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)},
	}

	view := aggregate.NewContentOverview(posts, time.UTC)

	assert.Equal(t, 3, view.TotalPosts)
	assert.Equal(t, int64(200), view.TotalLikes)
	assert.Equal(t, int64(18), view.TotalComments)
	assert.InDelta(t, 4.0, view.AvgEngagementPercent, 1e-9)
	assert.Equal(t, []string{"Education", "Promotion", analytics.Uncategorized}, countNames(view.Categories))
	assert.Equal(t, analytics.Counts{{Name: "video", Count: 2}, {Name: "image", Count: 1}}, view.MediaTypes)
	assert.Equal(t, analytics.Counts{
		{Name: aggregate.Positive, Count: 1},
		{Name: aggregate.Neutral, Count: 0},
		{Name: aggregate.Negative, Count: 1},
	}, view.Sentiment)

	require.Len(t, view.Daily, 2)
	assert.Equal(t, 2, view.Daily[0].Posts)
	assert.InDelta(t, 0.04, view.Daily[0].AvgEngagementRate, 1e-12)
	assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), view.Daily[1].Day)

	require.Len(t, view.Rows, 3)
	assert.Equal(t, []string{"p1", "p3", "p2"}, []string{view.Rows[0].PostID, view.Rows[1].PostID, view.Rows[2].PostID})
	assert.Equal(t, aggregate.Positive, view.Rows[0].SentimentLabel)
	assert.Empty(t, view.Rows[1].SentimentLabel)
	assert.Equal(t, aggregate.NeedsImprovement, view.Rows[2].EngagementBand)

	empty := aggregate.NewContentOverview(nil, time.UTC)
	assert.Zero(t, empty.AvgEngagementPercent)
	assert.NotNil(t, empty.Daily)
	assert.NotNil(t, empty.Rows)
}

func TestNewTrendOverview(t *testing.T) {
	hashtags := make(analytics.Counts, 0, 12)
	for i := 0; i < 12; i++ {
		hashtags = append(hashtags, analytics.Count{Name: string(rune('a' + i)), Count: i % 4})
	}
	trend := &analytics.TrendSnapshot{
		AnalysisDate:  time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Period:        "weekly",
		HashtagCounts: hashtags,
		EngagementByDate: analytics.Rates{
			{Name: "2024-05-02", Value: 0.03},
			{Name: "week 17", Value: 0.01},
			{Name: "2024-04-30", Value: 0.02},
		},
	}
	perf := &analytics.EngagementPerformance{
		TotalPosts:        9,
		AverageEngagement: 0.025,
		EngagementByCategory: analytics.Rates{
			{Name: "Education", Value: 0.04},
			{Name: "Promotion", Value: 0.01},
		},
	}

	t.Run("Trend and performance", func(t *testing.T) {
		view := aggregate.NewTrendOverview(trend, perf)

		assert.Equal(t, 12, view.HashtagCount)
		require.Len(t, view.TopHashtags, 10)
		assert.Equal(t, []string{"d", "h", "l", "c", "g", "k", "b", "f", "j", "a"}, countNames(view.TopHashtags))

		require.Len(t, view.EngagementTrend, 3)
		assert.Equal(t, "2024-04-30", view.EngagementTrend[0].Date)
		assert.Equal(t, "2024-05-02", view.EngagementTrend[1].Date)
		assert.Equal(t, "week 17", view.EngagementTrend[2].Date)

		require.Len(t, view.CategoryEngagement, 2)
		assert.InDelta(t, 4.0, view.CategoryEngagement[0].EngagementPercent, 1e-9)
		assert.Equal(t, aggregate.Good, view.CategoryEngagement[0].Band)
		assert.Equal(t, "Education", view.BestCategory)
		assert.InDelta(t, 2.5, view.AvgEngagementPercent, 1e-9)
	})

	t.Run("Missing inputs", func(t *testing.T) {
		view := aggregate.NewTrendOverview(nil, &analytics.EngagementPerformance{Empty: true})
		assert.Empty(t, view.TopHashtags)
		assert.Empty(t, view.EngagementTrend)
		assert.Empty(t, view.CategoryEngagement)
		assert.Empty(t, view.BestCategory)
	})
}

func TestNewBenchmarkChart(t *testing.T) {
	benchmark := &analytics.CompetitorBenchmark{
		Period:            "30 days",
		AvgEngagementRate: 0.03,
		Competitors: []analytics.CompetitorStats{
			{Name: "vipkid_ar", AvgEngagementRate: 0.02, FollowersCount: 10, TotalPosts: 5, ContentDiversity: 1},
			{Name: "51talkksa", AvgEngagementRate: 0.04, FollowersCount: 30, TotalPosts: 15, ContentDiversity: 3},
		},
	}

	chart := aggregate.NewBenchmarkChart(benchmark)

	require.Len(t, chart.Rows, 2)
	assert.Equal(t, "vipkid_ar", chart.Rows[0].Name)
	assert.InDelta(t, 2.0, chart.Rows[0].EngagementPercent, 1e-9)
	assert.Equal(t, 25.0, chart.Rows[0].PostShare)
	assert.Equal(t, 75.0, chart.Rows[1].PostShare)
	assert.Equal(t, []string{"51talkksa", "vipkid_ar"}, chart.Ranking)
	assert.Equal(t, "51talkksa", chart.Leader)
	assert.NotNil(t, chart.Recommendations)

	empty := aggregate.NewBenchmarkChart(&analytics.CompetitorBenchmark{Competitors: []analytics.CompetitorStats{{Name: "x"}}})
	assert.Zero(t, empty.Rows[0].PostShare)
	assert.Empty(t, aggregate.NewBenchmarkChart(nil).Rows)
}

func TestNewSentimentSummary(t *testing.T) {
	t.Run("Shares and label", func(t *testing.T) {
		s := aggregate.NewSentimentSummary(&analytics.SentimentOverview{
			PeriodDays:    30,
			TotalAnalyses: 8,
			Distribution:  analytics.Counts{{Name: "positive", Count: 4}, {Name: "negative", Count: 2}, {Name: "neutral", Count: 2}},
			AverageScore:  -0.1,
		})
		assert.Equal(t, 50.0, s.PositivePercent)
		assert.Equal(t, 25.0, s.NeutralPercent)
		assert.Equal(t, 25.0, s.NegativePercent)
		assert.Equal(t, aggregate.Neutral, s.Label)
	})

	t.Run("Empty marker", func(t *testing.T) {
		s := aggregate.NewSentimentSummary(&analytics.SentimentOverview{Empty: true, Message: "no data"})
		assert.True(t, s.Empty)
		assert.Equal(t, "no data", s.Message)
		assert.Zero(t, s.PositivePercent)
	})
}

func TestNewCategoryBreakdown(t *testing.T) {
	view := aggregate.NewCategoryBreakdown(&analytics.CategoryDistribution{
		TotalPosts: 10,
		Counts:     analytics.Counts{{Name: "A", Count: 1}, {Name: "B", Count: 6}, {Name: "C", Count: 3}, {Name: "D", Count: 0}},
	})

	require.Len(t, view.Slices, 4)
	assert.InDelta(t, 60.0, view.Slices[1].Percent, 1e-9)
	assert.Equal(t, []string{"B", "C", "A"}, countNames(view.Top))
	assert.Empty(t, aggregate.NewCategoryBreakdown(nil).Slices)
}
