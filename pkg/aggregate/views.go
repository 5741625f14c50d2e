package aggregate

import (
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/analytics"
)

// Sizes of the ranked lists shown on the dashboard.
const (
	TopHashtags            = 10
	TopCategoriesPerRow    = 2
	TopCategoriesBreakdown = 3
)

// CompetitorRow is one line of the competitor table.
type CompetitorRow struct {
	Username          string           `json:"username"`
	FollowersCount    int64            `json:"followers_count"`
	TotalPosts        int64            `json:"total_posts"`
	EngagementRate    float64          `json:"engagement_rate"`
	EngagementPercent float64          `json:"engagement_percent"`
	EngagementBand    string           `json:"engagement_band"`
	TopCategories     analytics.Counts `json:"top_categories"`
	MainCategory      string           `json:"main_category,omitempty"`
	LastUpdated       time.Time        `json:"last_updated"`
}

// CompetitorOverview summarizes the tracked competitors.
type CompetitorOverview struct {
	Competitors          int             `json:"competitors"`
	TotalFollowers       int64           `json:"total_followers"`
	TotalPosts           int64           `json:"total_posts"`
	AvgEngagementRate    float64         `json:"avg_engagement_rate"`
	AvgEngagementPercent float64         `json:"avg_engagement_percent"`
	AvgEngagementBand    string          `json:"avg_engagement_band"`
	Leader               string          `json:"leader,omitempty"`
	Rows                 []CompetitorRow `json:"rows"`
}

// NewCompetitorOverview builds the competitor view. Rows are ranked by engagement,
// ties by username.
func NewCompetitorOverview(accounts []analytics.Account) *CompetitorOverview {
	avg := Average(accounts, func(a analytics.Account) float64 { return a.AvgEngagementRate })
	view := &CompetitorOverview{
		Competitors:          len(accounts),
		TotalFollowers:       SumInt(accounts, func(a analytics.Account) int64 { return a.FollowersCount }),
		TotalPosts:           SumInt(accounts, func(a analytics.Account) int64 { return a.TotalPosts }),
		AvgEngagementRate:    avg,
		AvgEngagementPercent: Percent(avg),
		AvgEngagementBand:    Classify(avg, EngagementBands),
		Rows:                 make([]CompetitorRow, 0, len(accounts)),
	}

	ranked := RankBy(accounts,
		func(a analytics.Account) float64 { return a.AvgEngagementRate },
		func(a analytics.Account) string { return a.Username },
	)
	for _, a := range ranked {
		top := TopN(a.CategoryDistribution, TopCategoriesPerRow)
		row := CompetitorRow{
			Username:          a.Username,
			FollowersCount:    a.FollowersCount,
			TotalPosts:        a.TotalPosts,
			EngagementRate:    finite(a.AvgEngagementRate),
			EngagementPercent: Percent(a.AvgEngagementRate),
			EngagementBand:    Classify(a.AvgEngagementRate, EngagementBands),
			TopCategories:     top,
			LastUpdated:       a.LastUpdated,
		}
		if len(top) > 0 {
			row.MainCategory = top[0].Name
		}
		view.Rows = append(view.Rows, row)
	}
	if len(view.Rows) > 0 {
		view.Leader = view.Rows[0].Username
	}
	return view
}

// PostRow is one line of the post table.
type PostRow struct {
	PostID            string    `json:"post_id"`
	Shortcode         string    `json:"shortcode,omitempty"`
	Account           string    `json:"account,omitempty"`
	Category          string    `json:"category"`
	MediaType         string    `json:"media_type,omitempty"`
	Likes             int64     `json:"likes"`
	Comments          int64     `json:"comments"`
	EngagementPercent float64   `json:"engagement_percent"`
	EngagementBand    string    `json:"engagement_band"`
	SentimentScore    *float64  `json:"sentiment_score,omitempty"`
	SentimentLabel    string    `json:"sentiment_label,omitempty"`
	PostedAt          time.Time `json:"posted_at"`
}

// DailyEngagement is the average engagement of the posts of one day.
type DailyEngagement struct {
	Day                  time.Time `json:"day"`
	Posts                int       `json:"posts"`
	AvgEngagementRate    float64   `json:"avg_engagement_rate"`
	AvgEngagementPercent float64   `json:"avg_engagement_percent"`
}

// ContentOverview summarizes a post collection.
type ContentOverview struct {
	TotalPosts           int               `json:"total_posts"`
	TotalLikes           int64             `json:"total_likes"`
	TotalComments        int64             `json:"total_comments"`
	AvgEngagementRate    float64           `json:"avg_engagement_rate"`
	AvgEngagementPercent float64           `json:"avg_engagement_percent"`
	Categories           analytics.Counts  `json:"categories"`
	TopCategories        analytics.Counts  `json:"top_categories"`
	MediaTypes           analytics.Counts  `json:"media_types"`
	Sentiment            analytics.Counts  `json:"sentiment"`
	Daily                []DailyEngagement `json:"daily"`
	Rows                 []PostRow         `json:"rows"`
}

// NewContentOverview builds the content view, bucketing posts by day in loc.
func NewContentOverview(posts []analytics.Post, loc *time.Location) *ContentOverview {
	engagement := func(p analytics.Post) float64 { return p.EngagementRate }
	avg := Average(posts, engagement)
	categories := Distribution(posts, analytics.Post.Category)
	view := &ContentOverview{
		TotalPosts:           len(posts),
		TotalLikes:           SumInt(posts, func(p analytics.Post) int64 { return p.LikesCount }),
		TotalComments:        SumInt(posts, func(p analytics.Post) int64 { return p.CommentsCount }),
		AvgEngagementRate:    avg,
		AvgEngagementPercent: Percent(avg),
		Categories:           categories,
		TopCategories:        TopN(categories, TopCategoriesBreakdown),
		MediaTypes:           Distribution(posts, func(p analytics.Post) string { return p.MediaType }),
		Sentiment:            sentimentCounts(posts),
		Daily:                []DailyEngagement{},
		Rows:                 make([]PostRow, 0, len(posts)),
	}

	for _, bucket := range BucketByDate(posts, func(p analytics.Post) time.Time { return p.PostedAt }, loc) {
		dayAvg := Average(bucket.Items, engagement)
		view.Daily = append(view.Daily, DailyEngagement{
			Day:                  bucket.Day,
			Posts:                len(bucket.Items),
			AvgEngagementRate:    dayAvg,
			AvgEngagementPercent: Percent(dayAvg),
		})
	}

	ranked := RankBy(posts, engagement, func(p analytics.Post) string { return p.PostID })
	for _, p := range ranked {
		row := PostRow{
			PostID:            p.PostID,
			Shortcode:         p.Shortcode,
			Account:           p.AccountUsername,
			Category:          p.Category(),
			MediaType:         p.MediaType,
			Likes:             p.LikesCount,
			Comments:          p.CommentsCount,
			EngagementPercent: Percent(p.EngagementRate),
			EngagementBand:    Classify(p.EngagementRate, EngagementBands),
			SentimentScore:    p.SentimentScore,
			PostedAt:          p.PostedAt,
		}
		if p.SentimentScore != nil {
			row.SentimentLabel = Classify(*p.SentimentScore, SentimentBands)
		}
		view.Rows = append(view.Rows, row)
	}
	return view
}

// sentimentCounts counts scored posts per sentiment label, in band order.
func sentimentCounts(posts []analytics.Post) analytics.Counts {
	labels := SentimentBands.Labels()
	out := make(analytics.Counts, len(labels))
	for i, label := range labels {
		out[i].Name = label
	}
	for _, p := range posts {
		if p.SentimentScore == nil {
			continue
		}
		label := Classify(*p.SentimentScore, SentimentBands)
		for i := range out {
			if out[i].Name == label {
				out[i].Count++
			}
		}
	}
	return out
}

// TrendPoint is one date of the engagement trend.
type TrendPoint struct {
	Date              string    `json:"date"`
	Day               time.Time `json:"day"`
	EngagementRate    float64   `json:"engagement_rate"`
	EngagementPercent float64   `json:"engagement_percent"`
}

// CategoryEngagement is a category's average engagement.
type CategoryEngagement struct {
	Category          string  `json:"category"`
	EngagementPercent float64 `json:"engagement_percent"`
	Band              string  `json:"band"`
}

// TrendOverview combines the latest trend analysis with engagement performance.
// Either input may be missing.
type TrendOverview struct {
	AnalysisDate         time.Time            `json:"analysis_date"`
	Period               string               `json:"period,omitempty"`
	HashtagCount         int                  `json:"hashtag_count"`
	TopHashtags          analytics.Counts     `json:"top_hashtags"`
	EngagementTrend      []TrendPoint         `json:"engagement_trend"`
	CategoryEngagement   []CategoryEngagement `json:"category_engagement"`
	AvgEngagementPercent float64              `json:"avg_engagement_percent"`
	BestCategory         string               `json:"best_category,omitempty"`
	TotalPosts           int                  `json:"total_posts"`
}

// NewTrendOverview builds the trend view. Trend dates are ordered ascending; entries
// whose date cannot be read keep their order after the dated ones.
func NewTrendOverview(trend *analytics.TrendSnapshot, perf *analytics.EngagementPerformance) *TrendOverview {
	view := &TrendOverview{
		TopHashtags:        analytics.Counts{},
		EngagementTrend:    []TrendPoint{},
		CategoryEngagement: []CategoryEngagement{},
	}

	categories := analytics.Rates{}
	if trend != nil {
		view.AnalysisDate = trend.AnalysisDate
		view.Period = trend.Period
		view.HashtagCount = len(trend.HashtagCounts)
		view.TopHashtags = TopN(trend.HashtagCounts, TopHashtags)
		view.EngagementTrend = trendPoints(trend.EngagementByDate)
		categories = trend.EngagementByCategory
	}
	if perf != nil && !perf.Empty {
		view.AvgEngagementPercent = Percent(perf.AverageEngagement)
		view.BestCategory = perf.BestCategory
		view.TotalPosts = perf.TotalPosts
		if len(perf.EngagementByCategory) > 0 {
			categories = perf.EngagementByCategory
		}
	}

	for _, c := range categories {
		view.CategoryEngagement = append(view.CategoryEngagement, CategoryEngagement{
			Category:          c.Name,
			EngagementPercent: Percent(c.Value),
			Band:              Classify(c.Value, EngagementBands),
		})
	}
	if view.BestCategory == "" {
		ranked := RankBy(view.CategoryEngagement,
			func(c CategoryEngagement) float64 { return c.EngagementPercent },
			func(c CategoryEngagement) string { return c.Category },
		)
		if len(ranked) > 0 {
			view.BestCategory = ranked[0].Category
		}
	}
	return view
}

func trendPoints(rates analytics.Rates) []TrendPoint {
	type dated struct {
		point TrendPoint
		ok    bool
	}
	items := make([]dated, 0, len(rates))
	for _, r := range rates {
		p := TrendPoint{Date: r.Name, EngagementRate: finite(r.Value), EngagementPercent: Percent(r.Value)}
		day, err := time.Parse(time.DateOnly, r.Name)
		if err != nil {
			day, err = time.Parse(time.RFC3339, r.Name)
		}
		if err == nil {
			p.Day = Day(day, time.UTC)
		}
		items = append(items, dated{point: p, ok: err == nil})
	}

	out := make([]TrendPoint, 0, len(items))
	var undated []TrendPoint
	buckets := BucketByDate(items, func(d dated) time.Time { return d.point.Day }, time.UTC)
	for _, b := range buckets {
		for _, d := range b.Items {
			out = append(out, d.point)
		}
	}
	for _, d := range items {
		if !d.ok {
			undated = append(undated, d.point)
		}
	}
	return append(out, undated...)
}

// BenchmarkRow is one competitor in the benchmark chart.
type BenchmarkRow struct {
	Name              string  `json:"name"`
	EngagementPercent float64 `json:"engagement_percent"`
	Band              string  `json:"band"`
	Followers         int64   `json:"followers"`
	Posts             int     `json:"posts"`
	PostShare         float64 `json:"post_share_percent"`
	Diversity         int     `json:"diversity"`
}

// BenchmarkChart is the chart-ready form of a competitor benchmark.
type BenchmarkChart struct {
	Period               string         `json:"period,omitempty"`
	AvgEngagementPercent float64        `json:"avg_engagement_percent"`
	Leader               string         `json:"leader,omitempty"`
	Ranking              []string       `json:"ranking"`
	Rows                 []BenchmarkRow `json:"rows"`
	Recommendations      []string       `json:"recommendations"`
}

// NewBenchmarkChart builds the chart rows in the service's competitor order and ranks
// the competitors by engagement.
func NewBenchmarkChart(b *analytics.CompetitorBenchmark) *BenchmarkChart {
	view := &BenchmarkChart{Ranking: []string{}, Rows: []BenchmarkRow{}, Recommendations: []string{}}
	if b == nil {
		return view
	}
	view.Period = b.Period
	view.AvgEngagementPercent = Percent(b.AvgEngagementRate)
	if len(b.Recommendations) > 0 {
		view.Recommendations = append(view.Recommendations, b.Recommendations...)
	}

	totalPosts := Sum(b.Competitors, func(c analytics.CompetitorStats) float64 { return float64(c.TotalPosts) })
	for _, c := range b.Competitors {
		view.Rows = append(view.Rows, BenchmarkRow{
			Name:              c.Name,
			EngagementPercent: Percent(c.AvgEngagementRate),
			Band:              Classify(c.AvgEngagementRate, EngagementBands),
			Followers:         c.FollowersCount,
			Posts:             c.TotalPosts,
			PostShare:         PercentOf(float64(c.TotalPosts), totalPosts),
			Diversity:         c.ContentDiversity,
		})
	}
	ranked := RankBy(b.Competitors,
		func(c analytics.CompetitorStats) float64 { return c.AvgEngagementRate },
		func(c analytics.CompetitorStats) string { return c.Name },
	)
	for _, c := range ranked {
		view.Ranking = append(view.Ranking, c.Name)
	}
	if len(view.Ranking) > 0 {
		view.Leader = view.Ranking[0]
	}
	return view
}

// SentimentSummary is the sentiment panel: shares per label and the overall label.
type SentimentSummary struct {
	Empty           bool    `json:"empty"`
	Message         string  `json:"message,omitempty"`
	PeriodDays      int     `json:"period_days"`
	TotalAnalyses   int     `json:"total_analyses"`
	PositivePercent float64 `json:"positive_percent"`
	NeutralPercent  float64 `json:"neutral_percent"`
	NegativePercent float64 `json:"negative_percent"`
	AverageScore    float64 `json:"average_score"`
	Label           string  `json:"label"`
}

// NewSentimentSummary builds the sentiment view. A nil or empty overview gives zero shares.
func NewSentimentSummary(s *analytics.SentimentOverview) *SentimentSummary {
	if s == nil {
		return &SentimentSummary{Empty: true, Label: Neutral}
	}
	view := &SentimentSummary{
		Empty:        s.Empty,
		Message:      s.Message,
		PeriodDays:   s.PeriodDays,
		AverageScore: finite(s.AverageScore),
		Label:        Classify(s.AverageScore, SentimentBands),
	}
	if s.Empty {
		view.Label = Neutral
		return view
	}
	view.TotalAnalyses = s.TotalAnalyses
	whole := float64(Total(s.Distribution))
	if whole == 0 {
		whole = float64(s.TotalAnalyses)
	}
	positive, _ := s.Distribution.Get(Positive)
	neutral, _ := s.Distribution.Get(Neutral)
	negative, _ := s.Distribution.Get(Negative)
	view.PositivePercent = PercentOf(float64(positive), whole)
	view.NeutralPercent = PercentOf(float64(neutral), whole)
	view.NegativePercent = PercentOf(float64(negative), whole)
	return view
}

// CategorySlice is one slice of the category pie.
type CategorySlice struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// CategoryBreakdown is the category distribution as pie slices.
type CategoryBreakdown struct {
	TotalPosts int              `json:"total_posts"`
	Slices     []CategorySlice  `json:"slices"`
	Top        analytics.Counts `json:"top"`
}

// NewCategoryBreakdown builds the category slices and the top three categories.
func NewCategoryBreakdown(d *analytics.CategoryDistribution) *CategoryBreakdown {
	view := &CategoryBreakdown{Slices: []CategorySlice{}, Top: analytics.Counts{}}
	if d == nil {
		return view
	}
	view.TotalPosts = d.TotalPosts
	whole := float64(Total(d.Counts))
	for _, c := range d.Counts {
		view.Slices = append(view.Slices, CategorySlice{
			Category: c.Name,
			Count:    c.Count,
			Percent:  PercentOf(float64(c.Count), whole),
		})
	}
	view.Top = TopN(d.Counts, TopCategoriesBreakdown)
	return view
}
