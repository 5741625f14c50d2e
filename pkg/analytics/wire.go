package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
)

// wireTime accepts the timestamp shapes the service emits: RFC 3339, naive ISO 8601
// (read as UTC) and plain dates.
type wireTime struct {
	time.Time
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == nil || *s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := parseWireTime(*s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func parseWireTime(s string) (time.Time, error) {
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t *wireTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func (t *wireTime) value() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time
}

func orZero[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func nonNegative(name string, v float64) error {
	if v < 0 {
		return fmt.Errorf("%s must not be negative, got %v", name, v)
	}
	return nil
}

// --- accounts ---

type accountWire struct {
	Username          string    `json:"username"`
	FullName          *string   `json:"full_name"`
	FollowersCount    *int64    `json:"followers_count"`
	TotalPosts        *int64    `json:"total_posts"`
	PostsCount        *int64    `json:"posts_count"`
	AvgEngagementRate *float64  `json:"avg_engagement_rate"`
	Categories        Counts    `json:"content_category_distribution"`
	IsVerified        *bool     `json:"is_verified"`
	LastUpdated       *wireTime `json:"last_updated"`
	UpdatedAt         *wireTime `json:"updated_at"`
	CreatedAt         *wireTime `json:"created_at"`
}

func (w *accountWire) validate() error {
	if strings.TrimSpace(w.Username) == "" {
		return errors.New("account without username")
	}
	if err := nonNegative("followers_count", float64(orZero(w.FollowersCount))); err != nil {
		return err
	}
	if err := nonNegative("total_posts", float64(orZero(w.TotalPosts)+orZero(w.PostsCount))); err != nil {
		return err
	}
	return nonNegative("avg_engagement_rate", orZero(w.AvgEngagementRate))
}

func (w *accountWire) toAccount() Account {
	total := orZero(w.TotalPosts)
	if w.TotalPosts == nil {
		total = orZero(w.PostsCount)
	}
	updated := w.LastUpdated
	if updated == nil || updated.IsZero() {
		updated = w.UpdatedAt
	}
	if updated == nil || updated.IsZero() {
		updated = w.CreatedAt
	}
	categories := w.Categories
	if categories == nil {
		categories = Counts{}
	}
	return Account{
		Username:             w.Username,
		FullName:             orZero(w.FullName),
		FollowersCount:       orZero(w.FollowersCount),
		TotalPosts:           total,
		AvgEngagementRate:    orZero(w.AvgEngagementRate),
		CategoryDistribution: categories,
		Verified:             orZero(w.IsVerified),
		LastUpdated:          updated.value(),
	}
}

// DecodeAccounts decodes an account list, as returned by both the accounts and the
// competitors endpoints.
func DecodeAccounts(endpoint string, body []byte) ([]Account, error) {
	wire, err := fetcher.Decode(endpoint, body, func(list *[]accountWire) error {
		for i := range *list {
			if err := (*list)[i].validate(); err != nil {
				return fmt.Errorf("account %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Account, len(wire))
	for i := range wire {
		out[i] = wire[i].toAccount()
	}
	return out, nil
}

// --- posts ---

type postWire struct {
	PostID          string    `json:"post_id"`
	Shortcode       *string   `json:"shortcode"`
	AccountUsername *string   `json:"account_username"`
	Caption         *string   `json:"caption"`
	MediaType       *string   `json:"media_type"`
	ContentCategory *string   `json:"content_category"`
	LikesCount      *int64    `json:"likes_count"`
	CommentsCount   *int64    `json:"comments_count"`
	EngagementRate  *float64  `json:"engagement_rate"`
	PostedAt        *wireTime `json:"posted_at"`
	SentimentScore  *float64  `json:"sentiment_score"`
}

func (w *postWire) validate() error {
	if strings.TrimSpace(w.PostID) == "" {
		return errors.New("post without post_id")
	}
	if err := nonNegative("likes_count", float64(orZero(w.LikesCount))); err != nil {
		return err
	}
	if err := nonNegative("comments_count", float64(orZero(w.CommentsCount))); err != nil {
		return err
	}
	if err := nonNegative("engagement_rate", orZero(w.EngagementRate)); err != nil {
		return err
	}
	if s := w.SentimentScore; s != nil && (*s < -1 || *s > 1) {
		return fmt.Errorf("sentiment_score %v outside [-1, 1]", *s)
	}
	return nil
}

// DecodePosts decodes a post list. Posts that do not name their account are
// attributed to account, the filter they were requested with.
func DecodePosts(endpoint string, body []byte, account string) ([]Post, error) {
	wire, err := fetcher.Decode(endpoint, body, func(list *[]postWire) error {
		for i := range *list {
			if err := (*list)[i].validate(); err != nil {
				return fmt.Errorf("post %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Post, len(wire))
	for i, w := range wire {
		username := orZero(w.AccountUsername)
		if username == "" {
			username = account
		}
		out[i] = Post{
			PostID:          w.PostID,
			Shortcode:       orZero(w.Shortcode),
			AccountUsername: username,
			Caption:         orZero(w.Caption),
			MediaType:       orZero(w.MediaType),
			ContentCategory: strings.TrimSpace(orZero(w.ContentCategory)),
			LikesCount:      orZero(w.LikesCount),
			CommentsCount:   orZero(w.CommentsCount),
			EngagementRate:  orZero(w.EngagementRate),
			PostedAt:        w.PostedAt.value(),
			SentimentScore:  w.SentimentScore,
		}
	}
	return out, nil
}

// --- analysis ---

type timeRangeWire struct {
	Start *wireTime `json:"start"`
	End   *wireTime `json:"end"`
}

type categoryDistributionWire struct {
	TotalPosts   *int           `json:"total_posts"`
	Distribution Counts         `json:"category_distribution"`
	TimeRange    *timeRangeWire `json:"time_range"`
}

func DecodeCategoryDistribution(endpoint string, body []byte) (CategoryDistribution, error) {
	w, err := fetcher.Decode(endpoint, body, func(w *categoryDistributionWire) error {
		if w.TotalPosts == nil {
			return errors.New("missing total_posts")
		}
		return nonNegative("total_posts", float64(*w.TotalPosts))
	})
	if err != nil {
		return CategoryDistribution{}, err
	}
	out := CategoryDistribution{TotalPosts: *w.TotalPosts, Counts: w.Distribution}
	if out.Counts == nil {
		out.Counts = Counts{}
	}
	if w.TimeRange != nil {
		out.Start, out.End = w.TimeRange.Start.ptr(), w.TimeRange.End.ptr()
	}
	return out, nil
}

type sentimentWire struct {
	Message       *string  `json:"message"`
	PeriodDays    *int     `json:"period_days"`
	TotalAnalyses *int     `json:"total_analyses"`
	Distribution  Counts   `json:"sentiment_distribution"`
	AverageScore  *float64 `json:"average_sentiment_score"`
	Overall       *string  `json:"overall_sentiment"`
}

func (w *sentimentWire) empty() bool {
	return w.Message != nil && w.TotalAnalyses == nil
}

// DecodeSentimentOverview decodes the sentiment summary. The service answers a
// period without analyses with only a message; that decodes as an Empty overview.
func DecodeSentimentOverview(endpoint string, body []byte, days int) (SentimentOverview, error) {
	w, err := fetcher.Decode(endpoint, body, func(w *sentimentWire) error {
		if w.empty() {
			return nil
		}
		if w.TotalAnalyses == nil {
			return errors.New("missing total_analyses")
		}
		if s := orZero(w.AverageScore); s < -1 || s > 1 {
			return fmt.Errorf("average_sentiment_score %v outside [-1, 1]", s)
		}
		switch o := orZero(w.Overall); o {
		case "", "positive", "neutral", "negative":
			return nil
		default:
			return fmt.Errorf("unknown overall_sentiment %q", o)
		}
	})
	if err != nil {
		return SentimentOverview{}, err
	}
	if w.empty() {
		return SentimentOverview{PeriodDays: days, Distribution: Counts{}, Empty: true, Message: *w.Message}, nil
	}
	out := SentimentOverview{
		PeriodDays:    orZero(w.PeriodDays),
		TotalAnalyses: *w.TotalAnalyses,
		Distribution:  w.Distribution,
		AverageScore:  orZero(w.AverageScore),
		Overall:       orZero(w.Overall),
	}
	if out.PeriodDays == 0 {
		out.PeriodDays = days
	}
	if out.Distribution == nil {
		out.Distribution = Counts{}
	}
	return out, nil
}

type trendWire struct {
	AnalysisDate         *wireTime `json:"analysis_date"`
	Period               *string   `json:"analysis_period"`
	TrendingHashtags     Counts    `json:"trending_hashtags"`
	EngagementTrends     Rates     `json:"engagement_trends"`
	EngagementByCategory Rates     `json:"engagement_by_category"`
	MarketInsights       *string   `json:"market_insights"`
}

// DecodeTrendSnapshot decodes a trend analysis, from either the latest-trends read or
// the generate-trends mutation.
func DecodeTrendSnapshot(endpoint string, body []byte) (TrendSnapshot, error) {
	w, err := fetcher.Decode(endpoint, body, func(w *trendWire) error {
		if w.AnalysisDate == nil || w.AnalysisDate.IsZero() {
			return errors.New("missing analysis_date")
		}
		return nil
	})
	if err != nil {
		return TrendSnapshot{}, err
	}
	out := TrendSnapshot{
		AnalysisDate:         w.AnalysisDate.value(),
		Period:               orZero(w.Period),
		HashtagCounts:        w.TrendingHashtags,
		EngagementByDate:     w.EngagementTrends,
		EngagementByCategory: w.EngagementByCategory,
		MarketInsights:       orZero(w.MarketInsights),
	}
	if out.HashtagCounts == nil {
		out.HashtagCounts = Counts{}
	}
	if out.EngagementByDate == nil {
		out.EngagementByDate = Rates{}
	}
	if out.EngagementByCategory == nil {
		out.EngagementByCategory = Rates{}
	}
	return out, nil
}

type competitorWire struct {
	FollowersCount     *int64   `json:"followers_count"`
	AvgEngagementRate  *float64 `json:"avg_engagement_rate"`
	FollowerGrowthRate *float64 `json:"follower_growth_rate"`
	TotalPosts         *int     `json:"total_posts"`
	ContentDiversity   *int     `json:"content_diversity"`
}

type benchmarkWire struct {
	Name              *string         `json:"benchmark_name"`
	Period            *string         `json:"analysis_period"`
	CompetitorData    json.RawMessage `json:"competitor_data"`
	AvgEngagementRate *float64        `json:"avg_engagement_rate"`
	Strengths         []string        `json:"strengths"`
	Weaknesses        []string        `json:"weaknesses"`
	Opportunities     []string        `json:"opportunities"`
	Threats           []string        `json:"threats"`
	Recommendations   []string        `json:"recommendations"`

	competitors []CompetitorStats
}

func (w *benchmarkWire) validate() error {
	if len(w.CompetitorData) == 0 {
		return errors.New("missing competitor_data")
	}
	names, values, err := decodeOrdered[competitorWire](w.CompetitorData)
	if err != nil {
		return fmt.Errorf("competitor_data: %w", err)
	}
	w.competitors = make([]CompetitorStats, 0, len(names))
	for i, name := range names {
		v := values[i]
		stats := CompetitorStats{
			Name:               name,
			FollowersCount:     orZero(v.FollowersCount),
			AvgEngagementRate:  orZero(v.AvgEngagementRate),
			FollowerGrowthRate: orZero(v.FollowerGrowthRate),
			TotalPosts:         orZero(v.TotalPosts),
			ContentDiversity:   orZero(v.ContentDiversity),
		}
		if stats.FollowersCount < 0 || stats.TotalPosts < 0 || stats.AvgEngagementRate < 0 {
			return fmt.Errorf("competitor %q has negative metrics", name)
		}
		w.competitors = append(w.competitors, stats)
	}
	return nil
}

func DecodeCompetitorBenchmark(endpoint string, body []byte) (CompetitorBenchmark, error) {
	w, err := fetcher.Decode(endpoint, body, (*benchmarkWire).validate)
	if err != nil {
		return CompetitorBenchmark{}, err
	}
	return CompetitorBenchmark{
		Name:              orZero(w.Name),
		Period:            orZero(w.Period),
		Competitors:       w.competitors,
		AvgEngagementRate: orZero(w.AvgEngagementRate),
		Strengths:         w.Strengths,
		Weaknesses:        w.Weaknesses,
		Opportunities:     w.Opportunities,
		Threats:           w.Threats,
		Recommendations:   w.Recommendations,
	}, nil
}

type engagementWire struct {
	Message              *string  `json:"message"`
	PeriodDays           *int     `json:"period_days"`
	TotalPosts           *int     `json:"total_posts"`
	AverageEngagement    *float64 `json:"average_engagement_rate"`
	EngagementByCategory Rates    `json:"engagement_by_category"`
	BestCategory         *string  `json:"best_performing_category"`
}

// DecodeEngagementPerformance decodes the engagement report; like the sentiment
// overview, a message-only answer decodes as Empty.
func DecodeEngagementPerformance(endpoint string, body []byte, days int) (EngagementPerformance, error) {
	w, err := fetcher.Decode(endpoint, body, func(w *engagementWire) error {
		if w.Message != nil && w.TotalPosts == nil {
			return nil
		}
		if w.TotalPosts == nil {
			return errors.New("missing total_posts")
		}
		return nonNegative("average_engagement_rate", orZero(w.AverageEngagement))
	})
	if err != nil {
		return EngagementPerformance{}, err
	}
	if w.Message != nil && w.TotalPosts == nil {
		return EngagementPerformance{PeriodDays: days, EngagementByCategory: Rates{}, Empty: true, Message: *w.Message}, nil
	}
	out := EngagementPerformance{
		PeriodDays:           orZero(w.PeriodDays),
		TotalPosts:           *w.TotalPosts,
		AverageEngagement:    orZero(w.AverageEngagement),
		EngagementByCategory: w.EngagementByCategory,
		BestCategory:         orZero(w.BestCategory),
	}
	if out.PeriodDays == 0 {
		out.PeriodDays = days
	}
	if out.EngagementByCategory == nil {
		out.EngagementByCategory = Rates{}
	}
	return out, nil
}
