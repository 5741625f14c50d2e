// Package analytics is the boundary to the remote analytics service. It names the
// endpoints, defines the entity model handed to the cache, and decodes, validates and
// normalizes every response before it gets there.
package analytics

import (
	"time"
)

// Count is one entry of an ordered category or hashtag count.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Rate is one entry of an ordered rate mapping, keyed by category or date.
type Rate struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Account is a tracked competitor account.
type Account struct {
	Username             string    `json:"username"`
	FullName             string    `json:"full_name,omitempty"`
	FollowersCount       int64     `json:"followers_count"`
	TotalPosts           int64     `json:"total_posts"`
	AvgEngagementRate    float64   `json:"avg_engagement_rate"`
	CategoryDistribution Counts    `json:"content_category_distribution"`
	Verified             bool      `json:"is_verified,omitempty"`
	LastUpdated          time.Time `json:"last_updated"`
}

// Post is a single scraped post. ContentCategory is empty until the post is analyzed.
type Post struct {
	PostID          string    `json:"post_id"`
	Shortcode       string    `json:"shortcode"`
	AccountUsername string    `json:"account_username,omitempty"`
	Caption         string    `json:"caption,omitempty"`
	MediaType       string    `json:"media_type"`
	ContentCategory string    `json:"content_category,omitempty"`
	LikesCount      int64     `json:"likes_count"`
	CommentsCount   int64     `json:"comments_count"`
	EngagementRate  float64   `json:"engagement_rate"`
	PostedAt        time.Time `json:"posted_at"`
	SentimentScore  *float64  `json:"sentiment_score,omitempty"`
}

// Uncategorized labels posts without a content category.
const Uncategorized = "uncategorized"

// Category returns the post's content category, or Uncategorized.
func (p Post) Category() string {
	if p.ContentCategory == "" {
		return Uncategorized
	}
	return p.ContentCategory
}

// Sentiment returns the sentiment score, treating a missing score as neutral.
func (p Post) Sentiment() float64 {
	if p.SentimentScore == nil {
		return 0
	}
	return *p.SentimentScore
}

// TrendSnapshot is the most recent trend analysis.
type TrendSnapshot struct {
	AnalysisDate         time.Time `json:"analysis_date"`
	Period               string    `json:"analysis_period"`
	HashtagCounts        Counts    `json:"trending_hashtags"`
	EngagementByDate     Rates     `json:"engagement_trends"`
	EngagementByCategory Rates     `json:"engagement_by_category,omitempty"`
	MarketInsights       string    `json:"market_insights,omitempty"`
}

// CategoryDistribution counts posts per content category over an optional window.
type CategoryDistribution struct {
	TotalPosts int        `json:"total_posts"`
	Counts     Counts     `json:"category_distribution"`
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
}

// SentimentOverview summarizes comment sentiment. Empty is set when the service had
// nothing to analyze in the period; Message then carries its explanation.
type SentimentOverview struct {
	PeriodDays    int     `json:"period_days"`
	TotalAnalyses int     `json:"total_analyses"`
	Distribution  Counts  `json:"sentiment_distribution"`
	AverageScore  float64 `json:"average_sentiment_score"`
	Overall       string  `json:"overall_sentiment"`
	Empty         bool    `json:"empty"`
	Message       string  `json:"message,omitempty"`
}

// CompetitorStats is one competitor's entry in a benchmark.
type CompetitorStats struct {
	Name               string  `json:"name"`
	FollowersCount     int64   `json:"followers_count"`
	AvgEngagementRate  float64 `json:"avg_engagement_rate"`
	FollowerGrowthRate float64 `json:"follower_growth_rate"`
	TotalPosts         int     `json:"total_posts"`
	ContentDiversity   int     `json:"content_diversity"`
}

// CompetitorBenchmark compares the tracked competitors over a period.
type CompetitorBenchmark struct {
	Name              string            `json:"benchmark_name,omitempty"`
	Period            string            `json:"analysis_period,omitempty"`
	Competitors       []CompetitorStats `json:"competitors"`
	AvgEngagementRate float64           `json:"avg_engagement_rate"`
	Strengths         []string          `json:"strengths,omitempty"`
	Weaknesses        []string          `json:"weaknesses,omitempty"`
	Opportunities     []string          `json:"opportunities,omitempty"`
	Threats           []string          `json:"threats,omitempty"`
	Recommendations   []string          `json:"recommendations,omitempty"`
}

// EngagementPerformance reports average engagement, overall and per category.
type EngagementPerformance struct {
	PeriodDays           int     `json:"period_days"`
	TotalPosts           int     `json:"total_posts"`
	AverageEngagement    float64 `json:"average_engagement_rate"`
	EngagementByCategory Rates   `json:"engagement_by_category"`
	BestCategory         string  `json:"best_performing_category,omitempty"`
	Empty                bool    `json:"empty"`
	Message              string  `json:"message,omitempty"`
}

// ScrapeRequest is the body of the scrape-accounts mutation.
type ScrapeRequest struct {
	Usernames       []string `json:"usernames"`
	MaxPosts        int      `json:"max_posts"`
	IncludeComments bool     `json:"include_comments"`
}

// ScrapeAccepted is the service's acknowledgement of a scrape request.
type ScrapeAccepted struct {
	Message   string   `json:"message"`
	Usernames []string `json:"usernames"`
}
