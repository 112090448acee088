package models

import "time"

// Proposal lifecycle statuses.
const (
	StatusDrafting    = "drafting"
	StatusNegotiation = "negotiation"
	StatusWon         = "won"
	StatusLost        = "lost"
	StatusExpired     = "expired"
)

// IsDecided reports whether a status is terminal for conversion-rate purposes.
// Drafting, negotiation and expired proposals are excluded from win rates.
func IsDecided(status string) bool {
	return status == StatusWon || status == StatusLost
}

// SellerRef identifies the seller who owns a proposal.
type SellerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClientRef identifies the client a proposal was issued to.
// Email is the canonical key (compared lower-cased).
type ClientRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ProposalItem is one line item of a proposal.
type ProposalItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Category    string  `json:"category,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

// Proposal is a read-only sales proposal record. The analytics core never
// mutates proposals; they are input only.
type Proposal struct {
	ID               string         `json:"id"`
	Number           string         `json:"number,omitempty"`
	Status           string         `json:"status"`
	Total            float64        `json:"total"`
	Subtotal         float64        `json:"subtotal"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ValidUntil       time.Time      `json:"valid_until"`
	Seller           SellerRef      `json:"seller"`
	Client           ClientRef      `json:"client"`
	Items            []ProposalItem `json:"items"`
	PaymentCondition string         `json:"payment_condition"`
}

// Product is the catalog record used to enrich recommendations.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

// Goal is an active sales target used for forecast comparison.
type Goal struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TargetValue float64   `json:"target_value"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Status      string    `json:"status"`
}

// SellerStats is the per-seller rollup inside a historical snapshot.
type SellerStats struct {
	Total   int     `json:"total"`
	Won     int     `json:"won"`
	Lost    int     `json:"lost"`
	Revenue float64 `json:"revenue"`
}

// WinRate returns wins over decided proposals, or -1 when undecided.
func (s SellerStats) WinRate() float64 {
	decided := s.Won + s.Lost
	if decided == 0 {
		return -1
	}
	return float64(s.Won) / float64(decided)
}

// ClientStats is the per-client rollup inside a historical snapshot.
type ClientStats struct {
	Name    string  `json:"name"`
	Total   int     `json:"total"`
	Won     int     `json:"won"`
	Lost    int     `json:"lost"`
	Revenue float64 `json:"revenue"`
}

// ProductStats counts how often a product appeared on proposals and on won ones.
type ProductStats struct {
	Name  string `json:"name"`
	Total int    `json:"total"`
	Won   int    `json:"won"`
}

// ItemCountStats tracks outcomes of proposals grouped by how many line items they had.
type ItemCountStats struct {
	Decided int `json:"decided"`
	Won     int `json:"won"`
}

// Percentiles is the value distribution of proposal totals in the window.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// FactorWeights is the immutable weight configuration used by the scoring
// model. Produced once per snapshot as a pure function of dataset size.
type FactorWeights struct {
	Seller      float64 `json:"seller"`
	Client      float64 `json:"client"`
	Value       float64 `json:"value"`
	Time        float64 `json:"time"`
	Products    float64 `json:"products"`
	Payment     float64 `json:"payment"`
	Discount    float64 `json:"discount"`
	Seasonality float64 `json:"seasonality"`
	Engagement  float64 `json:"engagement"`
	Patterns    float64 `json:"patterns"`
}

// Sum returns the total weight mass, used to normalize the final score.
func (w FactorWeights) Sum() float64 {
	return w.Seller + w.Client + w.Value + w.Time + w.Products + w.Payment +
		w.Discount + w.Seasonality + w.Engagement + w.Patterns
}

// HistoricalSnapshot is the derived, in-memory view of the trailing proposal
// window. It is rebuilt on every aggregator run and never persisted.
type HistoricalSnapshot struct {
	ReferenceTime  time.Time                 `json:"reference_time"`
	LookbackMonths int                       `json:"lookback_months"`
	Proposals      []Proposal                `json:"-"`
	TotalProposals int                       `json:"total_proposals"`
	WonCount       int                       `json:"won_count"`
	LostCount      int                       `json:"lost_count"`
	ConversionRate float64                   `json:"conversion_rate"`
	Sellers        map[string]*SellerStats   `json:"sellers"`
	Clients        map[string]*ClientStats   `json:"clients"`
	Products       map[string]*ProductStats  `json:"products"`
	ItemCounts     map[int]*ItemCountStats   `json:"item_counts"`
	Percentiles    Percentiles               `json:"percentiles"`
	AvgDaysToClose float64                   `json:"avg_days_to_close"`
	Weights        FactorWeights             `json:"weights"`
	Sufficient     bool                      `json:"sufficient"`
}

// Score levels.
const (
	LevelHigh    = "high"
	LevelMedium  = "medium"
	LevelLow     = "low"
	LevelVeryLow = "very_low"
)

// Factor is one of the ten contributions to a proposal score.
type Factor struct {
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// ScoreResult is the closing-probability score of one proposal.
type ScoreResult struct {
	Score        float64           `json:"score"`
	Percentual   int               `json:"percentual"`
	Level        string            `json:"level"`
	Action       string            `json:"action"`
	Confidence   float64           `json:"confidence"`
	Factors      map[string]Factor `json:"factors"`
	CalculatedAt time.Time         `json:"calculated_at"`
	Error        string            `json:"error,omitempty"`
}

// DailyForecast is one projected day in a forecast breakdown.
type DailyForecast struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Sales   int     `json:"sales"`
}

// PeriodForecast is the projection for one horizon (7, 30 or 90 days).
type PeriodForecast struct {
	Sales           int             `json:"sales"`
	Revenue         float64         `json:"revenue"`
	AvgDailyRevenue float64         `json:"avg_daily_revenue"`
	AvgDailySales   float64         `json:"avg_daily_sales"`
	LowerBound      float64         `json:"lower_bound"`
	UpperBound      float64         `json:"upper_bound"`
	DailyBreakdown  []DailyForecast `json:"daily_breakdown"`
}

// WeekdayMultiplier is the seasonal multiplier for one weekday,
// clamped to [0.7, 1.3].
type WeekdayMultiplier struct {
	Day        string  `json:"day"`
	Average    float64 `json:"average"`
	Multiplier float64 `json:"multiplier"`
}

// TrendAnalysis compares the most recent 30 days against the 30 before.
type TrendAnalysis struct {
	Direction        string  `json:"direction"`
	Rate             float64 `json:"rate"`
	PeriodComparison float64 `json:"period_comparison"`
	Strength         string  `json:"strength"`
	Description      string  `json:"description"`
}

// SellerForecast is a per-seller market-share projection (admin only).
type SellerForecast struct {
	SellerID     string  `json:"seller_id"`
	SellerName   string  `json:"seller_name"`
	Sales        int     `json:"historical_sales"`
	Revenue      float64 `json:"historical_revenue"`
	AvgSaleValue float64 `json:"avg_sale_value"`
	MarketShare  float64 `json:"market_share"`
	Next30Sales  int     `json:"next_30_sales"`
	Next30Value  float64 `json:"next_30_revenue"`
}

// GoalComparison relates a forecast to the active targets for the same period.
type GoalComparison struct {
	HasGoals               bool    `json:"has_goals"`
	Message                string  `json:"message,omitempty"`
	Goal                   float64 `json:"goal,omitempty"`
	Forecast               float64 `json:"forecast,omitempty"`
	Difference             float64 `json:"difference,omitempty"`
	PercentageDiff         float64 `json:"percentage_diff,omitempty"`
	Status                 string  `json:"status,omitempty"`
	AchievementProbability float64 `json:"achievement_probability,omitempty"`
}

// Insight is a human-readable observation derived from an engine result.
type Insight struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// HistoricalSummary describes the series a forecast was fit on.
type HistoricalSummary struct {
	TotalDays       int     `json:"total_days"`
	TotalSales      int     `json:"total_sales"`
	TotalRevenue    float64 `json:"total_revenue"`
	AvgDailyRevenue float64 `json:"avg_daily_revenue"`
	AvgDailySales   float64 `json:"avg_daily_sales"`
	PeriodStart     string  `json:"period_start"`
	PeriodEnd       string  `json:"period_end"`
}

// ForecastResult is the full projection output.
type ForecastResult struct {
	Historical      HistoricalSummary   `json:"historical"`
	Next7Days       PeriodForecast      `json:"next_7_days"`
	Next30Days      PeriodForecast      `json:"next_30_days"`
	Next90Days      PeriodForecast      `json:"next_90_days"`
	Trends          TrendAnalysis       `json:"trends"`
	WeeklyPattern   []WeekdayMultiplier `json:"weekly_pattern"`
	Confidence      float64             `json:"confidence"`
	SellerForecasts []SellerForecast    `json:"seller_forecasts,omitempty"`
	GoalComparison  GoalComparison      `json:"goal_comparison"`
	Insights        []Insight           `json:"insights"`
	Error           string              `json:"error,omitempty"`
	Message         string              `json:"message,omitempty"`
}

// Anomaly priorities, in descending order of urgency.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Anomaly types.
const (
	AnomalySellerDrop       = "seller_performance_drop"
	AnomalySellerSurge      = "seller_performance_surge"
	AnomalySellerInactivity = "seller_inactivity"
	AnomalyClientChurn      = "client_churn_risk"
	AnomalyDemandSurge      = "product_demand_surge"
	AnomalyDemandDrop       = "product_demand_drop"
	AnomalyStaleProposals   = "stale_proposals"
	AnomalySuspiciousTiming = "suspicious_timing"
	AnomalyValueOutliers    = "high_value_outliers"
	AnomalyRevenueDrop      = "revenue_drop"
	AnomalyRevenueSurge     = "revenue_surge"
)

// Anomaly is one detected irregularity. Advisory only: detection never blocks
// any write path.
type Anomaly struct {
	ID               string                 `json:"id"`
	Type             string                 `json:"type"`
	Priority         string                 `json:"priority"`
	Title            string                 `json:"title"`
	Message          string                 `json:"message"`
	Details          map[string]interface{} `json:"details"`
	SuggestedActions []string               `json:"suggested_actions"`
	DetectedAt       time.Time              `json:"detected_at"`
}

// AnomalyReport is the detection pass output: counts plus the sorted list.
type AnomalyReport struct {
	Total      int            `json:"total"`
	ByPriority map[string]int `json:"by_priority"`
	Anomalies  []Anomaly      `json:"anomalies"`
}

// Recommendation methods.
const (
	MethodAssociation   = "association"
	MethodCollaborative = "collaborative"
	MethodCategory      = "category"
	MethodPopular       = "popular"
)

// Recommendation is one suggested product with its combined evidence.
type Recommendation struct {
	ProductID  string   `json:"product_id"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
	Methods    []string `json:"methods"`
	Reason     string   `json:"reason"`
	Product    *Product `json:"product,omitempty"`
}

// RecommendationResult is the ranked recommendation list plus its metadata.
type RecommendationResult struct {
	Recommendations []Recommendation `json:"recommendations"`
	Method          string           `json:"method"`
	Confidence      float64          `json:"confidence"`
	Insights        []Insight        `json:"insights"`
	Message         string           `json:"message,omitempty"`
}

// ScoredProposal pairs a proposal with its computed score for dashboards.
type ScoredProposal struct {
	ProposalID string  `json:"proposal_id"`
	Number     string  `json:"number"`
	Client     string  `json:"client"`
	Value      float64 `json:"value"`
	Score      float64 `json:"score"`
	Percentual int     `json:"percentual"`
	Level      string  `json:"level"`
	Action     string  `json:"action"`
}

// LevelBucket aggregates proposals sharing a score level.
type LevelBucket struct {
	Count      int     `json:"count"`
	TotalValue float64 `json:"total_value"`
}

// ConversionByLevel is the observed close rate of proposals per score level.
type ConversionByLevel struct {
	Level  string  `json:"level"`
	Rate   float64 `json:"rate"`
	Closed int     `json:"closed"`
	Total  int     `json:"total"`
}

// BatchFailure records one proposal whose score computation failed during a
// dashboard pass. Failures never abort the batch.
type BatchFailure struct {
	ProposalID string `json:"proposal_id"`
	Error      string `json:"error"`
}

// DashboardStats summarizes a dashboard computation.
type DashboardStats struct {
	TotalProposalsAnalyzed int     `json:"total_proposals_analyzed"`
	AvgScore               float64 `json:"avg_score"`
	HighScoreCount         int     `json:"high_score_count"`
	RiskCount              int     `json:"risk_count"`
	FailedCount            int     `json:"failed_count"`
}

// Dashboard is the composed analytics view served to the frontend.
type Dashboard struct {
	ScoreDistribution map[string]LevelBucket `json:"score_distribution"`
	TopProposals      []ScoredProposal       `json:"top_proposals"`
	AtRiskProposals   []ScoredProposal       `json:"at_risk_proposals"`
	Insights          []Insight              `json:"insights"`
	Forecast          *ForecastResult        `json:"forecast,omitempty"`
	ConversionRates   []ConversionByLevel    `json:"conversion_rates"`
	Anomalies         AnomalyReport          `json:"anomalies"`
	Stats             DashboardStats         `json:"stats"`
	Failures          []BatchFailure         `json:"failures,omitempty"`
	GeneratedAt       time.Time              `json:"generated_at"`
}
