package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/apex/log"

	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/store"
)

const (
	forecastLookbackDays = 90
	minForecastSales     = 5
	// Trend impact is clamped to ±2% per projected day to keep long horizons
	// from compounding into runaway growth.
	maxDailyTrendPct = 0.02
)

// ForecastService projects revenue and sale counts over 7/30/90-day horizons
// from the daily series of won proposals.
type ForecastService struct {
	store store.Store
}

// NewForecastService creates a ForecastService.
func NewForecastService(st store.Store) *ForecastService {
	return &ForecastService{store: st}
}

// ComputeForecast builds the full projection. horizonDays selects which
// horizon is compared against active goals (default 30). The result is always
// well formed; data problems come back as an insufficient-data result.
func (f *ForecastService) ComputeForecast(ctx context.Context, userID, role string, horizonDays int) models.ForecastResult {
	ref := time.Now()
	filter := store.ProposalFilter{
		Statuses:     []string{models.StatusWon},
		UpdatedAfter: ref.AddDate(0, 0, -forecastLookbackDays),
	}
	if role != "admin" && userID != "" {
		filter.SellerID = userID
	}

	wonProposals, err := f.store.FindProposals(ctx, filter)
	if err != nil {
		log.Errorf("forecast: proposal read failed: %v", err)
		return models.ForecastResult{Error: "forecast unavailable", Message: err.Error()}
	}
	if len(wonProposals) < minForecastSales {
		return models.ForecastResult{
			Error:   "insufficient data",
			Message: fmt.Sprintf("at least %d closed sales are required, found %d", minForecastSales, len(wonProposals)),
		}
	}

	// Group revenue and counts by close day.
	type dayAgg struct {
		total float64
		count int
	}
	byDay := make(map[string]*dayAgg)
	for _, p := range wonProposals {
		day := p.UpdatedAt.Format("2006-01-02")
		agg := byDay[day]
		if agg == nil {
			agg = &dayAgg{}
			byDay[day] = agg
		}
		agg.total += p.Total
		agg.count++
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	dailyValues := make([]float64, len(days))
	dailyCounts := make([]float64, len(days))
	for i, d := range days {
		dailyValues[i] = byDay[d].total
		dailyCounts[i] = float64(byDay[d].count)
	}

	avgDailyValue := calculateMean(dailyValues)
	avgDailyCount := calculateMean(dailyCounts)
	stdDev := calculateStandardDeviation(dailyValues)

	xs := make([]float64, len(dailyValues))
	for i := range xs {
		xs[i] = float64(i)
	}
	trend := calculateTrendLine(xs, dailyValues)

	weekly := weekdayMultipliers(days, dailyValues)

	// Projection is seeded from the 14-day trailing moving average, not the
	// full-window mean, so a stale early window cannot drag the baseline.
	recentAvg := avgDailyValue
	if n := len(dailyValues); n > 0 {
		start := n - 14
		if start < 0 {
			start = 0
		}
		recentAvg = calculateMean(dailyValues[start:])
	}

	totalRevenue := 0.0
	totalSales := 0
	for _, p := range wonProposals {
		totalRevenue += p.Total
		totalSales++
	}
	avgTicket := totalRevenue / float64(totalSales)

	baseDate := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	forecast7 := f.projectPeriod(7, baseDate, recentAvg, avgDailyValue, stdDev, trend, weekly, avgTicket)
	forecast30 := f.projectPeriod(30, baseDate, recentAvg, avgDailyValue, stdDev, trend, weekly, avgTicket)
	forecast90 := f.projectPeriod(90, baseDate, recentAvg, avgDailyValue, stdDev, trend, weekly, avgTicket)

	result := models.ForecastResult{
		Historical: models.HistoricalSummary{
			TotalDays:       len(days),
			TotalSales:      totalSales,
			TotalRevenue:    roundMoney(totalRevenue),
			AvgDailyRevenue: roundMoney(avgDailyValue),
			AvgDailySales:   round1(avgDailyCount),
			PeriodStart:     days[0],
			PeriodEnd:       days[len(days)-1],
		},
		Next7Days:     forecast7,
		Next30Days:    forecast30,
		Next90Days:    forecast90,
		Trends:        analyzeTrend(trend, dailyValues),
		WeeklyPattern: weekly,
		Confidence:    forecastConfidence(totalSales, stdDev, avgDailyValue),
	}

	if role == "admin" {
		result.SellerForecasts = sellerForecasts(wonProposals, avgDailyValue)
	}

	goalHorizon := forecast30
	periodDays := 30
	switch horizonDays {
	case 7:
		goalHorizon, periodDays = forecast7, 7
	case 90:
		goalHorizon, periodDays = forecast90, 90
	}
	result.GoalComparison = f.compareWithGoals(ctx, ref, periodDays, goalHorizon)
	result.Insights = forecastInsights(result.Trends, result.GoalComparison)
	return result
}

// projectPeriod projects one horizon day by day. Every projected day is
// clamped to [0.5x, 2x] the recent moving average.
func (f *ForecastService) projectPeriod(days int, start time.Time, recentAvg, avgDaily, stdDev float64, trend Trend, weekly []models.WeekdayMultiplier, avgTicket float64) models.PeriodForecast {
	trendPct := 0.0
	if recentAvg > 0 {
		trendPct = clamp(trend.Slope/recentAvg, -maxDailyTrendPct, maxDailyTrendPct)
	}

	var totalRevenue float64
	var totalSales int
	breakdown := make([]models.DailyForecast, 0, days)

	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		value := recentAvg * (1 + trendPct*float64(i+1))
		value *= weekly[int(date.Weekday())].Multiplier
		value = clamp(value, recentAvg*0.5, recentAvg*2)
		if value < 0 {
			value = 0
		}

		sales := 0
		if avgTicket > 0 {
			sales = int(math.Round(value / avgTicket))
		}
		breakdown = append(breakdown, models.DailyForecast{
			Date:    date.Format("2006-01-02"),
			Revenue: roundMoney(value),
			Sales:   sales,
		})
		totalRevenue += value
		totalSales += sales
	}

	// Margin grows with the square root of the horizon; the coefficient of
	// variation is capped at 25% to keep bounds meaningful.
	cov := 1.0
	if avgDaily > 0 {
		cov = stdDev / avgDaily
	}
	margin := recentAvg * math.Min(0.25, cov) * math.Sqrt(float64(days))

	return models.PeriodForecast{
		Sales:           totalSales,
		Revenue:         roundMoney(totalRevenue),
		AvgDailyRevenue: roundMoney(totalRevenue / float64(days)),
		AvgDailySales:   round1(float64(totalSales) / float64(days)),
		LowerBound:      roundMoney(math.Max(0, totalRevenue-margin)),
		UpperBound:      roundMoney(totalRevenue + margin),
		DailyBreakdown:  breakdown,
	}
}

var weekdayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// weekdayMultipliers detects the weekly seasonality: each weekday's average
// over the overall average, clamped to [0.7, 1.3].
func weekdayMultipliers(days []string, values []float64) []models.WeekdayMultiplier {
	var sums, counts [7]float64
	for i, d := range days {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		w := int(t.Weekday())
		sums[w] += values[i]
		counts[w]++
	}

	var avgs [7]float64
	var overall float64
	for i := 0; i < 7; i++ {
		if counts[i] > 0 {
			avgs[i] = sums[i] / counts[i]
		}
		overall += avgs[i]
	}
	overall /= 7

	out := make([]models.WeekdayMultiplier, 7)
	for i := 0; i < 7; i++ {
		mult := 1.0
		if overall > 0 {
			mult = clamp(avgs[i]/overall, 0.7, 1.3)
		}
		out[i] = models.WeekdayMultiplier{
			Day:        weekdayNames[i],
			Average:    roundMoney(avgs[i]),
			Multiplier: math.Round(mult*100) / 100,
		}
	}
	return out
}

// analyzeTrend compares the most recent 30 daily values with the 30 before.
func analyzeTrend(trend Trend, values []float64) models.TrendAnalysis {
	avg := calculateMean(values)
	rate := 0.0
	if trend.Slope > 0 && avg > 0 {
		rate = trend.Slope / avg * 100
	}

	n := len(values)
	recentStart := n - 30
	if recentStart < 0 {
		recentStart = 0
	}
	recent := values[recentStart:]
	priorStart := n - 60
	if priorStart < 0 {
		priorStart = 0
	}
	prior := values[priorStart:recentStart]

	recentAvg := calculateMean(recent)
	priorAvg := calculateMean(prior)
	growth := 0.0
	if priorAvg > 0 {
		growth = (recentAvg - priorAvg) / priorAvg * 100
	}

	direction := "decline"
	if trend.Slope > 0 {
		direction = "growth"
	}
	strength := "weak"
	if math.Abs(growth) > 15 {
		strength = "strong"
	} else if math.Abs(growth) > 5 {
		strength = "moderate"
	}

	desc := "Stable performance"
	if growth > 0 {
		desc = fmt.Sprintf("Growth of %.1f%% over the last 30 days", growth)
	} else if growth < 0 {
		desc = fmt.Sprintf("Decline of %.1f%% over the last 30 days", math.Abs(growth))
	}

	return models.TrendAnalysis{
		Direction:        direction,
		Rate:             math.Abs(rate),
		PeriodComparison: growth,
		Strength:         strength,
		Description:      desc,
	}
}

// forecastConfidence scores how much the projection can be trusted:
// base 70, more data and lower variance push it up, noise pushes it down.
func forecastConfidence(dataPoints int, stdDev, avgValue float64) float64 {
	confidence := 70.0
	if dataPoints > 30 {
		confidence += 10
	}
	if dataPoints > 60 {
		confidence += 10
	}
	cov := 1.0
	if avgValue > 0 {
		cov = stdDev / avgValue
	}
	if cov < 0.3 {
		confidence += 10
	}
	if cov > 0.7 {
		confidence -= 10
	}
	return clamp(confidence, 50, 95)
}

// sellerForecasts projects each seller's next 30 days from historical
// market share. Admin view only; sorted by projected revenue, top 10.
func sellerForecasts(won []models.Proposal, avgDaily float64) []models.SellerForecast {
	type agg struct {
		name    string
		count   int
		revenue float64
	}
	bySeller := make(map[string]*agg)
	var totalRevenue float64
	for _, p := range won {
		id := p.Seller.ID
		if id == "" {
			continue
		}
		a := bySeller[id]
		if a == nil {
			a = &agg{name: p.Seller.Name}
			bySeller[id] = a
		}
		a.count++
		a.revenue += p.Total
		totalRevenue += p.Total
	}

	out := make([]models.SellerForecast, 0, len(bySeller))
	for id, a := range bySeller {
		share := 0.0
		if totalRevenue > 0 {
			share = a.revenue / totalRevenue
		}
		avgSale := 0.0
		if a.count > 0 {
			avgSale = a.revenue / float64(a.count)
		}
		next30 := avgDaily * 30 * share
		next30Sales := 0
		if avgSale > 0 {
			next30Sales = int(math.Round(next30 / avgSale))
		}
		out = append(out, models.SellerForecast{
			SellerID:     id,
			SellerName:   a.name,
			Sales:        a.count,
			Revenue:      roundMoney(a.revenue),
			AvgSaleValue: roundMoney(avgSale),
			MarketShare:  math.Round(share*10000) / 100,
			Next30Sales:  next30Sales,
			Next30Value:  roundMoney(next30),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next30Value > out[j].Next30Value })
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// compareWithGoals pro-rates active goals over the forecast period and
// estimates the probability of hitting them.
func (f *ForecastService) compareWithGoals(ctx context.Context, ref time.Time, periodDays int, forecast models.PeriodForecast) models.GoalComparison {
	periodEnd := ref.AddDate(0, 0, periodDays)
	goals, err := f.store.FindActiveGoals(ctx, ref, periodEnd)
	if err != nil {
		log.Warnf("forecast: goal read failed: %v", err)
		return models.GoalComparison{HasGoals: false, Message: "goals unavailable"}
	}
	if len(goals) == 0 {
		return models.GoalComparison{HasGoals: false, Message: "no active goals for the period"}
	}

	var totalGoal float64
	for _, g := range goals {
		goalDays := g.EndDate.Sub(g.StartDate).Hours() / 24
		if goalDays <= 0 {
			continue
		}
		overlapStart := maxTime(g.StartDate, ref)
		overlapEnd := minTime(g.EndDate, periodEnd)
		overlapDays := math.Ceil(overlapEnd.Sub(overlapStart).Hours() / 24)
		if overlapDays <= 0 {
			continue
		}
		if overlapDays > float64(periodDays) {
			overlapDays = float64(periodDays)
		}
		totalGoal += g.TargetValue / math.Ceil(goalDays) * overlapDays
	}

	diff := forecast.Revenue - totalGoal
	pctDiff := 0.0
	if totalGoal > 0 {
		pctDiff = diff / totalGoal * 100
	}
	status := "below"
	if diff > 0 {
		status = "above"
	} else if diff == 0 {
		status = "on_target"
	}

	return models.GoalComparison{
		HasGoals:               true,
		Goal:                   roundMoney(totalGoal),
		Forecast:               forecast.Revenue,
		Difference:             roundMoney(diff),
		PercentageDiff:         math.Round(pctDiff),
		Status:                 status,
		AchievementProbability: achievementProbability(forecast.Revenue, totalGoal, forecast.LowerBound, forecast.UpperBound),
	}
}

// achievementProbability estimates how likely the goal is to be hit based on
// where the forecast sits relative to its confidence band.
func achievementProbability(forecast, goal, lower, upper float64) float64 {
	if goal <= 0 {
		return 95
	}
	if forecast >= goal {
		margin := (forecast - goal) / goal * 100
		if margin > 20 {
			return 95
		}
		if margin > 10 {
			return 85
		}
		return 75
	}
	if upper >= goal {
		gap := goal - forecast
		if band := upper - lower; band > 0 {
			return math.Round(50 + (1-gap/band)*30)
		}
	}
	return math.Max(10, math.Round(30-(goal-forecast)/goal*30))
}

// forecastInsights derives the headline observations of a projection.
func forecastInsights(trends models.TrendAnalysis, goals models.GoalComparison) []models.Insight {
	var insights []models.Insight

	if trends.PeriodComparison > 10 {
		insights = append(insights, models.Insight{
			Type: "success", Priority: "high", Title: "Growth detected",
			Message: fmt.Sprintf("Revenue grew %.1f%% over the last 30 days", trends.PeriodComparison),
		})
	} else if trends.PeriodComparison < -10 {
		insights = append(insights, models.Insight{
			Type: "warning", Priority: "high", Title: "Decline detected",
			Message: fmt.Sprintf("Revenue fell %.1f%% over the last 30 days", math.Abs(trends.PeriodComparison)),
		})
	}

	if goals.HasGoals {
		switch goals.Status {
		case "above":
			insights = append(insights, models.Insight{
				Type: "success", Priority: "high", Title: "Forecast above target",
				Message: fmt.Sprintf("Projection is %.1f%% above the goal (%.0f%% achievement probability)", goals.PercentageDiff, goals.AchievementProbability),
			})
		case "below":
			insights = append(insights, models.Insight{
				Type: "warning", Priority: "urgent", Title: "Target at risk",
				Message: fmt.Sprintf("Projection is %.1f%% below the goal", math.Abs(goals.PercentageDiff)),
			})
		}
	}
	return insights
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
