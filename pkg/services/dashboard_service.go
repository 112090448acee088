package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/apex/log"

	"sales-insights-api/pkg/cache"
	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/store"
)

const (
	dashboardCacheKey = "ai_dashboard"
	// Scoring is sequential; the batch is capped to keep dashboard latency
	// bounded on large pipelines.
	maxDashboardProposals = 100
	conversionSampleSize  = 50
)

// DashboardService composes the scoring, forecast and anomaly engines into
// the cached analytics view. It is the only consumer of the result cache.
type DashboardService struct {
	store     store.Store
	history   *HistoryService
	scores    *ScoreService
	forecasts *ForecastService
	anomalies *AnomalyService
	cache     cache.Cache
	ttl       time.Duration
}

// NewDashboardService wires the engines together. ttl bounds how long a
// composed dashboard is served before recomputation.
func NewDashboardService(st store.Store, history *HistoryService, scores *ScoreService, forecasts *ForecastService, anomalies *AnomalyService, c cache.Cache, ttl time.Duration) *DashboardService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DashboardService{
		store:     st,
		history:   history,
		scores:    scores,
		forecasts: forecasts,
		anomalies: anomalies,
		cache:     c,
		ttl:       ttl,
	}
}

// GetDashboard returns the cached dashboard, recomputing on miss. Concurrent
// misses may both recompute; the last set wins, which is fine because the
// computation is idempotent.
func (d *DashboardService) GetDashboard(ctx context.Context, userID, role string) (*models.Dashboard, error) {
	if cached, ok := d.cache.Get(dashboardCacheKey); ok {
		if dash, ok := cached.(*models.Dashboard); ok {
			return dash, nil
		}
	}

	dash, err := d.compute(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	d.cache.Set(dashboardCacheKey, dash, d.ttl)
	return dash, nil
}

// Invalidate drops the cached dashboard so the next read recomputes. Call it
// after any write to the proposal store.
func (d *DashboardService) Invalidate() {
	d.cache.Invalidate(dashboardCacheKey)
}

func (d *DashboardService) compute(ctx context.Context, userID, role string) (*models.Dashboard, error) {
	ref := time.Now()

	// One snapshot feeds every score in the batch.
	snap, err := d.history.BuildSnapshot(ctx, ref, scoringLookbackMonths)
	if err != nil {
		return nil, fmt.Errorf("dashboard: snapshot build failed: %w", err)
	}

	open, err := d.store.FindProposals(ctx, store.ProposalFilter{
		Statuses: []string{models.StatusNegotiation},
		Limit:    maxDashboardProposals,
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard: proposal read failed: %w", err)
	}

	distribution := map[string]models.LevelBucket{
		models.LevelHigh:    {},
		models.LevelMedium:  {},
		models.LevelLow:     {},
		models.LevelVeryLow: {},
	}
	var scored []models.ScoredProposal
	var failures []models.BatchFailure
	var scoreSum float64
	sellerScores := make(map[string]*nameScoreAgg)
	clientScores := make(map[string]*nameScoreAgg)

	for _, p := range open {
		res := d.scores.ComputeScoreWithSnapshot(p, snap)
		if res.Error != "" {
			log.Warnf("dashboard: score failed for proposal %s: %s", p.ID, res.Error)
			failures = append(failures, models.BatchFailure{ProposalID: p.ID, Error: res.Error})
			continue
		}
		bucket := distribution[res.Level]
		bucket.Count++
		bucket.TotalValue += p.Total
		distribution[res.Level] = bucket
		scoreSum += res.Score
		accumulateScore(sellerScores, p.Seller.ID, p.Seller.Name, res.Score)
		accumulateScore(clientScores, normalizeEmail(p.Client.Email), p.Client.Name, res.Score)
		scored = append(scored, models.ScoredProposal{
			ProposalID: p.ID,
			Number:     p.Number,
			Client:     p.Client.Name,
			Value:      p.Total,
			Score:      res.Score,
			Percentual: res.Percentual,
			Level:      res.Level,
			Action:     res.Action,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ProposalID < scored[j].ProposalID
	})

	top := scored
	if len(top) > 10 {
		top = top[:10]
	}

	var atRisk []models.ScoredProposal
	for _, sp := range scored {
		if sp.Level == models.LevelLow || sp.Level == models.LevelVeryLow {
			atRisk = append(atRisk, sp)
			if len(atRisk) == 10 {
				break
			}
		}
	}

	forecast := d.forecasts.ComputeForecast(ctx, userID, role, 30)

	conversionRates, err := d.conversionByLevel(ctx, ref, snap)
	if err != nil {
		log.Warnf("dashboard: conversion analysis failed: %v", err)
	}

	anomalies := d.anomalies.DetectAnomalies(ctx, userID, role)
	var urgent []models.Anomaly
	for _, a := range anomalies.Anomalies {
		if a.Priority == models.PriorityCritical || a.Priority == models.PriorityHigh {
			urgent = append(urgent, a)
			if len(urgent) == 10 {
				break
			}
		}
	}
	anomalies.Anomalies = urgent

	avgScore := 0.0
	if len(scored) > 0 {
		avgScore = round1(scoreSum / float64(len(scored)))
	}
	stats := models.DashboardStats{
		TotalProposalsAnalyzed: len(open),
		AvgScore:               avgScore,
		HighScoreCount:         distribution[models.LevelHigh].Count,
		RiskCount:              distribution[models.LevelLow].Count + distribution[models.LevelVeryLow].Count,
		FailedCount:            len(failures),
	}

	dash := &models.Dashboard{
		ScoreDistribution: distribution,
		TopProposals:      top,
		AtRiskProposals:   atRisk,
		Insights:          dashboardInsights(scored, atRisk, distribution, sellerScores, clientScores),
		ConversionRates:   conversionRates,
		Anomalies:         anomalies,
		Stats:             stats,
		Failures:          failures,
		GeneratedAt:       ref,
	}
	if forecast.Error == "" {
		dash.Forecast = &forecast
	}
	return dash, nil
}

// conversionByLevel scores a sample of recent decided proposals and measures
// the observed close rate per score level.
func (d *DashboardService) conversionByLevel(ctx context.Context, ref time.Time, snap *models.HistoricalSnapshot) ([]models.ConversionByLevel, error) {
	recent, err := d.store.FindProposals(ctx, store.ProposalFilter{
		CreatedAfter: ref.AddDate(0, -3, 0),
		Limit:        200,
	})
	if err != nil {
		return nil, err
	}
	if len(recent) > conversionSampleSize {
		recent = recent[:conversionSampleSize]
	}

	type bucket struct {
		closed, total int
	}
	buckets := map[string]*bucket{
		models.LevelHigh:    {},
		models.LevelMedium:  {},
		models.LevelLow:     {},
		models.LevelVeryLow: {},
	}
	for _, p := range recent {
		res := d.scores.ComputeScoreWithSnapshot(p, snap)
		b := buckets[res.Level]
		if b == nil {
			continue
		}
		b.total++
		if p.Status == models.StatusWon {
			b.closed++
		}
	}

	levels := []string{models.LevelHigh, models.LevelMedium, models.LevelLow, models.LevelVeryLow}
	out := make([]models.ConversionByLevel, 0, len(levels))
	for _, level := range levels {
		b := buckets[level]
		rate := 0.0
		if b.total > 0 {
			rate = round1(float64(b.closed) / float64(b.total) * 100)
		}
		out = append(out, models.ConversionByLevel{
			Level:  level,
			Rate:   rate,
			Closed: b.closed,
			Total:  b.total,
		})
	}
	return out, nil
}

// nameScoreAgg accumulates mean scores per seller or client.
type nameScoreAgg struct {
	name  string
	sum   float64
	count int
}

func accumulateScore(m map[string]*nameScoreAgg, key, name string, score float64) {
	if key == "" {
		return
	}
	a := m[key]
	if a == nil {
		a = &nameScoreAgg{name: name}
		m[key] = a
	}
	a.sum += score
	a.count++
}

// bestAvg returns the entry with the highest mean score, key tie-break.
func bestAvg(m map[string]*nameScoreAgg) (*nameScoreAgg, float64) {
	var best *nameScoreAgg
	bestScore := 0.0
	bestKey := ""
	for key, a := range m {
		avg := a.sum / float64(a.count)
		if best == nil || avg > bestScore || (avg == bestScore && key < bestKey) {
			best, bestScore, bestKey = a, avg, key
		}
	}
	return best, bestScore
}

// dashboardInsights derives the headline observations of a scoring batch.
func dashboardInsights(scored, atRisk []models.ScoredProposal, distribution map[string]models.LevelBucket, sellerScores, clientScores map[string]*nameScoreAgg) []models.Insight {
	var insights []models.Insight

	if seller, avg := bestAvg(sellerScores); seller != nil {
		insights = append(insights, models.Insight{
			Type:     "info",
			Priority: "high",
			Title:    "Best average score",
			Message:  fmt.Sprintf("%s averages %.1f across %d open proposals", seller.name, avg, seller.count),
		})
	}
	if client, avg := bestAvg(clientScores); client != nil && avg > 70 {
		insights = append(insights, models.Insight{
			Type:     "success",
			Priority: "high",
			Title:    "High-potential client",
			Message:  fmt.Sprintf("%s averages a %.1f score; good opportunity", client.name, avg),
		})
	}

	if len(atRisk) > 0 {
		var riskValue float64
		for _, sp := range atRisk {
			riskValue += sp.Value
		}
		insights = append(insights, models.Insight{
			Type:     "warning",
			Priority: "urgent",
			Title:    fmt.Sprintf("%d proposals at risk", len(atRisk)),
			Message:  fmt.Sprintf("%.2f in proposals with a low score needs attention", riskValue),
		})
	}

	total := 0
	for _, bucket := range distribution {
		total += bucket.Count
	}
	if total > 0 {
		highPct := float64(distribution[models.LevelHigh].Count) / float64(total) * 100
		if highPct < 30 {
			insights = append(insights, models.Insight{
				Type:     "info",
				Priority: "medium",
				Title:    "Improvement opportunity",
				Message:  fmt.Sprintf("Only %.1f%% of open proposals have a high score", highPct),
			})
		}
	}

	if len(scored) > 0 && scored[0].Score >= 80 {
		insights = append(insights, models.Insight{
			Type:     "success",
			Priority: "high",
			Title:    "Hot opportunity",
			Message:  fmt.Sprintf("Proposal %s for %s has a %.1f score; prioritize it", scored[0].Number, scored[0].Client, scored[0].Score),
		})
	}
	return insights
}
