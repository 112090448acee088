package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/apex/log"

	"sales-insights-api/pkg/models"
)

// scoringLookbackMonths is the historical window used to calibrate scores.
const scoringLookbackMonths = 12

// ScoreService computes the 0-100 closing-probability score of a proposal
// from ten weighted factors calibrated against the historical snapshot.
type ScoreService struct {
	history *HistoryService
}

// NewScoreService creates a ScoreService.
func NewScoreService(history *HistoryService) *ScoreService {
	return &ScoreService{history: history}
}

// ComputeScore builds a fresh 12-month snapshot and scores the proposal
// against it. Errors never propagate: any failure yields the neutral result.
func (s *ScoreService) ComputeScore(ctx context.Context, p models.Proposal) models.ScoreResult {
	snap, err := s.history.BuildSnapshot(ctx, time.Now(), scoringLookbackMonths)
	if err != nil {
		log.Errorf("score: snapshot build failed: %v", err)
		return neutralScore(err.Error())
	}
	return s.ComputeScoreWithSnapshot(p, snap)
}

// ComputeScoreWithSnapshot scores one proposal against an existing snapshot.
// The result is deterministic for a given proposal and snapshot.
func (s *ScoreService) ComputeScoreWithSnapshot(p models.Proposal, snap *models.HistoricalSnapshot) (result models.ScoreResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("score: recovered computing proposal %s: %v", p.ID, r)
			result = neutralScore(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if snap == nil || !snap.Sufficient {
		res := neutralScore("")
		res.Action = "Not enough history for a calibrated score; neutral score assigned"
		res.Factors = map[string]models.Factor{}
		return res
	}

	w := snap.Weights
	factors := map[string]models.Factor{
		"seller_conversion": withWeight(sellerConversionFactor(p, snap), w.Seller),
		"client_history":    withWeight(clientHistoryFactor(p, snap), w.Client),
		"value":             withWeight(valueFactor(p, snap), w.Value),
		"time":              withWeight(timeFactor(p, snap), w.Time),
		"products":          withWeight(productsFactor(p, snap), w.Products),
		"payment_condition": withWeight(paymentConditionFactor(p), w.Payment),
		"discount":          withWeight(discountFactor(p), w.Discount),
		"seasonality":       withWeight(seasonalityFactor(p), w.Seasonality),
		"engagement":        withWeight(engagementFactor(p, snap), w.Engagement),
		"patterns":          withWeight(patternsFactor(p, snap), w.Patterns),
	}

	var weighted, totalWeight, confSum float64
	for _, f := range factors {
		weighted += f.Score * f.Weight
		totalWeight += f.Weight
		confSum += f.Confidence
	}

	score := 50.0
	if totalWeight > 0 {
		score = clampScore(weighted / totalWeight)
	}
	confidence := 50.0
	if len(factors) > 0 {
		confidence = clampScore(confSum / float64(len(factors)))
	}

	level := scoreLevel(score)
	return models.ScoreResult{
		Score:        round1(score),
		Percentual:   int(math.Round(score)),
		Level:        level,
		Action:       assembleAction(score, level, factors),
		Confidence:   round1(confidence),
		Factors:      factors,
		CalculatedAt: time.Now(),
	}
}

func withWeight(f models.Factor, weight float64) models.Factor {
	f.Weight = weight
	return f
}

// scoreLevel maps a score to its discrete band.
func scoreLevel(score float64) string {
	switch {
	case score >= 80:
		return models.LevelHigh
	case score >= 60:
		return models.LevelMedium
	case score >= 35:
		return models.LevelLow
	default:
		return models.LevelVeryLow
	}
}

// factorAdvice is the per-factor phrase used when a factor is the weakest.
var factorAdvice = map[string]string{
	"seller_conversion": "review the seller's recent pipeline",
	"client_history":    "invest in the client relationship before pushing to close",
	"value":             "revisit the proposal value against what usually closes",
	"time":              "the proposal is aging; re-engage or refresh its validity",
	"products":          "reconsider the product mix",
	"payment_condition": "offer a more attractive payment condition",
	"discount":          "the discount level is hurting the close odds",
	"seasonality":       "expect slower conversion this time of year",
	"engagement":        "the proposal has gone quiet; follow up",
	"patterns":          "similar past deals did not close well",
}

// assembleAction composes the recommended action from the score level plus
// the strongest and weakest factors, rather than a static template.
func assembleAction(score float64, level string, factors map[string]models.Factor) string {
	type kv struct {
		key string
		f   models.Factor
	}
	ranked := make([]kv, 0, len(factors))
	for k, f := range factors {
		ranked = append(ranked, kv{k, f})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].f.Score != ranked[j].f.Score {
			return ranked[i].f.Score < ranked[j].f.Score
		}
		return ranked[i].key < ranked[j].key
	})

	var base string
	switch level {
	case models.LevelHigh:
		base = fmt.Sprintf("Excellent opportunity (score %.1f). Prioritize follow-up today.", score)
	case models.LevelMedium:
		base = fmt.Sprintf("Active negotiation (score %.1f). Keep regular contact.", score)
	case models.LevelLow:
		base = fmt.Sprintf("Proposal at risk (score %.1f). Consider offering an incentive.", score)
	default:
		base = fmt.Sprintf("High risk of loss (score %.1f). Immediate action needed.", score)
	}

	if len(ranked) == 0 {
		return base
	}
	weakest := ranked[0]
	strongest := ranked[len(ranked)-1]
	if advice, ok := factorAdvice[weakest.key]; ok && weakest.f.Score < 60 {
		base += fmt.Sprintf(" Weak point: %s.", advice)
	}
	if strongest.f.Score >= 80 {
		base += fmt.Sprintf(" Strength: %s.", strongest.f.Description)
	}
	return base
}

// neutralScore is the uniform degraded result: never an error to the caller.
func neutralScore(errMsg string) models.ScoreResult {
	return models.ScoreResult{
		Score:        50,
		Percentual:   50,
		Level:        models.LevelMedium,
		Action:       "Score could not be fully computed; neutral score assigned",
		Confidence:   50,
		Factors:      map[string]models.Factor{},
		CalculatedAt: time.Now(),
		Error:        errMsg,
	}
}
