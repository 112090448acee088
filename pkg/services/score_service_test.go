package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-insights-api/pkg/models"
)

// targetProposal is a fresh, well-positioned proposal for the loyal acme
// client: mid-range value, cash payment, no discount, recently touched.
func targetProposal() models.Proposal {
	created := fixtureRef.AddDate(0, 0, -1)
	return models.Proposal{
		ID:               "target",
		Number:           "P-target",
		Status:           models.StatusNegotiation,
		Total:            12000,
		Subtotal:         12000,
		CreatedAt:        created,
		UpdatedAt:        fixtureRef.Add(-2 * time.Hour),
		ValidUntil:       fixtureRef.AddDate(0, 0, 20),
		Seller:           models.SellerRef{ID: "s1", Name: "Seller s1"},
		Client:           models.ClientRef{Name: "Acme", Email: "buyer@acme.com"},
		Items:            tripleItems(),
		PaymentCondition: "cash",
	}
}

func buildFixtureSnapshot(t *testing.T) *models.HistoricalSnapshot {
	t.Helper()
	svc := NewHistoryService(fixtureStore())
	snap, err := svc.BuildSnapshot(context.Background(), fixtureRef, 12)
	require.NoError(t, err)
	require.True(t, snap.Sufficient)
	return snap
}

func TestScoreWellPositionedProposalIsHigh(t *testing.T) {
	snap := buildFixtureSnapshot(t)
	svc := NewScoreService(nil)

	res := svc.ComputeScoreWithSnapshot(targetProposal(), snap)

	assert.Empty(t, res.Error)
	assert.GreaterOrEqual(t, res.Score, 80.0)
	assert.Equal(t, models.LevelHigh, res.Level)
	assert.Len(t, res.Factors, 10)
	assert.NotEmpty(t, res.Action)
}

func TestScoreBoundsAndLevels(t *testing.T) {
	snap := buildFixtureSnapshot(t)
	svc := NewScoreService(nil)

	proposals := []models.Proposal{targetProposal()}

	// A badly positioned variant: weak seller, unknown client, expired,
	// heavy discount, no items.
	bad := targetProposal()
	bad.Seller = models.SellerRef{ID: "s2", Name: "Seller s2"}
	bad.Client = models.ClientRef{Name: "Nobody", Email: "nobody@new.com"}
	bad.CreatedAt = fixtureRef.AddDate(0, 0, -120)
	bad.UpdatedAt = fixtureRef.AddDate(0, 0, -45)
	bad.ValidUntil = fixtureRef.AddDate(0, 0, -5)
	bad.Subtotal = 20000
	bad.Total = 14000
	bad.Items = nil
	proposals = append(proposals, bad)

	for _, p := range proposals {
		res := svc.ComputeScoreWithSnapshot(p, snap)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 100.0)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 100.0)
		for name, f := range res.Factors {
			assert.GreaterOrEqualf(t, f.Score, 0.0, "factor %s", name)
			assert.LessOrEqualf(t, f.Score, 100.0, "factor %s", name)
		}
		assert.Contains(t, []string{models.LevelHigh, models.LevelMedium, models.LevelLow, models.LevelVeryLow}, res.Level)
	}
}

func TestScoreDeterministic(t *testing.T) {
	snap := buildFixtureSnapshot(t)
	svc := NewScoreService(nil)
	p := targetProposal()

	first := svc.ComputeScoreWithSnapshot(p, snap)
	second := svc.ComputeScoreWithSnapshot(p, snap)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Level, second.Level)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Factors, second.Factors)
}

func TestScoreSellerMonotonicity(t *testing.T) {
	snap := buildFixtureSnapshot(t)
	svc := NewScoreService(nil)

	strong := targetProposal()
	weak := targetProposal()
	weak.Seller = models.SellerRef{ID: "s2", Name: "Seller s2"}
	// Keep the client factor out of the comparison.
	strong.Client = models.ClientRef{Name: "X", Email: "x@x.com"}
	weak.Client = strong.Client

	strongRes := svc.ComputeScoreWithSnapshot(strong, snap)
	weakRes := svc.ComputeScoreWithSnapshot(weak, snap)

	assert.Greater(t, strongRes.Score, weakRes.Score)
}

func TestScoreInsufficientHistoryIsNeutral(t *testing.T) {
	svc := NewScoreService(nil)
	res := svc.ComputeScoreWithSnapshot(targetProposal(), &models.HistoricalSnapshot{Sufficient: false})

	assert.Equal(t, 50.0, res.Score)
	assert.Equal(t, 50, res.Percentual)
	assert.Equal(t, models.LevelMedium, res.Level)
	assert.Equal(t, 50.0, res.Confidence)
	assert.Empty(t, res.Factors)
}

func TestScoreNilSnapshotIsNeutral(t *testing.T) {
	svc := NewScoreService(nil)
	res := svc.ComputeScoreWithSnapshot(targetProposal(), nil)
	assert.Equal(t, 50.0, res.Score)
}

func TestScoreLevelThresholds(t *testing.T) {
	assert.Equal(t, models.LevelHigh, scoreLevel(80))
	assert.Equal(t, models.LevelMedium, scoreLevel(79.9))
	assert.Equal(t, models.LevelMedium, scoreLevel(60))
	assert.Equal(t, models.LevelLow, scoreLevel(59.9))
	assert.Equal(t, models.LevelLow, scoreLevel(35))
	assert.Equal(t, models.LevelVeryLow, scoreLevel(34.9))
}

func TestDiscountFactorBands(t *testing.T) {
	cases := []struct {
		subtotal, total, want float64
	}{
		{10000, 10000, 85},
		{10000, 9600, 90},
		{10000, 9200, 75},
		{10000, 8500, 60},
		{10000, 7000, 40},
	}
	for _, c := range cases {
		f := discountFactor(models.Proposal{Subtotal: c.subtotal, Total: c.total})
		assert.Equalf(t, c.want, f.Score, "subtotal=%v total=%v", c.subtotal, c.total)
	}
}

func TestPaymentConditionFactor(t *testing.T) {
	assert.Equal(t, 85.0, paymentConditionFactor(models.Proposal{PaymentCondition: "cash"}).Score)
	assert.Equal(t, 75.0, paymentConditionFactor(models.Proposal{PaymentCondition: "credit 3x"}).Score)
	assert.Equal(t, 60.0, paymentConditionFactor(models.Proposal{PaymentCondition: "credit 12x"}).Score)
	assert.Equal(t, 70.0, paymentConditionFactor(models.Proposal{PaymentCondition: "boleto"}).Score)
	assert.Equal(t, 65.0, paymentConditionFactor(models.Proposal{PaymentCondition: "goats"}).Score)
}

func TestSeasonalityFactorUsesCreationMonth(t *testing.T) {
	dec := seasonalityFactor(models.Proposal{CreatedAt: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)})
	jan := seasonalityFactor(models.Proposal{CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, 85.0, dec.Score)
	assert.Equal(t, 55.0, jan.Score)
}
