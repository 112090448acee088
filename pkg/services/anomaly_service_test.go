package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/store"
)

func decidedAt(id, sellerID, status string, total float64, updated time.Time) models.Proposal {
	return models.Proposal{
		ID:        id,
		Status:    status,
		Total:     total,
		Subtotal:  total,
		CreatedAt: updated.AddDate(0, 0, -5),
		UpdatedAt: updated,
		Seller:    models.SellerRef{ID: sellerID, Name: "Seller " + sellerID},
		Client:    models.ClientRef{Name: "C", Email: "c@c.com"},
	}
}

func findAnomaly(anomalies []models.Anomaly, kind string) *models.Anomaly {
	for i := range anomalies {
		if anomalies[i].Type == kind {
			return &anomalies[i]
		}
	}
	return nil
}

func TestDetectSellerSurge(t *testing.T) {
	ref := fixtureRef
	var proposals []models.Proposal
	// Recent 30 days: 4 of 5 won (80%). Prior 30: 2 of 5 won (40%).
	for i := 0; i < 5; i++ {
		status := models.StatusWon
		if i == 4 {
			status = models.StatusLost
		}
		proposals = append(proposals, decidedAt(fmt.Sprintf("r%d", i), "s1", status, 1000, ref.AddDate(0, 0, -10)))
	}
	for i := 0; i < 5; i++ {
		status := models.StatusLost
		if i < 2 {
			status = models.StatusWon
		}
		proposals = append(proposals, decidedAt(fmt.Sprintf("p%d", i), "s1", status, 1000, ref.AddDate(0, 0, -45)))
	}

	out := detectSellerPerformance(proposals, ref)
	surge := findAnomaly(out, models.AnomalySellerSurge)
	require.NotNil(t, surge)
	assert.Equal(t, models.PriorityMedium, surge.Priority)
}

func TestDetectSellerDrop(t *testing.T) {
	ref := fixtureRef
	var proposals []models.Proposal
	// Recent: 1 of 4 won (25%). Prior: 4 of 5 won (80%), a 69% relative drop.
	for i := 0; i < 4; i++ {
		status := models.StatusLost
		if i == 0 {
			status = models.StatusWon
		}
		proposals = append(proposals, decidedAt(fmt.Sprintf("r%d", i), "s1", status, 1000, ref.AddDate(0, 0, -5)))
	}
	for i := 0; i < 5; i++ {
		status := models.StatusWon
		if i == 4 {
			status = models.StatusLost
		}
		proposals = append(proposals, decidedAt(fmt.Sprintf("p%d", i), "s1", status, 1000, ref.AddDate(0, 0, -40)))
	}

	out := detectSellerPerformance(proposals, ref)
	drop := findAnomaly(out, models.AnomalySellerDrop)
	require.NotNil(t, drop)
	assert.Equal(t, models.PriorityCritical, drop.Priority)
}

func TestDetectSellerPerformanceNeedsRecentVolume(t *testing.T) {
	ref := fixtureRef
	proposals := []models.Proposal{
		decidedAt("r0", "s1", models.StatusLost, 1000, ref.AddDate(0, 0, -5)),
		decidedAt("r1", "s1", models.StatusLost, 1000, ref.AddDate(0, 0, -6)),
		decidedAt("p0", "s1", models.StatusWon, 1000, ref.AddDate(0, 0, -40)),
	}
	assert.Empty(t, detectSellerPerformance(proposals, ref))
}

func TestDetectSellerInactivity(t *testing.T) {
	ref := fixtureRef
	p := decidedAt("old", "s1", models.StatusWon, 1000, ref.AddDate(0, 0, -25))
	p.CreatedAt = ref.AddDate(0, 0, -30)

	out := detectSellerInactivity([]models.Proposal{p}, ref)
	require.Len(t, out, 1)
	assert.Equal(t, models.AnomalySellerInactivity, out[0].Type)
	assert.Equal(t, models.PriorityHigh, out[0].Priority)

	// Active sellers are not flagged.
	active := decidedAt("new", "s1", models.StatusWon, 1000, ref.AddDate(0, 0, -2))
	active.CreatedAt = ref.AddDate(0, 0, -2)
	assert.Empty(t, detectSellerInactivity([]models.Proposal{p, active}, ref))
}

func TestDetectClientChurn(t *testing.T) {
	ref := fixtureRef
	// Usual gap 50 days, silent for 150: risk score caps at 100.
	first := decidedAt("w1", "s1", models.StatusWon, 1000, ref.AddDate(0, 0, -200))
	second := decidedAt("w2", "s1", models.StatusWon, 1000, ref.AddDate(0, 0, -150))
	first.Client = models.ClientRef{Name: "Acme", Email: "acme@x.com"}
	second.Client = first.Client

	out := detectClientChurn([]models.Proposal{first, second}, ref)
	require.Len(t, out, 1)
	assert.Equal(t, models.AnomalyClientChurn, out[0].Type)
	assert.Equal(t, models.PriorityCritical, out[0].Priority)
	assert.Equal(t, 100.0, out[0].Details["risk_score"])
}

func TestDetectProductDemand(t *testing.T) {
	ref := fixtureRef
	mk := func(id string, updated time.Time, productID string, qty int) models.Proposal {
		p := decidedAt(id, "s1", models.StatusWon, 1000, updated)
		p.Items = []models.ProposalItem{{ProductID: productID, ProductName: productID, Quantity: qty, Total: 1000}}
		return p
	}
	proposals := []models.Proposal{
		// pX: 2 prior, 8 recent (+300%).
		mk("x1", ref.AddDate(0, 0, -45), "pX", 2),
		mk("x2", ref.AddDate(0, 0, -10), "pX", 8),
		// pY: 10 prior, 2 recent (-80%).
		mk("y1", ref.AddDate(0, 0, -45), "pY", 10),
		mk("y2", ref.AddDate(0, 0, -10), "pY", 2),
	}

	out := detectProductDemand(proposals, ref)
	surge := findAnomaly(out, models.AnomalyDemandSurge)
	require.NotNil(t, surge)
	assert.Equal(t, models.PriorityHigh, surge.Priority)

	drop := findAnomaly(out, models.AnomalyDemandDrop)
	require.NotNil(t, drop)
	assert.Equal(t, models.PriorityMedium, drop.Priority)
}

func TestDetectStaleProposalsBatchesIntoOne(t *testing.T) {
	ref := fixtureRef
	var proposals []models.Proposal
	for i := 0; i < 4; i++ {
		p := decidedAt(fmt.Sprintf("stale%d", i), "s1", models.StatusNegotiation, 5000, ref)
		p.CreatedAt = ref.AddDate(0, 0, -100-i)
		proposals = append(proposals, p)
	}
	fresh := decidedAt("fresh", "s1", models.StatusNegotiation, 5000, ref)
	fresh.CreatedAt = ref.AddDate(0, 0, -10)
	proposals = append(proposals, fresh)

	out := detectStaleProposals(proposals, ref)
	require.Len(t, out, 1)
	assert.Equal(t, models.PriorityHigh, out[0].Priority)
	assert.Equal(t, 4, out[0].Details["count"])
}

func TestDetectSuspiciousTiming(t *testing.T) {
	ref := fixtureRef
	var proposals []models.Proposal
	for i := 0; i < 3; i++ {
		p := decidedAt(fmt.Sprintf("n%d", i), "s1", models.StatusNegotiation, 1000, ref)
		p.CreatedAt = time.Date(ref.Year(), ref.Month(), ref.Day()-1, 3, 0, 0, 0, time.UTC)
		proposals = append(proposals, p)
	}

	out := detectSuspiciousTiming(proposals, ref)
	require.Len(t, out, 1)
	assert.Equal(t, models.AnomalySuspiciousTiming, out[0].Type)
	assert.Equal(t, models.PriorityMedium, out[0].Priority)

	// Two is below the trigger.
	assert.Empty(t, detectSuspiciousTiming(proposals[:2], ref))
}

func TestDetectValueOutliers(t *testing.T) {
	ref := fixtureRef
	var proposals []models.Proposal
	for i := 0; i < 10; i++ {
		proposals = append(proposals, decidedAt(fmt.Sprintf("n%d", i), "s1", models.StatusWon, 1000, ref.AddDate(0, 0, -i-1)))
	}
	big := decidedAt("big", "s1", models.StatusWon, 100000, ref.AddDate(0, 0, -3))
	proposals = append(proposals, big)

	out := detectValueOutliers(proposals, ref)
	require.Len(t, out, 1)
	assert.Equal(t, models.PriorityLow, out[0].Priority)
}

func TestDetectRevenueSwing(t *testing.T) {
	ref := fixtureRef
	drop := []models.Proposal{
		decidedAt("p1", "s1", models.StatusWon, 100000, ref.AddDate(0, 0, -45)),
		decidedAt("r1", "s1", models.StatusWon, 10000, ref.AddDate(0, 0, -10)),
	}
	out := detectRevenueSwing(drop, ref)
	require.Len(t, out, 1)
	assert.Equal(t, models.AnomalyRevenueDrop, out[0].Type)
	assert.Equal(t, models.PriorityCritical, out[0].Priority)

	surge := []models.Proposal{
		decidedAt("p1", "s1", models.StatusWon, 10000, ref.AddDate(0, 0, -45)),
		decidedAt("r1", "s1", models.StatusWon, 20000, ref.AddDate(0, 0, -10)),
	}
	out = detectRevenueSwing(surge, ref)
	require.Len(t, out, 1)
	assert.Equal(t, models.AnomalyRevenueSurge, out[0].Type)
	assert.Equal(t, models.PriorityLow, out[0].Priority)
}

func TestAnomalyReportOrdering(t *testing.T) {
	now := time.Now()
	st := store.NewMemoryStore()
	// Churned client (critical) plus night-time proposals (medium).
	first := decidedAt("w1", "s1", models.StatusWon, 1000, now.AddDate(0, 0, -200))
	second := decidedAt("w2", "s1", models.StatusWon, 1000, now.AddDate(0, 0, -150))
	first.Client = models.ClientRef{Name: "Acme", Email: "acme@x.com"}
	second.Client = first.Client
	st.Proposals = append(st.Proposals, first, second)
	for i := 0; i < 3; i++ {
		p := decidedAt(fmt.Sprintf("n%d", i), "s2", models.StatusNegotiation, 1000, now)
		p.CreatedAt = time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
		st.Proposals = append(st.Proposals, p)
	}

	svc := NewAnomalyService(st)
	report := svc.DetectAnomalies(context.Background(), "", "admin")

	require.GreaterOrEqual(t, report.Total, 2)
	assert.Equal(t, report.Total, len(report.Anomalies))
	lastRank := -1
	for _, a := range report.Anomalies {
		rank := priorityRank[a.Priority]
		assert.GreaterOrEqual(t, rank, lastRank)
		lastRank = rank
		assert.NotEmpty(t, a.ID)
		assert.False(t, a.DetectedAt.IsZero())
	}
	sum := 0
	for _, n := range report.ByPriority {
		sum += n
	}
	assert.Equal(t, report.Total, sum)
}
