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

var fixtureRef = time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)

func tripleItems() []models.ProposalItem {
	return []models.ProposalItem{
		{ProductID: "pA", ProductName: "Alpha", Category: "widgets", Quantity: 1, UnitPrice: 4000, Total: 4000},
		{ProductID: "pB", ProductName: "Beta", Category: "widgets", Quantity: 1, UnitPrice: 4000, Total: 4000},
		{ProductID: "pC", ProductName: "Gamma", Category: "gadgets", Quantity: 1, UnitPrice: 4000, Total: 4000},
	}
}

func fixtureProposal(id, sellerID, clientEmail, status string, total float64, createdDaysAgo int) models.Proposal {
	created := fixtureRef.AddDate(0, 0, -createdDaysAgo)
	updated := created
	if models.IsDecided(status) {
		updated = created.AddDate(0, 0, 10)
	}
	return models.Proposal{
		ID:         id,
		Number:     "P-" + id,
		Status:     status,
		Total:      total,
		Subtotal:   total,
		CreatedAt:  created,
		UpdatedAt:  updated,
		ValidUntil: created.AddDate(0, 0, 30),
		Seller:     models.SellerRef{ID: sellerID, Name: "Seller " + sellerID},
		Client:     models.ClientRef{Name: "Client", Email: clientEmail},
		Items:      tripleItems(),
	}
}

// fixtureStore is a 20-proposal history: seller s1 closes 9 of 10, seller s2
// only 3 of 10, and acme is a loyal repeat client of s1.
func fixtureStore() *store.MemoryStore {
	st := store.NewMemoryStore()

	// Seller s1: six decided proposals for acme at 12000 (5 won, 1 lost).
	for i := 0; i < 6; i++ {
		status := models.StatusWon
		if i == 5 {
			status = models.StatusLost
		}
		st.Proposals = append(st.Proposals,
			fixtureProposal(fmt.Sprintf("s1-acme-%d", i), "s1", "buyer@acme.com", status, 12000, 20+i))
	}
	// Seller s1: four more wins at varied values.
	for i, total := range []float64{9000, 10000, 14000, 16000} {
		st.Proposals = append(st.Proposals,
			fixtureProposal(fmt.Sprintf("s1-other-%d", i), "s1", fmt.Sprintf("c%d@corp.com", i), models.StatusWon, total, 30+i))
	}
	// Seller s2: ten decided proposals, only three won.
	for i, total := range []float64{6000, 7000, 8000, 11000, 12000, 13000, 15000, 18000, 19000, 20000} {
		status := models.StatusLost
		if i < 3 {
			status = models.StatusWon
		}
		st.Proposals = append(st.Proposals,
			fixtureProposal(fmt.Sprintf("s2-%d", i), "s2", fmt.Sprintf("d%d@corp.com", i), status, total, 40+i))
	}
	return st
}

func TestBuildSnapshotRollups(t *testing.T) {
	svc := NewHistoryService(fixtureStore())
	snap, err := svc.BuildSnapshot(context.Background(), fixtureRef, 12)
	require.NoError(t, err)

	assert.True(t, snap.Sufficient)
	assert.Equal(t, 20, snap.TotalProposals)
	assert.Equal(t, 12, snap.WonCount)
	assert.Equal(t, 8, snap.LostCount)
	assert.InDelta(t, 0.6, snap.ConversionRate, 1e-9)

	s1 := snap.Sellers["s1"]
	require.NotNil(t, s1)
	assert.Equal(t, 9, s1.Won)
	assert.Equal(t, 1, s1.Lost)
	assert.InDelta(t, 0.9, s1.WinRate(), 1e-9)

	acme := snap.Clients["buyer@acme.com"]
	require.NotNil(t, acme)
	assert.Equal(t, 6, acme.Total)
	assert.Equal(t, 5, acme.Won)
	assert.InDelta(t, 60000, acme.Revenue, 1e-9)

	ic := snap.ItemCounts[3]
	require.NotNil(t, ic)
	assert.Equal(t, 20, ic.Decided)
	assert.Equal(t, 12, ic.Won)

	assert.InDelta(t, 11000, snap.Percentiles.P25, 1e-9)
	assert.InDelta(t, 15000, snap.Percentiles.P75, 1e-9)
	assert.InDelta(t, 10, snap.AvgDaysToClose, 1e-9)
}

func TestBuildSnapshotInsufficient(t *testing.T) {
	st := store.NewMemoryStore()
	for i := 0; i < 5; i++ {
		st.Proposals = append(st.Proposals,
			fixtureProposal(fmt.Sprintf("p%d", i), "s1", "a@b.com", models.StatusWon, 1000, i+1))
	}
	svc := NewHistoryService(st)
	snap, err := svc.BuildSnapshot(context.Background(), fixtureRef, 12)
	require.NoError(t, err)
	assert.False(t, snap.Sufficient)
}

func TestDeriveWeights(t *testing.T) {
	small := deriveWeights(20, 10, 10)
	assert.Equal(t, defaultWeights, small)

	bumped := deriveWeights(60, 4, 6)
	assert.Equal(t, 25.0, bumped.Seller)
	assert.Equal(t, 30.0, bumped.Client)

	lowCardinality := deriveWeights(60, 2, 3)
	assert.Equal(t, defaultWeights, lowCardinality)
}

func TestSnapshotIgnoresOutlierCloseTimes(t *testing.T) {
	st := fixtureStore()
	// A win that took two years must not distort the average.
	slow := fixtureProposal("slow", "s1", "slow@corp.com", models.StatusWon, 10000, 30)
	slow.UpdatedAt = slow.CreatedAt.AddDate(2, 0, 0)
	st.Proposals = append(st.Proposals, slow)

	svc := NewHistoryService(st)
	snap, err := svc.BuildSnapshot(context.Background(), fixtureRef, 12)
	require.NoError(t, err)
	assert.InDelta(t, 10, snap.AvgDaysToClose, 1e-9)
}
