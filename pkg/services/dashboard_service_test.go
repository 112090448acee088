package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-insights-api/pkg/cache"
	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/store"
)

// dashboardStore seeds enough history for every engine: 12 decided proposals
// over the last two months and 5 open negotiations.
func dashboardStore() *store.MemoryStore {
	st := store.NewMemoryStore()
	now := time.Now()

	for i := 0; i < 12; i++ {
		status := models.StatusWon
		if i%4 == 3 {
			status = models.StatusLost
		}
		closed := now.AddDate(0, 0, -3*i-5)
		st.Proposals = append(st.Proposals, models.Proposal{
			ID:         fmt.Sprintf("h%d", i),
			Number:     fmt.Sprintf("P-h%d", i),
			Status:     status,
			Total:      10000 + float64(i)*500,
			Subtotal:   10000 + float64(i)*500,
			CreatedAt:  closed.AddDate(0, 0, -8),
			UpdatedAt:  closed,
			ValidUntil: closed.AddDate(0, 0, 30),
			Seller:     models.SellerRef{ID: "s1", Name: "Seller s1"},
			Client:     models.ClientRef{Name: "Acme", Email: "acme@x.com"},
			Items:      tripleItems(),
		})
	}
	for i := 0; i < 5; i++ {
		created := now.AddDate(0, 0, -i-1)
		st.Proposals = append(st.Proposals, models.Proposal{
			ID:               fmt.Sprintf("n%d", i),
			Number:           fmt.Sprintf("P-n%d", i),
			Status:           models.StatusNegotiation,
			Total:            11000,
			Subtotal:         11000,
			CreatedAt:        created,
			UpdatedAt:        created,
			ValidUntil:       created.AddDate(0, 0, 30),
			Seller:           models.SellerRef{ID: "s1", Name: "Seller s1"},
			Client:           models.ClientRef{Name: "Acme", Email: "acme@x.com"},
			Items:            tripleItems(),
			PaymentCondition: "cash",
		})
	}
	return st
}

func newDashboardService(st store.Store, c cache.Cache) *DashboardService {
	history := NewHistoryService(st)
	return NewDashboardService(
		st,
		history,
		NewScoreService(history),
		NewForecastService(st),
		NewAnomalyService(st),
		c,
		5*time.Minute,
	)
}

func TestDashboardCompose(t *testing.T) {
	svc := newDashboardService(dashboardStore(), cache.NewMemoryCache())

	dash, err := svc.GetDashboard(context.Background(), "", "admin")
	require.NoError(t, err)

	assert.Equal(t, 5, dash.Stats.TotalProposalsAnalyzed)
	assert.Zero(t, dash.Stats.FailedCount)

	counted := 0
	for _, bucket := range dash.ScoreDistribution {
		counted += bucket.Count
	}
	assert.Equal(t, 5, counted)

	require.NotEmpty(t, dash.TopProposals)
	assert.LessOrEqual(t, len(dash.TopProposals), 10)
	for i := 1; i < len(dash.TopProposals); i++ {
		assert.GreaterOrEqual(t, dash.TopProposals[i-1].Score, dash.TopProposals[i].Score)
	}

	require.NotNil(t, dash.Forecast)
	assert.Empty(t, dash.Forecast.Error)

	require.Len(t, dash.ConversionRates, 4)
	for _, a := range dash.Anomalies.Anomalies {
		assert.Contains(t, []string{models.PriorityCritical, models.PriorityHigh}, a.Priority)
	}
	assert.False(t, dash.GeneratedAt.IsZero())
}

func TestDashboardCaching(t *testing.T) {
	svc := newDashboardService(dashboardStore(), cache.NewMemoryCache())
	ctx := context.Background()

	first, err := svc.GetDashboard(ctx, "", "admin")
	require.NoError(t, err)
	second, err := svc.GetDashboard(ctx, "", "admin")
	require.NoError(t, err)
	assert.Same(t, first, second)

	svc.Invalidate()
	third, err := svc.GetDashboard(ctx, "", "admin")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestDashboardCacheExpiry(t *testing.T) {
	now := time.Now()
	clock := &now
	c := cache.NewMemoryCacheWithClock(func() time.Time { return *clock })
	svc := newDashboardService(dashboardStore(), c)
	ctx := context.Background()

	first, err := svc.GetDashboard(ctx, "", "admin")
	require.NoError(t, err)

	// Within the TTL the cached composite is served.
	later := now.Add(4 * time.Minute)
	clock = &later
	second, err := svc.GetDashboard(ctx, "", "admin")
	require.NoError(t, err)
	assert.Same(t, first, second)

	// Past the TTL the next read recomputes.
	expired := now.Add(6 * time.Minute)
	clock = &expired
	third, err := svc.GetDashboard(ctx, "", "admin")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestConversionRatesCoverAllLevels(t *testing.T) {
	svc := newDashboardService(dashboardStore(), cache.NewMemoryCache())
	dash, err := svc.GetDashboard(context.Background(), "", "admin")
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, c := range dash.ConversionRates {
		seen[c.Level] = true
		assert.GreaterOrEqual(t, c.Rate, 0.0)
		assert.LessOrEqual(t, c.Rate, 100.0)
	}
	for _, level := range []string{models.LevelHigh, models.LevelMedium, models.LevelLow, models.LevelVeryLow} {
		assert.True(t, seen[level])
	}
}
