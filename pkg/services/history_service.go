package services

import (
	"context"
	"strings"
	"time"

	"github.com/apex/log"

	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/store"
)

// minHistoricalRecords is the sample size below which dependent engines fall
// back to a conservative neutral score instead of fitting noise.
const minHistoricalRecords = 10

// defaultWeights is the base factor weight configuration of the scoring model.
var defaultWeights = models.FactorWeights{
	Seller:      20,
	Client:      25,
	Value:       15,
	Time:        15,
	Products:    10,
	Payment:     10,
	Discount:    5,
	Seasonality: 5,
	Engagement:  5,
	Patterns:    5,
}

// HistoryService builds the in-memory historical snapshot every other engine
// calibrates against. Pure read: it derives summaries and mutates nothing.
type HistoryService struct {
	store store.Store
}

// NewHistoryService creates a HistoryService over the given store.
func NewHistoryService(st store.Store) *HistoryService {
	return &HistoryService{store: st}
}

// BuildSnapshot loads every proposal in the trailing lookback window and
// derives the rollups described by the snapshot type. The snapshot is a pure
// function of the proposal set at call time; nothing is persisted.
func (h *HistoryService) BuildSnapshot(ctx context.Context, ref time.Time, lookbackMonths int) (*models.HistoricalSnapshot, error) {
	proposals, err := h.store.FindProposals(ctx, store.ProposalFilter{
		CreatedAfter: ref.AddDate(0, -lookbackMonths, 0),
	})
	if err != nil {
		return nil, err
	}

	snap := &models.HistoricalSnapshot{
		ReferenceTime:  ref,
		LookbackMonths: lookbackMonths,
		Proposals:      proposals,
		TotalProposals: len(proposals),
		Sellers:        make(map[string]*models.SellerStats),
		Clients:        make(map[string]*models.ClientStats),
		Products:       make(map[string]*models.ProductStats),
		ItemCounts:     make(map[int]*models.ItemCountStats),
	}

	var totals []float64
	var daysToClose []float64

	for _, p := range proposals {
		totals = append(totals, p.Total)
		won := p.Status == models.StatusWon
		lost := p.Status == models.StatusLost

		if won {
			snap.WonCount++
		}
		if lost {
			snap.LostCount++
		}

		if p.Seller.ID != "" {
			ss := snap.Sellers[p.Seller.ID]
			if ss == nil {
				ss = &models.SellerStats{}
				snap.Sellers[p.Seller.ID] = ss
			}
			ss.Total++
			if won {
				ss.Won++
				ss.Revenue += p.Total
			}
			if lost {
				ss.Lost++
			}
		}

		if email := strings.ToLower(strings.TrimSpace(p.Client.Email)); email != "" {
			cs := snap.Clients[email]
			if cs == nil {
				cs = &models.ClientStats{Name: p.Client.Name}
				snap.Clients[email] = cs
			}
			cs.Total++
			if won {
				cs.Won++
				cs.Revenue += p.Total
			}
			if lost {
				cs.Lost++
			}
		}

		for _, item := range p.Items {
			if item.ProductID == "" {
				continue
			}
			ps := snap.Products[item.ProductID]
			if ps == nil {
				ps = &models.ProductStats{Name: item.ProductName}
				snap.Products[item.ProductID] = ps
			}
			ps.Total++
			if won {
				ps.Won++
			}
		}

		if models.IsDecided(p.Status) {
			ic := snap.ItemCounts[len(p.Items)]
			if ic == nil {
				ic = &models.ItemCountStats{}
				snap.ItemCounts[len(p.Items)] = ic
			}
			ic.Decided++
			if won {
				ic.Won++
			}
		}

		if won {
			days := p.UpdatedAt.Sub(p.CreatedAt).Hours() / 24
			// Outlier close times are excluded from the average.
			if days >= 0 && days <= 365 {
				daysToClose = append(daysToClose, days)
			}
		}
	}

	if decided := snap.WonCount + snap.LostCount; decided > 0 {
		snap.ConversionRate = clampRatio(float64(snap.WonCount) / float64(decided))
	}

	sorted := sortedCopy(totals)
	snap.Percentiles = models.Percentiles{
		P10: percentile(sorted, 0.10),
		P25: percentile(sorted, 0.25),
		P50: percentile(sorted, 0.50),
		P75: percentile(sorted, 0.75),
		P90: percentile(sorted, 0.90),
	}
	snap.AvgDaysToClose = calculateMean(daysToClose)
	snap.Weights = deriveWeights(len(proposals), len(snap.Sellers), len(snap.Clients))
	snap.Sufficient = len(proposals) >= minHistoricalRecords

	if !snap.Sufficient {
		log.Warnf("historical snapshot has only %d records; engines will use neutral fallbacks", len(proposals))
	}
	return snap, nil
}

// deriveWeights returns the immutable weight configuration for this dataset.
// Large datasets with enough seller/client cardinality shift weight toward
// the seller and client history factors.
func deriveWeights(records, sellers, clients int) models.FactorWeights {
	w := defaultWeights
	if records > 50 {
		if sellers > 3 {
			w.Seller = 25
		}
		if clients > 5 {
			w.Client = 30
		}
	}
	return w
}
