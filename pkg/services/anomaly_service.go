package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/store"
)

const (
	anomalyLookbackMonths = 12
	maxReportedAnomalies  = 50
)

// AnomalyService scans sellers, clients, products, proposals and aggregate
// revenue for unusual deviations. Detection is advisory only; it never blocks
// or mutates anything.
type AnomalyService struct {
	store store.Store
}

// NewAnomalyService creates an AnomalyService.
func NewAnomalyService(st store.Store) *AnomalyService {
	return &AnomalyService{store: st}
}

// DetectAnomalies runs every rule family over the trailing year and returns
// the prioritized report. Non-admin callers only see their own seller's data.
func (a *AnomalyService) DetectAnomalies(ctx context.Context, userID, role string) (report models.AnomalyReport) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("anomaly: recovered during detection: %v", r)
			report = emptyReport()
		}
	}()

	ref := time.Now()
	filter := store.ProposalFilter{
		CreatedAfter: ref.AddDate(0, -anomalyLookbackMonths, 0),
	}
	if role != "admin" && userID != "" {
		filter.SellerID = userID
	}

	proposals, err := a.store.FindProposals(ctx, filter)
	if err != nil {
		log.Errorf("anomaly: proposal read failed: %v", err)
		return emptyReport()
	}

	var anomalies []models.Anomaly
	anomalies = append(anomalies, detectSellerPerformance(proposals, ref)...)
	anomalies = append(anomalies, detectSellerInactivity(proposals, ref)...)
	anomalies = append(anomalies, detectClientChurn(proposals, ref)...)
	anomalies = append(anomalies, detectProductDemand(proposals, ref)...)
	anomalies = append(anomalies, detectStaleProposals(proposals, ref)...)
	anomalies = append(anomalies, detectSuspiciousTiming(proposals, ref)...)
	anomalies = append(anomalies, detectValueOutliers(proposals, ref)...)
	anomalies = append(anomalies, detectRevenueSwing(proposals, ref)...)

	sortAnomalies(anomalies)
	if len(anomalies) > maxReportedAnomalies {
		anomalies = anomalies[:maxReportedAnomalies]
	}

	byPriority := map[string]int{}
	for _, an := range anomalies {
		byPriority[an.Priority]++
	}
	return models.AnomalyReport{
		Total:      len(anomalies),
		ByPriority: byPriority,
		Anomalies:  anomalies,
	}
}

func emptyReport() models.AnomalyReport {
	return models.AnomalyReport{ByPriority: map[string]int{}, Anomalies: []models.Anomaly{}}
}

var priorityRank = map[string]int{
	models.PriorityCritical: 0,
	models.PriorityHigh:     1,
	models.PriorityMedium:   2,
	models.PriorityLow:      3,
}

// sortAnomalies orders by priority, then by detection time, most recent first.
func sortAnomalies(anomalies []models.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		ri, rj := priorityRank[anomalies[i].Priority], priorityRank[anomalies[j].Priority]
		if ri != rj {
			return ri < rj
		}
		return anomalies[i].DetectedAt.After(anomalies[j].DetectedAt)
	})
}

func newAnomaly(kind, priority, title, message string, details map[string]interface{}, actions []string, at time.Time) models.Anomaly {
	return models.Anomaly{
		ID:               uuid.NewString(),
		Type:             kind,
		Priority:         priority,
		Title:            title,
		Message:          message,
		Details:          details,
		SuggestedActions: actions,
		DetectedAt:       at,
	}
}

// detectSellerPerformance compares each seller's trailing 30-day win rate with
// the 30 days before. A relative drop over 30% flags, over 50% is critical.
// A rise over 40% is surfaced as a surge.
func detectSellerPerformance(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	type window struct {
		won, decided int
	}
	type sellerWindows struct {
		name           string
		recent, prior  window
	}
	sellers := make(map[string]*sellerWindows)
	recentStart := ref.AddDate(0, 0, -30)
	priorStart := ref.AddDate(0, 0, -60)

	for _, p := range proposals {
		if p.Seller.ID == "" || !models.IsDecided(p.Status) {
			continue
		}
		sw := sellers[p.Seller.ID]
		if sw == nil {
			sw = &sellerWindows{name: p.Seller.Name}
			sellers[p.Seller.ID] = sw
		}
		var w *window
		switch {
		case p.UpdatedAt.After(recentStart):
			w = &sw.recent
		case p.UpdatedAt.After(priorStart):
			w = &sw.prior
		default:
			continue
		}
		w.decided++
		if p.Status == models.StatusWon {
			w.won++
		}
	}

	var out []models.Anomaly
	for id, sw := range sellers {
		if sw.recent.decided < 3 || sw.prior.decided == 0 {
			continue
		}
		recentRate := float64(sw.recent.won) / float64(sw.recent.decided)
		priorRate := float64(sw.prior.won) / float64(sw.prior.decided)
		if priorRate == 0 {
			continue
		}
		drop := (priorRate - recentRate) / priorRate * 100

		details := map[string]interface{}{
			"seller_id":    id,
			"seller_name":  sw.name,
			"recent_rate":  round1(recentRate * 100),
			"prior_rate":   round1(priorRate * 100),
			"change_pct":   round1(-drop),
			"recent_count": sw.recent.decided,
		}

		switch {
		case drop > 50:
			out = append(out, newAnomaly(models.AnomalySellerDrop, models.PriorityCritical,
				"Severe seller performance drop",
				fmt.Sprintf("%s's win rate fell from %.0f%% to %.0f%% in 30 days", sw.name, priorRate*100, recentRate*100),
				details,
				[]string{"Schedule a 1:1 with the seller", "Review the lost proposals of the period"},
				ref))
		case drop > 30:
			out = append(out, newAnomaly(models.AnomalySellerDrop, models.PriorityHigh,
				"Seller performance drop",
				fmt.Sprintf("%s's win rate fell from %.0f%% to %.0f%% in 30 days", sw.name, priorRate*100, recentRate*100),
				details,
				[]string{"Check the seller's active pipeline", "Compare against team averages"},
				ref))
		case drop < -40:
			out = append(out, newAnomaly(models.AnomalySellerSurge, models.PriorityMedium,
				"Seller performance surge",
				fmt.Sprintf("%s's win rate rose from %.0f%% to %.0f%% in 30 days", sw.name, priorRate*100, recentRate*100),
				details,
				[]string{"Identify what changed and replicate it across the team"},
				ref))
		}
	}
	return out
}

// detectSellerInactivity flags sellers with history in the last 60 days but no
// proposal at all in the last 14.
func detectSellerInactivity(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	type activity struct {
		name       string
		last14     int
		last60     int
		lastSeenAt time.Time
	}
	sellers := make(map[string]*activity)
	cut14 := ref.AddDate(0, 0, -14)
	cut60 := ref.AddDate(0, 0, -60)

	for _, p := range proposals {
		if p.Seller.ID == "" {
			continue
		}
		act := sellers[p.Seller.ID]
		if act == nil {
			act = &activity{name: p.Seller.Name}
			sellers[p.Seller.ID] = act
		}
		if p.CreatedAt.After(cut60) {
			act.last60++
		}
		if p.CreatedAt.After(cut14) {
			act.last14++
		}
		if p.CreatedAt.After(act.lastSeenAt) {
			act.lastSeenAt = p.CreatedAt
		}
	}

	var out []models.Anomaly
	for id, act := range sellers {
		if act.last60 == 0 || act.last14 > 0 {
			continue
		}
		days := int(ref.Sub(act.lastSeenAt).Hours() / 24)
		out = append(out, newAnomaly(models.AnomalySellerInactivity, models.PriorityHigh,
			"Seller inactive",
			fmt.Sprintf("%s has not created a proposal in %d days", act.name, days),
			map[string]interface{}{
				"seller_id":     id,
				"seller_name":   act.name,
				"days_inactive": days,
			},
			[]string{"Contact the seller", "Check for blockers in their territory"},
			ref))
	}
	return out
}

// detectClientChurn flags repeat buyers whose silence exceeds twice their
// usual purchase gap.
func detectClientChurn(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	type purchases struct {
		name  string
		dates []time.Time
	}
	clients := make(map[string]*purchases)
	for _, p := range proposals {
		if p.Status != models.StatusWon || p.Client.Email == "" {
			continue
		}
		c := clients[p.Client.Email]
		if c == nil {
			c = &purchases{name: p.Client.Name}
			clients[p.Client.Email] = c
		}
		c.dates = append(c.dates, p.UpdatedAt)
	}

	var out []models.Anomaly
	for email, c := range clients {
		if len(c.dates) < 2 {
			continue
		}
		sort.Slice(c.dates, func(i, j int) bool { return c.dates[i].Before(c.dates[j]) })

		var gapSum float64
		for i := 1; i < len(c.dates); i++ {
			gapSum += c.dates[i].Sub(c.dates[i-1]).Hours() / 24
		}
		avgGap := gapSum / float64(len(c.dates)-1)
		if avgGap <= 0 {
			continue
		}
		daysSince := ref.Sub(c.dates[len(c.dates)-1]).Hours() / 24
		if daysSince <= avgGap*2 {
			continue
		}

		riskScore := math.Min(100, daysSince/avgGap*50)
		priority := models.PriorityMedium
		if riskScore > 70 {
			priority = models.PriorityCritical
		} else if riskScore > 50 {
			priority = models.PriorityHigh
		}
		out = append(out, newAnomaly(models.AnomalyClientChurn, priority,
			"Client churn risk",
			fmt.Sprintf("%s usually buys every %.0f days but has been silent for %.0f", c.name, avgGap, daysSince),
			map[string]interface{}{
				"client_email":    email,
				"client_name":     c.name,
				"avg_gap_days":    round1(avgGap),
				"days_since_last": round1(daysSince),
				"risk_score":      round1(riskScore),
			},
			[]string{"Reach out with a reactivation offer", "Check if the client moved to a competitor"},
			ref))
	}
	return out
}

// detectProductDemand compares per-product sale counts between the trailing 30
// days and the 30 before.
func detectProductDemand(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	type counts struct {
		name          string
		recent, prior int
	}
	products := make(map[string]*counts)
	recentStart := ref.AddDate(0, 0, -30)
	priorStart := ref.AddDate(0, 0, -60)

	for _, p := range proposals {
		if p.Status != models.StatusWon {
			continue
		}
		var bucket int
		switch {
		case p.UpdatedAt.After(recentStart):
			bucket = 0
		case p.UpdatedAt.After(priorStart):
			bucket = 1
		default:
			continue
		}
		for _, item := range p.Items {
			if item.ProductID == "" {
				continue
			}
			c := products[item.ProductID]
			if c == nil {
				c = &counts{name: item.ProductName}
				products[item.ProductID] = c
			}
			if bucket == 0 {
				c.recent += item.Quantity
			} else {
				c.prior += item.Quantity
			}
		}
	}

	var out []models.Anomaly
	for id, c := range products {
		if c.prior == 0 {
			continue
		}
		change := float64(c.recent-c.prior) / float64(c.prior) * 100
		details := map[string]interface{}{
			"product_id":   id,
			"product_name": c.name,
			"recent_sales": c.recent,
			"prior_sales":  c.prior,
			"change_pct":   round1(change),
		}
		if change > 200 && c.recent >= 3 {
			out = append(out, newAnomaly(models.AnomalyDemandSurge, models.PriorityHigh,
				"Product demand surge",
				fmt.Sprintf("Sales of %s grew %.0f%% in 30 days", c.name, change),
				details,
				[]string{"Check stock levels", "Consider a price review"},
				ref))
		} else if change < -50 && c.prior >= 5 {
			out = append(out, newAnomaly(models.AnomalyDemandDrop, models.PriorityMedium,
				"Product demand drop",
				fmt.Sprintf("Sales of %s fell %.0f%% in 30 days", c.name, math.Abs(change)),
				details,
				[]string{"Review the product's pricing and positioning"},
				ref))
		}
	}
	return out
}

// detectStaleProposals batches every in-negotiation proposal older than 90
// days into a single alert.
func detectStaleProposals(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	cut := ref.AddDate(0, 0, -90)
	var stale []string
	var staleValue float64
	for _, p := range proposals {
		if p.Status == models.StatusNegotiation && p.CreatedAt.Before(cut) {
			stale = append(stale, p.ID)
			staleValue += p.Total
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return []models.Anomaly{newAnomaly(models.AnomalyStaleProposals, models.PriorityHigh,
		"Stale proposals in negotiation",
		fmt.Sprintf("%d proposals have been in negotiation for over 90 days (%.2f at stake)", len(stale), staleValue),
		map[string]interface{}{
			"count":        len(stale),
			"total_value":  roundMoney(staleValue),
			"proposal_ids": stale,
		},
		[]string{"Close or archive each stale proposal", "Re-engage the clients still worth pursuing"},
		ref)}
}

// detectSuspiciousTiming flags 3 or more proposals created between 00:00 and
// 05:00 within the last 7 days.
func detectSuspiciousTiming(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	cut := ref.AddDate(0, 0, -7)
	var count int
	var ids []string
	for _, p := range proposals {
		if p.CreatedAt.Before(cut) {
			continue
		}
		if h := p.CreatedAt.Hour(); h >= 0 && h < 5 {
			count++
			ids = append(ids, p.ID)
		}
	}
	if count < 3 {
		return nil
	}
	return []models.Anomaly{newAnomaly(models.AnomalySuspiciousTiming, models.PriorityMedium,
		"Unusual creation hours",
		fmt.Sprintf("%d proposals were created between 00:00 and 05:00 in the last 7 days", count),
		map[string]interface{}{
			"count":        count,
			"proposal_ids": ids,
		},
		[]string{"Verify whether these were automated or legitimate"},
		ref)}
}

// detectValueOutliers uses the IQR rule (Q3 + 3*IQR) over trailing-year won
// proposals. More than 5 matches means the distribution shifted, not an
// outlier event, so nothing is flagged.
func detectValueOutliers(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	var totals []float64
	for _, p := range proposals {
		if p.Status == models.StatusWon {
			totals = append(totals, p.Total)
		}
	}
	if len(totals) < 4 {
		return nil
	}
	sorted := sortedCopy(totals)
	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)
	threshold := q3 + 3*(q3-q1)

	var outliers []map[string]interface{}
	for _, p := range proposals {
		if p.Status == models.StatusWon && p.Total > threshold {
			outliers = append(outliers, map[string]interface{}{
				"proposal_id": p.ID,
				"value":       roundMoney(p.Total),
			})
		}
	}
	if len(outliers) == 0 || len(outliers) > 5 {
		return nil
	}
	return []models.Anomaly{newAnomaly(models.AnomalyValueOutliers, models.PriorityLow,
		"Unusually high-value sales",
		fmt.Sprintf("%d sales far exceed the usual value range (threshold %.2f)", len(outliers), threshold),
		map[string]interface{}{
			"threshold": roundMoney(threshold),
			"outliers":  outliers,
		},
		[]string{"Confirm the values were entered correctly"},
		ref)}
}

// detectRevenueSwing compares aggregate won revenue between the trailing 30
// days and the 30 before. A drop over 25% is critical; a rise over 40% is
// informational.
func detectRevenueSwing(proposals []models.Proposal, ref time.Time) []models.Anomaly {
	recentStart := ref.AddDate(0, 0, -30)
	priorStart := ref.AddDate(0, 0, -60)

	var recent, prior float64
	for _, p := range proposals {
		if p.Status != models.StatusWon {
			continue
		}
		switch {
		case p.UpdatedAt.After(recentStart):
			recent += p.Total
		case p.UpdatedAt.After(priorStart):
			prior += p.Total
		}
	}
	if prior == 0 {
		return nil
	}
	change := (recent - prior) / prior * 100
	details := map[string]interface{}{
		"recent_revenue": roundMoney(recent),
		"prior_revenue":  roundMoney(prior),
		"change_pct":     round1(change),
	}

	if change < -25 {
		return []models.Anomaly{newAnomaly(models.AnomalyRevenueDrop, models.PriorityCritical,
			"Revenue drop",
			fmt.Sprintf("Revenue fell %.0f%% against the previous 30 days", math.Abs(change)),
			details,
			[]string{"Review the pipeline for stalled deals", "Check seller activity levels"},
			ref)}
	}
	if change > 40 {
		return []models.Anomaly{newAnomaly(models.AnomalyRevenueSurge, models.PriorityLow,
			"Revenue surge",
			fmt.Sprintf("Revenue grew %.0f%% against the previous 30 days", change),
			details,
			[]string{"Document what drove the growth"},
			ref)}
	}
	return nil
}
