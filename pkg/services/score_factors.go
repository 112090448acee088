package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sales-insights-api/pkg/models"
)

// The ten scoring factors. Each returns a raw 0-100 sub-score plus its own
// confidence; the service weighs and normalizes them. Missing references
// degrade the affected factor to a neutral sub-score instead of aborting.

// sellerConversionFactor scores the owning seller's historical win rate,
// adjusted by the recent 90-day trend against the 90 days before that.
func sellerConversionFactor(p models.Proposal, snap *models.HistoricalSnapshot) models.Factor {
	f := models.Factor{Score: 50, Confidence: 20, Description: "No seller history available"}
	if p.Seller.ID == "" || !snap.Sufficient {
		return f
	}
	stats := snap.Sellers[p.Seller.ID]
	if stats == nil {
		return f
	}
	decided := stats.Won + stats.Lost
	if decided == 0 {
		return f
	}

	rate := clampRatio(float64(stats.Won) / float64(decided))
	score := rate * 100

	recentRate, recentOK := sellerWindowRate(p.Seller.ID, snap, 0, 90)
	priorRate, priorOK := sellerWindowRate(p.Seller.ID, snap, 90, 180)
	if recentOK && priorOK {
		delta := recentRate - priorRate
		adj := 0.0
		switch {
		case math.Abs(delta) > 0.15:
			adj = 15
		case math.Abs(delta) > 0.05:
			adj = 10
		case delta != 0:
			adj = 5
		}
		if delta < 0 {
			adj = -adj
		}
		score += adj
	}

	return models.Factor{
		Score:       clampScore(score),
		Confidence:  math.Min(95, 40+float64(decided)*5),
		Description: fmt.Sprintf("Seller %s: %.1f%% conversion over %d decided proposals", p.Seller.Name, rate*100, decided),
	}
}

// sellerWindowRate computes a seller's win rate over decided proposals created
// between [ref-endDays, ref-startDays). ok is false with no decided proposals.
func sellerWindowRate(sellerID string, snap *models.HistoricalSnapshot, startDays, endDays int) (float64, bool) {
	from := snap.ReferenceTime.AddDate(0, 0, -endDays)
	to := snap.ReferenceTime.AddDate(0, 0, -startDays)
	won, decided := 0, 0
	for _, p := range snap.Proposals {
		if p.Seller.ID != sellerID || !models.IsDecided(p.Status) {
			continue
		}
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		decided++
		if p.Status == models.StatusWon {
			won++
		}
	}
	if decided == 0 {
		return 0, false
	}
	return float64(won) / float64(decided), true
}

// clientHistoryFactor scores the client's track record: win rate, revenue
// volume and loyalty. New clients get a slightly optimistic neutral score.
func clientHistoryFactor(p models.Proposal, snap *models.HistoricalSnapshot) models.Factor {
	email := strings.ToLower(strings.TrimSpace(p.Client.Email))
	if email == "" {
		return models.Factor{Score: 50, Confidence: 20, Description: "No client reference"}
	}
	stats := snap.Clients[email]
	if stats == nil || stats.Total == 0 {
		return models.Factor{Score: 58, Confidence: 20, Description: fmt.Sprintf("New client %s, no purchase history", p.Client.Name)}
	}

	winRate := clampRatio(float64(stats.Won) / float64(stats.Total))
	volumeBonus := math.Min(30, math.Min(100, stats.Revenue/100000*50))
	loyaltyBonus := math.Min(20, float64(stats.Won)*5)
	score := clampScore(winRate*70 + volumeBonus + loyaltyBonus)

	return models.Factor{
		Score:      score,
		Confidence: math.Min(95, 30+float64(stats.Total)*10),
		Description: fmt.Sprintf("Client %s: %d wins in %d previous proposals",
			stats.Name, stats.Won, stats.Total),
	}
}

// valueFactor scores the proposal total by absolute band and by where it sits
// in the historical value distribution.
func valueFactor(p models.Proposal, snap *models.HistoricalSnapshot) models.Factor {
	if p.Total == 0 {
		return models.Factor{Score: 30, Confidence: 50, Description: "Proposal has no value"}
	}

	var band float64
	switch {
	case p.Total < 1000:
		band = 40
	case p.Total < 5000:
		band = 60
	case p.Total < 20000:
		band = 85 // sweet spot
	case p.Total < 50000:
		band = 75
	case p.Total < 200000:
		band = 65
	default:
		band = 55
	}

	if !snap.Sufficient {
		return models.Factor{Score: band, Confidence: 40, Description: fmt.Sprintf("Value %.2f (absolute band only)", p.Total)}
	}

	pct := snap.Percentiles
	var zone float64
	switch {
	case p.Total >= pct.P25 && p.Total <= pct.P75:
		zone = 85 // ideal zone
	case p.Total >= pct.P10 && p.Total <= pct.P90:
		zone = 70
	default:
		zone = 55
	}

	return models.Factor{
		Score:       clampScore((band + zone) / 2),
		Confidence:  70,
		Description: fmt.Sprintf("Value %.2f vs historical distribution (p25=%.0f, p75=%.0f)", p.Total, pct.P25, pct.P75),
	}
}

// timeFactor scores the proposal's lifecycle stage against the historical
// average time-to-close, penalized as expiry approaches.
func timeFactor(p models.Proposal, snap *models.HistoricalSnapshot) models.Factor {
	ref := snap.ReferenceTime
	daysSince := math.Floor(ref.Sub(p.CreatedAt).Hours() / 24)
	daysUntil := math.Floor(p.ValidUntil.Sub(ref).Hours() / 24)

	avgClose := snap.AvgDaysToClose
	if avgClose <= 0 {
		avgClose = 30
	}

	var score float64
	var stage string
	switch {
	case daysSince <= 3:
		score, stage = 85, "early"
	case daysSince <= avgClose:
		score, stage = 75, "active"
	case daysSince <= avgClose*1.5:
		score, stage = 55, "late"
	default:
		score, stage = 35, "stale"
	}

	switch {
	case daysUntil < 0:
		score -= 40
	case daysUntil < 3:
		score -= 25
	case daysUntil < 7:
		score -= 15
	case daysUntil >= 14:
		score += 5
	}

	return models.Factor{
		Score:       clampScore(score),
		Confidence:  80,
		Description: fmt.Sprintf("Stage %s: %.0f days since creation, %.0f days until expiry", stage, daysSince, daysUntil),
	}
}

// productsFactor blends the historical conversion of proposals with the same
// item count, the number of individually strong products included, and an
// ideal-mix bonus peaking at 2-5 items.
func productsFactor(p models.Proposal, snap *models.HistoricalSnapshot) models.Factor {
	n := len(p.Items)
	if n == 0 {
		return models.Factor{Score: 30, Confidence: 30, Description: "Proposal has no items"}
	}

	var countScore float64
	switch {
	case n == 1:
		countScore = 60
	case n <= 5:
		countScore = 80
	case n <= 10:
		countScore = 70
	default:
		countScore = 50
	}

	score := countScore
	haveRate := false
	if ic := snap.ItemCounts[n]; ic != nil && ic.Decided > 0 {
		rate := clampRatio(float64(ic.Won) / float64(ic.Decided))
		score = countScore*0.5 + rate*100*0.5
		haveRate = true
	}

	topSellers := 0
	for _, item := range p.Items {
		ps := snap.Products[item.ProductID]
		if ps != nil && ps.Total > 0 && float64(ps.Won)/float64(ps.Total) > 0.6 {
			topSellers++
		}
	}
	score += math.Min(15, float64(topSellers)*5)

	if n >= 2 && n <= 5 {
		score += 10
	} else if n > 5 && n <= 10 {
		score += 5
	}

	conf := 40.0
	if haveRate {
		conf = 60
	}
	return models.Factor{
		Score:       clampScore(score),
		Confidence:  conf,
		Description: fmt.Sprintf("%d items, %d of them top sellers", n, topSellers),
	}
}

var installmentsRe = regexp.MustCompile(`(\d+)\s*x`)

// paymentConditionFactor maps the payment label to an assumed conversion rate.
func paymentConditionFactor(p models.Proposal) models.Factor {
	cond := strings.ToLower(strings.TrimSpace(p.PaymentCondition))
	rate := 0.65 // unknown condition

	switch {
	case cond == "":
		rate = 0.65
	case strings.Contains(cond, "cash") || strings.Contains(cond, "vista") || strings.Contains(cond, "sight"):
		rate = 0.85
	case strings.Contains(cond, "credit") || strings.Contains(cond, "crédito") || strings.Contains(cond, "credito"):
		installments := 1
		if m := installmentsRe.FindStringSubmatch(cond); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				installments = v
			}
		}
		switch {
		case installments <= 1:
			rate = 0.80
		case installments <= 3:
			rate = 0.75
		case installments <= 6:
			rate = 0.70
		default:
			rate = 0.60
		}
	case strings.Contains(cond, "boleto") || strings.Contains(cond, "bank slip"):
		rate = 0.70
	}

	label := p.PaymentCondition
	if label == "" {
		label = "unspecified"
	}
	return models.Factor{
		Score:       clampScore(rate * 100),
		Confidence:  70,
		Description: fmt.Sprintf("Payment condition: %s", label),
	}
}

// discountFactor applies the inverted-U discount policy: modest discounts are
// a good signal, zero is fine, excess suggests trouble closing.
func discountFactor(p models.Proposal) models.Factor {
	subtotal := p.Subtotal
	if subtotal == 0 {
		subtotal = p.Total
	}
	pct := 0.0
	if subtotal > 0 {
		pct = clampScore((subtotal - p.Total) / subtotal * 100)
	}

	var score float64
	switch {
	case pct == 0:
		score = 85
	case pct <= 5:
		score = 90
	case pct <= 10:
		score = 75
	case pct <= 20:
		score = 60
	default:
		score = 40
	}

	desc := "No discount"
	if pct > 0 {
		desc = fmt.Sprintf("Discount: %.1f%%", pct)
	}
	return models.Factor{Score: score, Confidence: 90, Description: desc}
}

// monthConversionRates is the fixed seasonal table: conversion bottoms out in
// January and peaks in December.
var monthConversionRates = map[time.Month]float64{
	time.January:   0.55,
	time.February:  0.60,
	time.March:     0.65,
	time.April:     0.68,
	time.May:       0.70,
	time.June:      0.65,
	time.July:      0.62,
	time.August:    0.70,
	time.September: 0.72,
	time.October:   0.75,
	time.November:  0.80,
	time.December:  0.85,
}

// seasonalityFactor scores the creation month against the seasonal table.
func seasonalityFactor(p models.Proposal) models.Factor {
	month := p.CreatedAt.Month()
	rate := monthConversionRates[month]
	return models.Factor{
		Score:       clampScore(rate * 100),
		Confidence:  60,
		Description: fmt.Sprintf("Seasonal conversion for %s: %.0f%%", month, rate*100),
	}
}

// engagementFactor blends the recency of the last update (60%) with how much
// of the proposal's lifetime had elapsed when it was last touched (40%).
func engagementFactor(p models.Proposal, snap *models.HistoricalSnapshot) models.Factor {
	ref := snap.ReferenceTime
	daysSinceUpdate := ref.Sub(p.UpdatedAt).Hours() / 24
	if daysSinceUpdate < 0 {
		daysSinceUpdate = 0
	}

	var recency float64
	switch {
	case daysSinceUpdate < 1:
		recency = 95
	case daysSinceUpdate < 3:
		recency = 85
	case daysSinceUpdate < 7:
		recency = 70
	default:
		recency = 50
	}

	age := ref.Sub(p.CreatedAt).Hours() / 24
	ratio := 1.0
	if age > 0 {
		ratio = clampRatio((age - daysSinceUpdate) / age)
	}

	return models.Factor{
		Score:       clampScore(recency*0.6 + ratio*100*0.4),
		Confidence:  65,
		Description: fmt.Sprintf("Last update %.0f days ago", daysSinceUpdate),
	}
}

// patternsFactor looks at decided proposals from the same client or seller
// whose totals sit within ±30% of this one, a small nearest-neighbor cluster.
func patternsFactor(p models.Proposal, snap *models.HistoricalSnapshot) models.Factor {
	email := strings.ToLower(strings.TrimSpace(p.Client.Email))
	won, decided := 0, 0
	for _, other := range snap.Proposals {
		if other.ID == p.ID || !models.IsDecided(other.Status) {
			continue
		}
		sameClient := email != "" && strings.ToLower(other.Client.Email) == email
		sameSeller := p.Seller.ID != "" && other.Seller.ID == p.Seller.ID
		if !sameClient && !sameSeller {
			continue
		}
		if p.Total > 0 && math.Abs(other.Total-p.Total) > 0.3*p.Total {
			continue
		}
		decided++
		if other.Status == models.StatusWon {
			won++
		}
	}

	if decided == 0 {
		return models.Factor{Score: 50, Confidence: 20, Description: "No similar past proposals"}
	}
	rate := clampRatio(float64(won) / float64(decided))
	return models.Factor{
		Score:       clampScore(rate * 100),
		Confidence:  math.Min(90, 30+float64(decided)*10),
		Description: fmt.Sprintf("%d of %d similar proposals were won", won, decided),
	}
}
