package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"

	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/store"
)

const (
	minRecommendationWins  = 10
	minGeneralWins         = 5
	defaultRecommendations = 5
)

// RecommendationService suggests products for a proposal by combining four
// signals over won proposals: association rules, collaborative filtering,
// category affinity and raw popularity.
type RecommendationService struct {
	store store.Store
}

// NewRecommendationService creates a RecommendationService.
func NewRecommendationService(st store.Store) *RecommendationService {
	return &RecommendationService{store: st}
}

// methodRec is one method's vote for a product before combination.
type methodRec struct {
	productID  string
	method     string
	score      float64
	confidence float64
	reason     string
}

// Recommend returns up to limit ranked suggestions for the partial proposal.
// selectedIDs are the products already on the proposal; they are never
// recommended back.
func (r *RecommendationService) Recommend(ctx context.Context, proposal models.Proposal, selectedIDs []string, limit int) models.RecommendationResult {
	if limit <= 0 {
		limit = defaultRecommendations
	}

	won, err := r.store.FindProposals(ctx, store.ProposalFilter{
		Statuses:     []string{models.StatusWon},
		CreatedAfter: time.Now().AddDate(-1, 0, 0),
	})
	if err != nil {
		log.Errorf("recommend: proposal read failed: %v", err)
		return models.RecommendationResult{Recommendations: []models.Recommendation{}, Message: "recommendations unavailable"}
	}
	if len(won) < minRecommendationWins {
		return models.RecommendationResult{
			Recommendations: []models.Recommendation{},
			Method:          "insufficient_data",
			Message:         "not enough sales history to generate recommendations",
		}
	}

	selected := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		if id != "" {
			selected[id] = true
		}
	}

	var votes []methodRec
	votes = append(votes, associationRules(won, selectedIDs, selected)...)
	votes = append(votes, collaborativeRecs(proposal, won, selected)...)
	votes = append(votes, categoryRecs(proposal.Items, won, selected)...)
	votes = append(votes, popularProducts(won, selected)...)

	recs := combineVotes(votes, limit)
	recs = r.enrich(ctx, recs)

	return models.RecommendationResult{
		Recommendations: recs,
		Method:          "hybrid",
		Confidence:      overallConfidence(recs),
		Insights:        recommendationInsights(recs, len(selectedIDs)),
	}
}

// GeneralRecommendations returns the most popular products of the last 6
// months, used when there is no proposal context.
func (r *RecommendationService) GeneralRecommendations(ctx context.Context, limit int) models.RecommendationResult {
	if limit <= 0 {
		limit = 10
	}
	won, err := r.store.FindProposals(ctx, store.ProposalFilter{
		Statuses:     []string{models.StatusWon},
		CreatedAfter: time.Now().AddDate(0, -6, 0),
	})
	if err != nil {
		log.Errorf("recommend: proposal read failed: %v", err)
		return models.RecommendationResult{Recommendations: []models.Recommendation{}, Message: "recommendations unavailable"}
	}
	if len(won) < minGeneralWins {
		return models.RecommendationResult{
			Recommendations: []models.Recommendation{},
			Method:          "insufficient_data",
			Message:         "not enough sales history to generate recommendations",
		}
	}

	recs := combineVotes(popularProducts(won, map[string]bool{}), limit)
	recs = r.enrich(ctx, recs)
	return models.RecommendationResult{
		Recommendations: recs,
		Method:          models.MethodPopular,
		Confidence:      65,
	}
}

// normalizeEmail lower-cases and trims the canonical client key.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// associationRules mines product pairs that co-occur on won proposals and
// keeps the ones with over 10% confidence and positive lift relative to the
// selected products.
func associationRules(won []models.Proposal, selectedIDs []string, selected map[string]bool) []methodRec {
	type pair struct {
		a, b  string
		count int
	}
	pairs := make(map[string]*pair)
	productCounts := make(map[string]int)

	for _, p := range won {
		ids := make([]string, 0, len(p.Items))
		seen := make(map[string]bool)
		for _, item := range p.Items {
			if item.ProductID == "" || seen[item.ProductID] {
				continue
			}
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
		for _, id := range ids {
			productCounts[id]++
		}
		if len(ids) < 2 {
			continue
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if a > b {
					a, b = b, a
				}
				key := a + "-" + b
				pr := pairs[key]
				if pr == nil {
					pr = &pair{a: a, b: b}
					pairs[key] = pr
				}
				pr.count++
			}
		}
	}

	total := float64(len(won))
	var out []methodRec
	for _, selectedID := range selectedIDs {
		for _, pr := range pairs {
			var recommended string
			switch selectedID {
			case pr.a:
				recommended = pr.b
			case pr.b:
				recommended = pr.a
			default:
				continue
			}
			if selected[recommended] {
				continue
			}

			selCount := productCounts[selectedID]
			if selCount == 0 {
				selCount = 1
			}
			confidence := float64(pr.count) / float64(selCount)
			lift := 1.0
			if recCount := productCounts[recommended]; recCount > 0 && total > 0 {
				lift = confidence / (float64(recCount) / total)
			}
			if confidence > 0.1 && lift > 0 {
				out = append(out, methodRec{
					productID:  recommended,
					method:     models.MethodAssociation,
					score:      confidence * lift * 100,
					confidence: math.Min(100, math.Round(confidence*100)),
					reason:     fmt.Sprintf("%.0f%% of clients who bought a selected product also bought this one", confidence*100),
				})
			}
		}
	}
	return out
}

// collaborativeRecs recommends what similar clients bought. Similarity is the
// number of products a client shares with the current client's history.
func collaborativeRecs(proposal models.Proposal, won []models.Proposal, selected map[string]bool) []methodRec {
	clientEmail := normalizeEmail(proposal.Client.Email)
	if clientEmail == "" {
		return nil
	}

	clientProducts := make(map[string]bool)
	for _, p := range won {
		if normalizeEmail(p.Client.Email) != clientEmail {
			continue
		}
		for _, item := range p.Items {
			if item.ProductID != "" {
				clientProducts[item.ProductID] = true
			}
		}
	}
	if len(clientProducts) == 0 {
		return nil
	}

	type similar struct {
		similarity int
		products   map[string]bool
	}
	similars := make(map[string]*similar)
	for _, p := range won {
		email := normalizeEmail(p.Client.Email)
		if email == "" || email == clientEmail {
			continue
		}
		overlap := 0
		for _, item := range p.Items {
			if clientProducts[item.ProductID] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		s := similars[email]
		if s == nil {
			s = &similar{products: make(map[string]bool)}
			similars[email] = s
		}
		s.similarity += overlap
		for _, item := range p.Items {
			id := item.ProductID
			if id != "" && !clientProducts[id] && !selected[id] {
				s.products[id] = true
			}
		}
	}

	type agg struct {
		score         float64
		maxSimilarity int
		clients       int
	}
	byProduct := make(map[string]*agg)
	for _, s := range similars {
		for id := range s.products {
			a := byProduct[id]
			if a == nil {
				a = &agg{}
				byProduct[id] = a
			}
			a.score += float64(s.similarity)
			a.clients++
			if s.similarity > a.maxSimilarity {
				a.maxSimilarity = s.similarity
			}
		}
	}

	out := make([]methodRec, 0, len(byProduct))
	for id, a := range byProduct {
		out = append(out, methodRec{
			productID:  id,
			method:     models.MethodCollaborative,
			score:      a.score,
			confidence: math.Min(100, float64(a.maxSimilarity)*10),
			reason:     fmt.Sprintf("%d client(s) with a similar profile also bought this product", a.clients),
		})
	}
	return out
}

// categoryRecs counts won-proposal products sharing a category with the items
// already on the proposal.
func categoryRecs(items []models.ProposalItem, won []models.Proposal, selected map[string]bool) []methodRec {
	categories := make(map[string]bool)
	for _, item := range items {
		if item.Category != "" {
			categories[item.Category] = true
		}
	}
	if len(categories) == 0 {
		return nil
	}

	type stat struct {
		count int
	}
	byProduct := make(map[string]*stat)
	for _, p := range won {
		for _, item := range p.Items {
			if item.ProductID == "" || !categories[item.Category] || selected[item.ProductID] {
				continue
			}
			s := byProduct[item.ProductID]
			if s == nil {
				s = &stat{}
				byProduct[item.ProductID] = s
			}
			s.count++
		}
	}

	total := float64(len(won))
	out := make([]methodRec, 0, len(byProduct))
	for id, s := range byProduct {
		out = append(out, methodRec{
			productID:  id,
			method:     models.MethodCategory,
			score:      float64(s.count) * 2,
			confidence: math.Min(100, math.Round(float64(s.count)/total*100)),
			reason:     fmt.Sprintf("popular product in the same category (bought %d times)", s.count),
		})
	}
	return out
}

// popularProducts ranks products by raw won-proposal frequency, top 10.
func popularProducts(won []models.Proposal, selected map[string]bool) []methodRec {
	counts := make(map[string]int)
	for _, p := range won {
		for _, item := range p.Items {
			if item.ProductID == "" || selected[item.ProductID] {
				continue
			}
			counts[item.ProductID]++
		}
	}

	total := float64(len(won))
	out := make([]methodRec, 0, len(counts))
	for id, count := range counts {
		out = append(out, methodRec{
			productID:  id,
			method:     models.MethodPopular,
			score:      float64(count) * 1.5,
			confidence: math.Min(100, math.Round(float64(count)/total*100)),
			reason:     fmt.Sprintf("popular product: bought %d times", count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].productID < out[j].productID
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// combineVotes merges per-method votes into a single ranked list: scores sum,
// confidence takes the maximum and methods are deduplicated.
func combineVotes(votes []methodRec, limit int) []models.Recommendation {
	type combined struct {
		score      float64
		confidence float64
		methods    []string
		methodSeen map[string]bool
		reason     string
	}
	byProduct := make(map[string]*combined)
	for _, v := range votes {
		c := byProduct[v.productID]
		if c == nil {
			c = &combined{methodSeen: make(map[string]bool), reason: v.reason}
			byProduct[v.productID] = c
		}
		if v.score > 0 {
			c.score += v.score
		} else {
			c.score += v.confidence
		}
		if v.confidence > c.confidence {
			c.confidence = v.confidence
		}
		if !c.methodSeen[v.method] {
			c.methodSeen[v.method] = true
			c.methods = append(c.methods, v.method)
		}
	}

	out := make([]models.Recommendation, 0, len(byProduct))
	for id, c := range byProduct {
		out = append(out, models.Recommendation{
			ProductID:  id,
			Confidence: math.Min(100, math.Round(c.confidence)),
			Score:      round1(c.score),
			Methods:    c.methods,
			Reason:     c.reason,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// enrich attaches catalog data and drops recommendations whose product no
// longer exists.
func (r *RecommendationService) enrich(ctx context.Context, recs []models.Recommendation) []models.Recommendation {
	if len(recs) == 0 {
		return recs
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ProductID)
	}
	products, err := r.store.FindProducts(ctx, ids)
	if err != nil {
		log.Warnf("recommend: product enrichment failed: %v", err)
		return recs
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	out := recs[:0]
	for _, rec := range recs {
		if p, ok := byID[rec.ProductID]; ok {
			product := p
			rec.Product = &product
			out = append(out, rec)
		}
	}
	return out
}

// overallConfidence is the mean recommendation confidence plus 5 points for
// every product with multi-method agreement, capped at 100.
func overallConfidence(recs []models.Recommendation) float64 {
	if len(recs) == 0 {
		return 0
	}
	var sum float64
	multiMethod := 0
	for _, r := range recs {
		sum += r.Confidence
		if len(r.Methods) > 1 {
			multiMethod++
		}
	}
	return math.Min(100, math.Round(sum/float64(len(recs))+float64(multiMethod)*5))
}

func recommendationInsights(recs []models.Recommendation, selectedCount int) []models.Insight {
	var insights []models.Insight
	if len(recs) == 0 {
		return append(insights, models.Insight{
			Type: "info", Priority: "low", Title: "No recommendations yet",
			Message: "Add products to the proposal to receive personalized recommendations",
		})
	}

	top := recs[0]
	if top.Confidence > 70 {
		insights = append(insights, models.Insight{
			Type: "success", Priority: "medium", Title: "Strong recommendation",
			Message: "Highly recommended product: " + top.Reason,
		})
	}
	if len(top.Methods) > 1 {
		insights = append(insights, models.Insight{
			Type: "info", Priority: "low", Title: "Method agreement",
			Message: "Multiple recommendation signals agree on the top product",
		})
	}
	if selectedCount > 0 {
		insights = append(insights, models.Insight{
			Type: "info", Priority: "low", Title: "Context",
			Message: fmt.Sprintf("Based on %d selected product(s) and the sales history", selectedCount),
		})
	}
	return insights
}
