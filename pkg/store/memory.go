package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"sales-insights-api/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and when the server runs
// without a database configured.
type MemoryStore struct {
	Proposals []models.Proposal
	Products  []models.Product
	Goals     []models.Goal
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FindProposals applies the filter over the in-memory slice, newest first.
func (m *MemoryStore) FindProposals(_ context.Context, filter ProposalFilter) ([]models.Proposal, error) {
	var out []models.Proposal
	for _, p := range m.Proposals {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, p.Status) {
			continue
		}
		if !filter.CreatedAfter.IsZero() && p.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !p.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if !filter.UpdatedAfter.IsZero() && p.UpdatedAt.Before(filter.UpdatedAfter) {
			continue
		}
		if filter.SellerID != "" && p.Seller.ID != filter.SellerID {
			continue
		}
		if filter.ClientEmail != "" && !strings.EqualFold(p.Client.Email, filter.ClientEmail) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindProducts returns the catalog records matching the given IDs.
func (m *MemoryStore) FindProducts(_ context.Context, ids []string) ([]models.Product, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Product
	for _, p := range m.Products {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindActiveGoals returns active goals overlapping [from, to].
func (m *MemoryStore) FindActiveGoals(_ context.Context, from, to time.Time) ([]models.Goal, error) {
	var out []models.Goal
	for _, g := range m.Goals {
		if g.Status != "active" {
			continue
		}
		if g.EndDate.Before(from) || g.StartDate.After(to) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func containsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
