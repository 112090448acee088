package store

import (
	"context"
	"time"

	"sales-insights-api/pkg/models"
)

// ProposalFilter narrows a proposal read. Zero values mean "no constraint".
type ProposalFilter struct {
	Statuses      []string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	UpdatedAfter  time.Time
	SellerID      string
	ClientEmail   string
	Limit         int
}

// Store is the abstract data-access collaborator consumed by the analytics
// engines. All reads; the core never writes through it.
type Store interface {
	FindProposals(ctx context.Context, filter ProposalFilter) ([]models.Proposal, error)
	FindProducts(ctx context.Context, ids []string) ([]models.Product, error)
	FindActiveGoals(ctx context.Context, from, to time.Time) ([]models.Goal, error)
}
