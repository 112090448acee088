package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"

	"sales-insights-api/pkg/models"
)

// MySQLStore implements Store over a MySQL database. Proposal line items are
// stored as a JSON column on the proposals table.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects to MySQL using the given DSN and verifies the
// connection with a ping.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreFromDB wraps an existing connection, used by tests.
func NewMySQLStoreFromDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const proposalColumns = `id, number, status, total, subtotal, created_at, updated_at, valid_until,
	seller_id, seller_name, client_name, client_email, payment_condition, items`

// FindProposals reads proposals matching the filter, newest first.
func (s *MySQLStore) FindProposals(ctx context.Context, filter ProposalFilter) ([]models.Proposal, error) {
	query := "SELECT " + proposalColumns + " FROM proposals"
	var conds []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Statuses)), ",")
		conds = append(conds, "status IN ("+placeholders+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if !filter.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, filter.CreatedBefore)
	}
	if !filter.UpdatedAfter.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, filter.UpdatedAfter)
	}
	if filter.SellerID != "" {
		conds = append(conds, "seller_id = ?")
		args = append(args, filter.SellerID)
	}
	if filter.ClientEmail != "" {
		conds = append(conds, "LOWER(client_email) = LOWER(?)")
		args = append(args, filter.ClientEmail)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	var out []models.Proposal
	for rows.Next() {
		var p models.Proposal
		var itemsJSON []byte
		err := rows.Scan(
			&p.ID, &p.Number, &p.Status, &p.Total, &p.Subtotal,
			&p.CreatedAt, &p.UpdatedAt, &p.ValidUntil,
			&p.Seller.ID, &p.Seller.Name, &p.Client.Name, &p.Client.Email,
			&p.PaymentCondition, &itemsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if len(itemsJSON) > 0 {
			if err := json.Unmarshal(itemsJSON, &p.Items); err != nil {
				// A malformed items blob degrades to an itemless proposal
				// rather than failing the whole read.
				log.Warnf("proposal %s: cannot decode items: %v", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindProducts reads catalog records for the given IDs.
func (s *MySQLStore) FindProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := "SELECT id, name, category, price FROM products WHERE id IN (" + placeholders + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindActiveGoals reads active goals whose period overlaps [from, to].
func (s *MySQLStore) FindActiveGoals(ctx context.Context, from, to time.Time) ([]models.Goal, error) {
	query := `SELECT id, name, target_value, start_date, end_date, status
		FROM goals WHERE status = 'active' AND end_date >= ? AND start_date <= ?`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var out []models.Goal
	for rows.Next() {
		var g models.Goal
		if err := rows.Scan(&g.ID, &g.Name, &g.TargetValue, &g.StartDate, &g.EndDate, &g.Status); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
