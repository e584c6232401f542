package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	level pgx.TxIsoLevel
}

// NewRepository constructs Repository. The isolation level is applied to
// every movement transaction and must be chosen explicitly.
func NewRepository(pool *pgxpool.Pool, level pgx.TxIsoLevel) *Repository {
	return &Repository{pool: pool, level: level}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction at the configured isolation level.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.level, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const movementColumns = `id, product_id, direction, quantity, unit_price, total, notes, actor, created_at`

// ListMovements returns entries matching filter, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE 1=1`
	var args []any
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		query += ` AND product_id = $` + strconv.Itoa(len(args))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		query += ` AND direction = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// HasMovements reports whether the product has any ledger entry.
func (r *Repository) HasMovements(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE product_id = $1)`, productID).Scan(&exists)
	return exists, err
}

// StockDrift compares cached stock with the ledger sum for every product.
func (r *Repository) StockDrift(ctx context.Context) ([]Drift, error) {
	const query = `
SELECT p.id, p.code, p.stock, COALESCE(SUM(CASE WHEN m.direction = 'IN' THEN m.quantity ELSE -m.quantity END), 0) AS ledger_stock
FROM products p
LEFT JOIN stock_movements m ON m.product_id = p.id
GROUP BY p.id, p.code, p.stock
HAVING p.stock <> COALESCE(SUM(CASE WHEN m.direction = 'IN' THEN m.quantity ELSE -m.quantity END), 0)
ORDER BY p.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drift []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProductID, &d.Code, &d.CachedStock, &d.LedgerStock); err != nil {
			return nil, err
		}
		drift = append(drift, d)
	}
	return drift, rows.Err()
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, productID int64) (ProductState, error) {
	var (
		state  ProductState
		status string
	)
	err := r.tx.QueryRow(ctx, `SELECT id, code, stock, price, status FROM products WHERE id = $1 FOR UPDATE`, productID).
		Scan(&state.ID, &state.Code, &state.Stock, &state.Price, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductState{}, fmt.Errorf("%w: id %d", ErrProductNotFound, productID)
		}
		return ProductState{}, err
	}
	state.Hidden = status == "hidden"
	return state, nil
}

func (r *txRepo) UpdateStock(ctx context.Context, productID, stock int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock = $1, updated_at = $2 WHERE id = $3`, stock, at, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: id %d", ErrProductNotFound, productID)
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	return InsertMovement(ctx, r.tx, m)
}

// Querier is the subset of pgx.Tx used to append movements.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InsertMovement appends a ledger entry using q. It is exported so the
// catalog can record opening stock inside its own create transaction.
func InsertMovement(ctx context.Context, q Querier, m Movement) (Movement, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := q.QueryRow(ctx,
		`INSERT INTO stock_movements (product_id, direction, quantity, unit_price, total, notes, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		m.ProductID, string(m.Direction), m.Quantity, m.UnitPrice, m.Total, m.Notes, m.Actor, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: insert movement: %w", err)
	}
	return m, nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m         Movement
		direction string
	)
	if err := row.Scan(&m.ID, &m.ProductID, &direction, &m.Quantity, &m.UnitPrice, &m.Total, &m.Notes, &m.Actor, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	m.Direction = Direction(direction)
	return m, nil
}
