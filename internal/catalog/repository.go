package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists products.
type Repository interface {
	CodeChecker
	Create(ctx context.Context, product Product, opening *ledger.Movement) (Product, error)
	UpdateDetails(ctx context.Context, id int64, input EditInput, at time.Time) error
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	Get(ctx context.Context, id int64) (Product, error)
	GetByCode(ctx context.Context, code string) (Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, int, error)
	LowStock(ctx context.Context, threshold int64) ([]Product, error)
}

type repository struct {
	db    *pgxpool.Pool
	level pgx.TxIsoLevel
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool, level pgx.TxIsoLevel) Repository {
	return &repository{db: pool, level: level}
}

const productColumns = `id, code, name, description, unit, price, stock, status, created_at, updated_at`

func (r *repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *repository) Create(ctx context.Context, product Product, opening *ledger.Movement) (Product, error) {
	err := db.WithTx(ctx, r.db, r.level, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO products (code, name, description, unit, price, stock, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			product.Code, product.Name, product.Description, product.Unit, product.Price, product.Stock,
			string(product.Status), product.CreatedAt, product.UpdatedAt,
		).Scan(&product.ID)
		if err != nil {
			if shared.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateCode, product.Code)
			}
			return err
		}
		if opening == nil {
			return nil
		}
		m := *opening
		m.ProductID = product.ID
		_, err = ledger.InsertMovement(ctx, tx, m)
		return err
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

func (r *repository) UpdateDetails(ctx context.Context, id int64, input EditInput, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE products SET name = $1, description = $2, unit = $3, price = $4, updated_at = $5 WHERE id = $6`,
		input.Name, input.Description, input.Unit, input.Price, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *repository) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET status = $1, updated_at = $2 WHERE id = $3`, string(status), at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (r *repository) GetByCode(ctx context.Context, code string) (Product, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE code = $1`, code)
}

func (r *repository) getOne(ctx context.Context, query string, arg any) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	where := ` WHERE 1=1`
	var args []any
	switch {
	case filter.OnlyHidden:
		where += ` AND status = 'hidden'`
	case !filter.IncludeHidden:
		where += ` AND status = 'active'`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + `)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY ` + sortOrder(filter.SortBy, filter.SortDir)
	args = append(args, page.PerPage, page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	products, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *repository) LowStock(ctx context.Context, threshold int64) ([]Product, error) {
	return r.query(ctx, `SELECT `+productColumns+` FROM products WHERE status = 'active' AND stock <= $1 ORDER BY stock ASC, name ASC`, threshold)
}

func (r *repository) query(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		status string
	)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Unit, &p.Price, &p.Stock, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	p.Status = Status(status)
	return p, nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "price":
		return "price " + dir
	case "stock":
		return "stock " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}
