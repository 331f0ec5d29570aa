package stockwatch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type ProductStock struct {
	ProductID string
	SellerID  string
	Name      string
	Stock     int
}

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Repo struct{ DB DB }

const sqlProductStock = `
	SELECT id, seller_id, name, stock
	FROM products
	WHERE id = ANY($1)
	ORDER BY id`

// Stock reads the current stock of the given products. Unknown ids are skipped.
func (r *Repo) Stock(ctx context.Context, productIDs []string) ([]ProductStock, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.Query(ctx, sqlProductStock, productIDs)
	if err != nil {
		return nil, fmt.Errorf("query product stock: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProductStock, error) {
		var p ProductStock
		err := row.Scan(&p.ProductID, &p.SellerID, &p.Name, &p.Stock)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan product stock: %w", err)
	}
	return out, nil
}
