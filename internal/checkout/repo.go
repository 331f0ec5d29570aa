package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStockChanged means a guarded stock decrement matched no row even though
// the line passed the stock check under lock.
var ErrStockChanged = errors.New("product stock changed during checkout")

var ErrOrderNotFound = errors.New("order not found")

// DB is the subset of *pgxpool.Pool the repo needs.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store runs checkout writes atomically and serves order reads.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	FindOrder(ctx context.Context, orderID string) (*OrderView, error)
}

// Tx is one open checkout transaction.
type Tx interface {
	LockCart(ctx context.Context, buyerID string) ([]CartLine, error)
	InsertOrder(ctx context.Context, o Order) error
	InsertOrderLine(ctx context.Context, l OrderLine) error
	DecrementStock(ctx context.Context, productID string, qty int) error
	InsertPayment(ctx context.Context, p Payment) error
	ClearCart(ctx context.Context, buyerID string) (int64, error)
}

type Repo struct{ DB DB }

const (
	sqlLockCart = `
		SELECT c.product_id, p.name, c.quantity, c.price_cents, p.stock
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.buyer_id = $1
		ORDER BY c.product_id
		FOR UPDATE OF c, p`

	sqlInsertOrder = `
		INSERT INTO orders(id, buyer_id, total_cents, delivery_address, courier_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	sqlInsertOrderLine = `
		INSERT INTO order_items(order_id, product_id, quantity, price_cents)
		VALUES ($1, $2, $3, $4)`

	sqlDecrementStock = `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	sqlInsertPayment = `
		INSERT INTO payments(id, order_id, buyer_id, method, cart_cents, courier_cents, total_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	sqlClearCart = `DELETE FROM cart_items WHERE buyer_id = $1`

	sqlFindOrder = `
		SELECT id, buyer_id, total_cents, delivery_address, courier_cents, created_at
		FROM orders WHERE id = $1`

	sqlFindOrderLines = `
		SELECT order_id, product_id, quantity, price_cents
		FROM order_items WHERE order_id = $1 ORDER BY product_id`

	sqlFindPayment = `
		SELECT id, order_id, buyer_id, method, cart_cents, courier_cents, total_cents, status, created_at
		FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`
)

// WithTx commits when fn returns nil and rolls back otherwise.
func (r *Repo) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repo) FindOrder(ctx context.Context, orderID string) (*OrderView, error) {
	var v OrderView
	o := &v.Order
	err := r.DB.QueryRow(ctx, sqlFindOrder, orderID).
		Scan(&o.ID, &o.BuyerID, &o.TotalCents, &o.DeliveryAddress, &o.CourierCents, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}

	rows, err := r.DB.Query(ctx, sqlFindOrderLines, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.OrderID, &l.ProductID, &l.Quantity, &l.PriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		v.Lines = append(v.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	var p Payment
	var method, status string
	err = r.DB.QueryRow(ctx, sqlFindPayment, orderID).
		Scan(&p.ID, &p.OrderID, &p.BuyerID, &method, &p.CartCents, &p.CourierCents, &p.TotalCents, &status, &p.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("select payment: %w", err)
	default:
		p.Method, p.Status = Method(method), PaymentStatus(status)
		v.Payment = &p
	}
	return &v, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockCart(ctx context.Context, buyerID string) ([]CartLine, error) {
	rows, err := t.tx.Query(ctx, sqlLockCart, buyerID)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}
	defer rows.Close()

	var out []CartLine
	for rows.Next() {
		l := CartLine{BuyerID: buyerID}
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Quantity, &l.PriceCents, &l.Stock); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart: %w", err)
	}
	return out, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, sqlInsertOrder, o.ID, o.BuyerID, o.TotalCents, o.DeliveryAddress, o.CourierCents, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOrderLine(ctx context.Context, l OrderLine) error {
	_, err := t.tx.Exec(ctx, sqlInsertOrderLine, l.OrderID, l.ProductID, l.Quantity, l.PriceCents)
	if err != nil {
		return fmt.Errorf("insert order item %s: %w", l.ProductID, err)
	}
	return nil
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx, sqlDecrementStock, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	if !affectedOne(ct) {
		return fmt.Errorf("decrement stock %s: %w", productID, ErrStockChanged)
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx, sqlInsertPayment,
		p.ID, p.OrderID, p.BuyerID, string(p.Method), p.CartCents, p.CourierCents, p.TotalCents, string(p.Status), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) ClearCart(ctx context.Context, buyerID string) (int64, error) {
	ct, err := t.tx.Exec(ctx, sqlClearCart, buyerID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return ct.RowsAffected(), nil
}

func affectedOne(ct pgconn.CommandTag) bool {
	return ct.RowsAffected() == 1
}
