package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"cycleport/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderExists         = errors.New("an order with this id already exists")
	ErrReservationInactive = errors.New("reservation is no longer active")
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	CreateWithStock(ctx context.Context, order *domain.Order) error
	ConfirmReservation(ctx context.Context, order *domain.Order, requested domain.OrderStatus, at time.Time) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*domain.Order, error)
	MarkPaid(ctx context.Context, correlationID string, at time.Time) (bool, error)
	SetPaymentIntent(ctx context.Context, correlationID, intentID string) error
	SaveStatus(ctx context.Context, order *domain.Order) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	ListAll(ctx context.Context) ([]*domain.Order, error)
	ReleaseExpiredReservations(ctx context.Context, now time.Time, limit int) (int, error)
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `o.id, o.custom_order_id, o.user_id, o.total, o.status, o.payment_method, o.is_paid,
	o.paid_at, o.payment_intent_id, o.reserved_until, o.shipping_info, o.billing_details,
	o.created_at, o.updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }, extra ...interface{}) (*domain.Order, error) {
	order := &domain.Order{Items: []domain.OrderItem{}}
	var (
		intentID sql.NullString
		shipping []byte
		billing  []byte
	)

	dest := []interface{}{
		&order.ID,
		&order.CustomOrderID,
		&order.UserID,
		&order.Total,
		&order.Status,
		&order.PaymentMethod,
		&order.IsPaid,
		&order.PaidAt,
		&intentID,
		&order.ReservedUntil,
		&shipping,
		&billing,
		&order.CreatedAt,
		&order.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	order.PaymentIntentID = intentID.String

	var si domain.ShippingInfo
	ok, err := scanJSON(shipping, &si)
	if err != nil {
		return nil, fmt.Errorf("failed to decode shipping info: %w", err)
	}
	if ok {
		order.ShippingInfo = &si
	}

	var bd domain.BillingDetails
	ok, err = scanJSON(billing, &bd)
	if err != nil {
		return nil, fmt.Errorf("failed to decode billing details: %w", err)
	}
	if ok {
		order.BillingDetails = &bd
	}

	return order, nil
}

type stockRow struct {
	name      string
	available int
}

// lockStock locks the given product rows in id order and returns their stock
func lockStock(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) (map[uuid.UUID]stockRow, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, count_in_stock
		FROM products
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	defer rows.Close()

	stock := make(map[uuid.UUID]stockRow, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var s stockRow
		if err := rows.Scan(&id, &s.name, &s.available); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stock[id] = s
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock: %w", err)
	}

	return stock, nil
}

func sortedIDs(quantities map[uuid.UUID]int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// CreateWithStock validates stock under row locks, inserts the order and its
// items and decrements stock, all in one transaction
func (r *orderRepository) CreateWithStock(ctx context.Context, order *domain.Order) error {
	shipping, err := jsonValue(order.ShippingInfo, order.ShippingInfo == nil)
	if err != nil {
		return fmt.Errorf("failed to encode shipping info: %w", err)
	}
	billing, err := jsonValue(order.BillingDetails, order.BillingDetails == nil)
	if err != nil {
		return fmt.Errorf("failed to encode billing details: %w", err)
	}

	quantities := order.Quantities()
	ids := sortedIDs(quantities)

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		stock, err := lockStock(ctx, tx, ids)
		if err != nil {
			return err
		}

		for _, item := range order.Items {
			s, ok := stock[item.ProductID]
			if !ok {
				return ErrProductNotFound
			}
			if requested := quantities[item.ProductID]; requested > s.available {
				return &domain.InsufficientStockError{
					ProductID: item.ProductID,
					Name:      s.name,
					Requested: requested,
					Available: s.available,
				}
			}
		}

		var intentID interface{}
		if order.PaymentIntentID != "" {
			intentID = order.PaymentIntentID
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (id, custom_order_id, user_id, total, status, payment_method, is_paid,
				paid_at, payment_intent_id, reserved_until, shipping_info, billing_details, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			order.ID,
			order.CustomOrderID,
			order.UserID,
			money(order.Total),
			string(order.Status),
			order.PaymentMethod,
			order.IsPaid,
			order.PaidAt,
			intentID,
			order.ReservedUntil,
			shipping,
			billing,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, "orders_custom_order_id_key") {
				return ErrOrderExists
			}
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i, item := range order.Items {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, name, quantity, price, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, uuid.New(), order.ID, item.ProductID, item.Name, item.Quantity, money(item.Price), i)
			if err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}

		for _, id := range ids {
			_, err = tx.ExecContext(ctx,
				`UPDATE products SET count_in_stock = GREATEST(count_in_stock - $2, 0) WHERE id = $1`,
				id, quantities[id],
			)
			if err != nil {
				return fmt.Errorf("failed to decrement stock: %w", err)
			}
		}

		return nil
	})
}

// ConfirmReservation turns a held reservation into a checked-out order. A
// reservation the webhook already marked paid stays paid whatever the
// requested status.
func (r *orderRepository) ConfirmReservation(ctx context.Context, order *domain.Order, requested domain.OrderStatus, at time.Time) error {
	shipping, err := jsonValue(order.ShippingInfo, order.ShippingInfo == nil)
	if err != nil {
		return fmt.Errorf("failed to encode shipping info: %w", err)
	}
	billing, err := jsonValue(order.BillingDetails, order.BillingDetails == nil)
	if err != nil {
		return fmt.Errorf("failed to encode billing details: %w", err)
	}

	query := `
		UPDATE orders o
		SET payment_method = $2,
		    shipping_info = COALESCE($3::jsonb, o.shipping_info),
		    billing_details = COALESCE($4::jsonb, o.billing_details),
		    status = CASE WHEN o.is_paid OR $5::text = 'paid' THEN 'paid' ELSE $5::text END,
		    is_paid = o.is_paid OR $5::text = 'paid',
		    paid_at = CASE WHEN o.is_paid THEN o.paid_at WHEN $5::text = 'paid' THEN $6::timestamptz ELSE NULL END,
		    reserved_until = NULL
		WHERE o.id = $1
		  AND o.reserved_until IS NOT NULL
		  AND o.status IN ('pending', 'paid')
		RETURNING ` + orderColumns

	confirmed, err := scanOrder(r.db.QueryRowContext(ctx, query,
		order.ID,
		order.PaymentMethod,
		shipping,
		billing,
		string(requested),
		at,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReservationInactive
		}
		return fmt.Errorf("failed to confirm reservation: %w", err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{confirmed.ID})
	if err != nil {
		return err
	}
	confirmed.Items = items[confirmed.ID]

	*order = *confirmed
	return nil
}

func (r *orderRepository) findOne(ctx context.Context, where string, arg interface{}) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE ` + where

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

// FindByID retrieves an order with its items
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, "o.id = $1", id)
}

// FindByCorrelationID retrieves an order by the id shared with the payment provider
func (r *orderRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*domain.Order, error) {
	return r.findOne(ctx, "o.custom_order_id = $1", correlationID)
}

// MarkPaid is a compare-and-set on the unpaid order. It reports whether this
// call made the transition; replays return false and leave paid_at alone.
func (r *orderRepository) MarkPaid(ctx context.Context, correlationID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET is_paid = TRUE, paid_at = $2, status = 'paid'
		WHERE custom_order_id = $1 AND NOT is_paid
	`, correlationID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE custom_order_id = $1)`, correlationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return false, ErrOrderNotFound
	}

	return false, nil
}

// SetPaymentIntent records the provider's intent id on the order
func (r *orderRepository) SetPaymentIntent(ctx context.Context, correlationID, intentID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE orders SET payment_intent_id = $2 WHERE custom_order_id = $1`,
		correlationID, intentID,
	)
	if err != nil {
		return fmt.Errorf("failed to store payment intent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// SaveStatus persists status, is_paid and paid_at as already derived on the order.
// Cancelling drops any reservation hold, and a hold that was still pending
// gives its stock back in the same transaction.
func (r *orderRepository) SaveStatus(ctx context.Context, order *domain.Order) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var (
			current  string
			reserved sql.NullTime
		)
		err := tx.QueryRowContext(ctx,
			`SELECT status, reserved_until FROM orders WHERE id = $1 FOR UPDATE`,
			order.ID,
		).Scan(&current, &reserved)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order: %w", err)
		}

		if order.Status == domain.OrderStatusCancelled &&
			current == string(domain.OrderStatusPending) && reserved.Valid {
			if err := restoreHeldStock(ctx, tx, []string{order.ID.String()}); err != nil {
				return err
			}
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = $2::text, is_paid = $3, paid_at = $4,
			    reserved_until = CASE WHEN $2::text = 'cancelled' THEN NULL ELSE reserved_until END
			WHERE id = $1
			RETURNING reserved_until, updated_at
		`,
			order.ID,
			string(order.Status),
			order.IsPaid,
			order.PaidAt,
		).Scan(&order.ReservedUntil, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		return nil
	})
}

// ListByUser returns a customer's orders, newest first
func (r *orderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, r.attachItems(ctx, orders)
}

// ListAll returns every order with its owner's name and email, newest first
func (r *orderRepository) ListAll(ctx context.Context) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `, u.name, u.email
		FROM orders o
		JOIN users u ON u.id = o.user_id
		ORDER BY o.created_at DESC, o.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		customer := &domain.OrderCustomer{}
		order, err := scanOrder(rows, &customer.Name, &customer.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		order.Customer = customer
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, r.attachItems(ctx, orders)
}

func (r *orderRepository) attachItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return err
	}

	for _, o := range orders {
		if lines, ok := items[o.ID]; ok {
			o.Items = lines
		}
	}
	return nil
}

func (r *orderRepository) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error) {
	keys := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, quantity, price
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]domain.OrderItem, len(orderIDs))
	for _, id := range orderIDs {
		items[id] = []domain.OrderItem{}
	}

	for rows.Next() {
		var orderID uuid.UUID
		var productID uuid.NullUUID
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &productID, &item.Name, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.ProductID = productID.UUID
		items[orderID] = append(items[orderID], item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	return items, nil
}

// ReleaseExpiredReservations cancels up to limit pending holds whose
// reservation has lapsed and puts their stock back. Rows locked by a
// concurrent checkout are skipped and picked up on a later sweep.
func (r *orderRepository) ReleaseExpiredReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	released := 0

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id
			FROM orders
			WHERE status = 'pending' AND reserved_until IS NOT NULL AND reserved_until < $1
			ORDER BY reserved_until
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, limit)
		if err != nil {
			return fmt.Errorf("failed to select expired reservations: %w", err)
		}

		keys := []string{}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan reservation: %w", err)
			}
			keys = append(keys, id)
		}
		rows.Close()
		if err = rows.Err(); err != nil {
			return fmt.Errorf("error iterating reservations: %w", err)
		}

		if len(keys) == 0 {
			return nil
		}

		if err := restoreHeldStock(ctx, tx, keys); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = 'cancelled', reserved_until = NULL WHERE id = ANY($1::uuid[])`,
			keys,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel reservations: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		released = int(n)
		return nil
	})

	return released, err
}

// restoreHeldStock adds the item quantities of the given orders back to their
// products. Product rows are locked in id order first.
func restoreHeldStock(ctx context.Context, tx *sql.Tx, orderIDs []string) error {
	_, err := tx.ExecContext(ctx, `
		SELECT p.id FROM products p
		WHERE p.id IN (SELECT product_id FROM order_items WHERE order_id = ANY($1::uuid[]))
		ORDER BY p.id
		FOR UPDATE
	`, orderIDs)
	if err != nil {
		return fmt.Errorf("failed to lock products: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products p
		SET count_in_stock = p.count_in_stock + held.quantity
		FROM (
			SELECT product_id, SUM(quantity) AS quantity
			FROM order_items
			WHERE order_id = ANY($1::uuid[]) AND product_id IS NOT NULL
			GROUP BY product_id
		) held
		WHERE p.id = held.product_id
	`, orderIDs)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	return nil
}
