package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/pricing"
	"github.com/mmeshcher/storefront-system/internal/status"
)

// coalesceWindow — окно, в котором повторная отправка той же корзины
// возвращает уже созданный заказ вместо создания второго.
const coalesceWindow = "5 minutes"

// CheckoutLine — проверенная позиция корзины для создания заказа.
type CheckoutLine struct {
	ProductID string
	VariantID *string
	Quantity  int
}

// CreateOrderParams — параметры атомарного создания заказа.
// Quote вызывается внутри транзакции с ценами, зафиксированными под блокировкой,
// чтобы итог заказа соответствовал ценам на момент покупки.
type CreateOrderParams struct {
	Number        string
	CustomerID    *int64
	Guest         *model.GuestContact
	Lines         []CheckoutLine
	AddressID     *int64
	NewAddress    *model.Address
	PaymentMethod model.PaymentMethod
	TaksitTerm    *int
	CustomerNote  string
	Fingerprint   []byte
	Quote         func(lines []pricing.Line) pricing.Quote
}

// CreateOrder атомарно создаёт заказ и его позиции, списывая остатки.
// Любая ошибка откатывает всё: частично созданных заказов не бывает.
// Возвращает признак coalesced, если заказ с тем же отпечатком уже был
// создан в пределах окна повторной отправки.
func (r *PostgresRepository) CreateOrder(ctx context.Context, params CreateOrderParams) (order *model.Order, coalesced bool, err error) {
	err = r.withRetry(ctx, func() error {
		order, coalesced, err = r.createOrderTx(ctx, params)
		return err
	})
	return order, coalesced, err
}

func (r *PostgresRepository) createOrderTx(ctx context.Context, params CreateOrderParams) (*model.Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Одинаковые отправки сериализуются advisory-блокировкой по отпечатку,
	// иначе два параллельных сабмита прошли бы проверку одновременно.
	_, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		hex.EncodeToString(params.Fingerprint),
	)
	if err != nil {
		return nil, false, fmt.Errorf("lock fingerprint: %w", err)
	}

	var existing string
	err = tx.QueryRow(ctx,
		`SELECT number FROM orders
		 WHERE fingerprint = $1 AND created_at > now() - interval '`+coalesceWindow+`'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		params.Fingerprint,
	).Scan(&existing)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit tx: %w", err)
		}
		order, err := r.GetOrderByNumber(ctx, existing)
		return order, true, err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("check duplicate submission: %w", err)
	}

	shippingAddressID, err := resolveAddress(ctx, tx, params.AddressID, params.NewAddress)
	if err != nil {
		return nil, false, err
	}

	priceLines := make([]pricing.Line, 0, len(params.Lines))
	items := make([]model.OrderItem, 0, len(params.Lines))

	for i, line := range params.Lines {
		var (
			priceCents     int64
			salePriceCents *int64
			productStock   int
		)
		err := tx.QueryRow(ctx,
			`SELECT price_cents, sale_price_cents, stock FROM products WHERE id = $1 FOR UPDATE`,
			line.ProductID,
		).Scan(&priceCents, &salePriceCents, &productStock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
			}
			return nil, false, fmt.Errorf("lock product: %w", err)
		}

		available := productStock
		if line.VariantID != nil {
			var ownerID string
			err := tx.QueryRow(ctx,
				`SELECT product_id, stock FROM product_variants WHERE id = $1 FOR UPDATE`,
				*line.VariantID,
			).Scan(&ownerID, &available)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, false, fmt.Errorf("%w: %s", ErrVariantNotFound, *line.VariantID)
				}
				return nil, false, fmt.Errorf("lock variant: %w", err)
			}
			if ownerID != line.ProductID {
				return nil, false, fmt.Errorf("%w: variant %s does not belong to %s", ErrVariantNotFound, *line.VariantID, line.ProductID)
			}
		}

		if available < line.Quantity {
			return nil, false, fmt.Errorf("%w: line %d, product %s", ErrStockInsufficient, i+1, line.ProductID)
		}

		pl := pricing.Line{
			UnitPriceCents: priceCents,
			SalePriceCents: salePriceCents,
			Quantity:       line.Quantity,
		}
		priceLines = append(priceLines, pl)

		items = append(items, model.OrderItem{
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			Quantity:       line.Quantity,
			UnitPriceCents: pl.EffectivePriceCents(),
		})
	}

	quote := params.Quote(priceLines)

	order := &model.Order{
		Number:            params.Number,
		CustomerID:        params.CustomerID,
		Guest:             params.Guest,
		ShippingAddressID: shippingAddressID,
		BillingAddressID:  shippingAddressID,
		PaymentMethod:     params.PaymentMethod,
		Status:            model.OrderStatusPending,
		PaymentStatus:     model.PaymentStatusPending,
		SubtotalCents:     quote.SubtotalCents,
		ShippingCents:     quote.ShippingCents,
		TotalCents:        quote.TotalCents,
		TaksitTerm:        params.TaksitTerm,
		CustomerNote:      params.CustomerNote,
	}

	var guestName, guestEmail, guestPhone *string
	if params.Guest != nil {
		guestName, guestEmail, guestPhone = &params.Guest.Name, &params.Guest.Email, &params.Guest.Phone
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (number, customer_id, guest_name, guest_email, guest_phone,
		                     shipping_address_id, billing_address_id, payment_method,
		                     status, payment_status, subtotal_cents, shipping_cents, total_cents,
		                     taksit_term, customer_note, fingerprint)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id, created_at, updated_at`,
		order.Number, order.CustomerID, guestName, guestEmail, guestPhone,
		order.ShippingAddressID, order.BillingAddressID, string(order.PaymentMethod),
		string(order.Status), string(order.PaymentStatus),
		order.SubtotalCents, order.ShippingCents, order.TotalCents,
		order.TaksitTerm, order.CustomerNote, params.Fingerprint,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	for i := range items {
		err := tx.QueryRow(ctx,
			`INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price_cents)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			order.ID, items[i].ProductID, items[i].VariantID, items[i].Quantity, items[i].UnitPriceCents,
		).Scan(&items[i].ID)
		if err != nil {
			return nil, false, fmt.Errorf("insert order item: %w", err)
		}

		if items[i].VariantID != nil {
			_, err = tx.Exec(ctx,
				`UPDATE product_variants SET stock = stock - $2 WHERE id = $1`,
				*items[i].VariantID, items[i].Quantity,
			)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE products SET stock = stock - $2 WHERE id = $1`,
				items[i].ProductID, items[i].Quantity,
			)
		}
		if err != nil {
			return nil, false, fmt.Errorf("decrement stock: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}

	order.Items = items
	return order, false, nil
}

func resolveAddress(ctx context.Context, tx pgx.Tx, addressID *int64, newAddress *model.Address) (int64, error) {
	if newAddress != nil {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO addresses (name, phone, city, street) VALUES ($1, $2, $3, $4) RETURNING id`,
			newAddress.Name, newAddress.Phone, newAddress.City, newAddress.Street,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert address: %w", err)
		}
		return id, nil
	}

	if addressID == nil {
		return 0, ErrAddressNotFound
	}

	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM addresses WHERE id = $1)`,
		*addressID,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check address: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %d", ErrAddressNotFound, *addressID)
	}

	return *addressID, nil
}

const orderColumns = `id, number, customer_id, guest_name, guest_email, guest_phone,
	shipping_address_id, billing_address_id, payment_method, status, payment_status,
	subtotal_cents, shipping_cents, total_cents, taksit_term, customer_note,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o             model.Order
		guestName     *string
		guestEmail    *string
		guestPhone    *string
		paymentMethod string
		orderStatus   string
		payStatus     string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &guestName, &guestEmail, &guestPhone,
		&o.ShippingAddressID, &o.BillingAddressID, &paymentMethod, &orderStatus, &payStatus,
		&o.SubtotalCents, &o.ShippingCents, &o.TotalCents, &o.TaksitTerm, &o.CustomerNote,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.PaymentMethod = model.PaymentMethod(paymentMethod)
	o.Status = model.OrderStatus(orderStatus)
	o.PaymentStatus = model.PaymentStatus(payStatus)

	if guestName != nil || guestEmail != nil || guestPhone != nil {
		o.Guest = &model.GuestContact{}
		if guestName != nil {
			o.Guest.Name = *guestName
		}
		if guestEmail != nil {
			o.Guest.Email = *guestEmail
		}
		if guestPhone != nil {
			o.Guest.Phone = *guestPhone
		}
	}

	return &o, nil
}

// GetOrderByNumber возвращает заказ с позициями по внешнему номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE number = $1`,
		number,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, variant_id, quantity, unit_price_cents
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		order.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}

// UpdateOrderStatus применяет ручную правку персонала, пропуская её через
// граф допустимых переходов под блокировкой строки заказа. Недопустимый
// переход отклоняется, а не записывается.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, number string, newStatus *model.OrderStatus, newPayment *model.PaymentStatus) (order *model.Order, err error) {
	err = r.withRetry(ctx, func() error {
		order, err = r.updateOrderStatusTx(ctx, number, newStatus, newPayment)
		return err
	})
	return order, err
}

func (r *PostgresRepository) updateOrderStatusTx(ctx context.Context, number string, newStatus *model.OrderStatus, newPayment *model.PaymentStatus) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE number = $1 FOR UPDATE`,
		number,
	)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if newStatus != nil && *newStatus != order.Status {
		if !status.CanTransition(order.Status, *newStatus) {
			return nil, fmt.Errorf("%w: %s -> %s", status.ErrIllegalTransition, order.Status, *newStatus)
		}

		// HISSELI-заказ не подтверждается, пока нет полной заявки на рассрочку.
		if order.Status == model.OrderStatusPending && order.PaymentMethod == model.PaymentMethodHisseli {
			var hasApplication bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM installment_applications WHERE order_id = $1)`,
				order.ID,
			).Scan(&hasApplication)
			if err != nil {
				return nil, fmt.Errorf("check application: %w", err)
			}
			if !hasApplication && *newStatus != model.OrderStatusCancelled {
				return nil, fmt.Errorf("%w: order %s", ErrApplicationMissing, number)
			}
		}

		order.Status = *newStatus
	}

	if newPayment != nil && *newPayment != order.PaymentStatus {
		if !paymentApplies(order.PaymentStatus, *newPayment) {
			return nil, fmt.Errorf("%w: %s -> %s", status.ErrPaymentRegression, order.PaymentStatus, *newPayment)
		}
		order.PaymentStatus = *newPayment
	}

	err = tx.QueryRow(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		order.ID, string(order.Status), string(order.PaymentStatus),
	).Scan(&order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}
