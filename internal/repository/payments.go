package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/status"
)

// SavePaymentSession сохраняет новую платёжную сессию заказа, вытесняя
// прежнюю активную: частичный уникальный индекс гарантирует не больше
// одной активной сессии на заказ, а блокировка строки заказа сериализует
// одновременные повторы.
func (r *PostgresRepository) SavePaymentSession(ctx context.Context, session model.PaymentSession) (saved *model.PaymentSession, err error) {
	err = r.withRetry(ctx, func() error {
		saved, err = r.savePaymentSessionTx(ctx, session)
		return err
	})
	return saved, err
}

func (r *PostgresRepository) savePaymentSessionTx(ctx context.Context, session model.PaymentSession) (*model.PaymentSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var payStatus string
	err = tx.QueryRow(ctx,
		`SELECT payment_status FROM orders WHERE id = $1 FOR UPDATE`,
		session.OrderID,
	).Scan(&payStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, session.OrderID)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	// Финальность перепроверяется под блокировкой строки: коллбэк мог
	// завершить оплату, пока создавалась сессия на стороне шлюза.
	if status.TerminalPayment(model.PaymentStatus(payStatus)) {
		return nil, fmt.Errorf("%w: order id %d", ErrPaymentFinalized, session.OrderID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE payment_sessions SET superseded = TRUE
		 WHERE order_id = $1 AND NOT terminal AND NOT superseded`,
		session.OrderID,
	)
	if err != nil {
		return nil, fmt.Errorf("supersede sessions: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO payment_sessions (order_id, transaction_id, amount_cents, currency,
		                               description, payment_url, is_mock)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		session.OrderID, session.TransactionID, session.AmountCents, session.Currency,
		session.Description, session.PaymentURL, session.Mock,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &session, nil
}

// GetLatestSession возвращает последнюю платёжную сессию заказа,
// включая вытесненные: повтор переиспользует её сумму и описание.
func (r *PostgresRepository) GetLatestSession(ctx context.Context, orderID int64) (*model.PaymentSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, order_id, transaction_id, amount_cents, currency, description,
		        payment_url, is_mock, terminal, superseded, created_at
		 FROM payment_sessions
		 WHERE order_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		orderID,
	)

	var s model.PaymentSession
	err := row.Scan(&s.ID, &s.OrderID, &s.TransactionID, &s.AmountCents, &s.Currency,
		&s.Description, &s.PaymentURL, &s.Mock, &s.Terminal, &s.Superseded, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order id %d", ErrSessionNotFound, orderID)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &s, nil
}

// FallbackToCash переводит заказ на оплату наличными при получении.
// Вызывается, когда шлюз недоступен по вине конфигурации: заказ важнее
// изначально выбранного способа оплаты.
func (r *PostgresRepository) FallbackToCash(ctx context.Context, number string) (order *model.Order, err error) {
	err = r.withRetry(ctx, func() error {
		order, err = r.fallbackToCashTx(ctx, number)
		return err
	})
	return order, err
}

func (r *PostgresRepository) fallbackToCashTx(ctx context.Context, number string) (*model.Order, error) {
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

	if order.PaymentMethod != model.PaymentMethodCash {
		order.PaymentMethod = model.PaymentMethodCash
		order.PaymentStatus = model.PaymentStatusPending

		err = tx.QueryRow(ctx,
			`UPDATE orders SET payment_method = $2, payment_status = $3, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			order.ID, string(order.PaymentMethod), string(order.PaymentStatus),
		).Scan(&order.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("update order: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payment_sessions SET superseded = TRUE
			 WHERE order_id = $1 AND NOT terminal AND NOT superseded`,
			order.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("supersede sessions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}

// ReconcileOrder применяет статус оплаты из внешнего источника к заказу.
// Операция идемпотентна и монотонна: новый статус записывается только при
// строго большем ранге финальности, запоздавшие и повторные уведомления —
// no-op. Конкурирующие сверки сериализуются блокировкой строки заказа, так
// что итоговое состояние — самое финальное из наблюдавшихся.
func (r *PostgresRepository) ReconcileOrder(ctx context.Context, number string, newPayment model.PaymentStatus) (order *model.Order, changed bool, err error) {
	err = r.withRetry(ctx, func() error {
		order, changed, err = r.reconcileOrderTx(ctx, number, newPayment)
		return err
	})
	return order, changed, err
}

func (r *PostgresRepository) reconcileOrderTx(ctx context.Context, number string, newPayment model.PaymentStatus) (*model.Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE number = $1 FOR UPDATE`,
		number,
	)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
		}
		return nil, false, fmt.Errorf("lock order: %w", err)
	}

	if !paymentApplies(order.PaymentStatus, newPayment) {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit tx: %w", err)
		}
		return order, false, nil
	}

	order.PaymentStatus = newPayment
	order.Status = reconciledOrderStatus(order.Status, newPayment)

	err = tx.QueryRow(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		order.ID, string(order.Status), string(order.PaymentStatus),
	).Scan(&order.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("update order: %w", err)
	}

	if status.TerminalPayment(newPayment) {
		_, err = tx.Exec(ctx,
			`UPDATE payment_sessions SET terminal = TRUE
			 WHERE order_id = $1 AND NOT terminal AND NOT superseded`,
			order.ID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("close session: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}

	return order, true, nil
}

// paymentApplies сообщает, применяется ли новый статус оплаты поверх
// текущего. Записывается только строго более финальный статус: повтор того
// же статуса и запоздавший PENDING после PAID — no-op, первый конечный
// исход выигрывает.
func paymentApplies(cur, next model.PaymentStatus) bool {
	return status.PaymentRank(next) > status.PaymentRank(cur)
}

// reconciledOrderStatus выводит статус заказа из результата оплаты.
// Прогресс исполнения заказа никогда не откатывается: оплата подтверждает
// только ожидающий заказ, отмена не трогает отгруженный.
func reconciledOrderStatus(cur model.OrderStatus, pay model.PaymentStatus) model.OrderStatus {
	switch pay {
	case model.PaymentStatusPaid, model.PaymentStatusCompleted:
		if cur == model.OrderStatusPending || cur == model.OrderStatusPaymentFailed {
			return model.OrderStatusConfirmed
		}
	case model.PaymentStatusFailed:
		if !status.Terminal(cur) {
			return model.OrderStatusPaymentFailed
		}
	case model.PaymentStatusCancelled:
		switch cur {
		case model.OrderStatusPending, model.OrderStatusConfirmed,
			model.OrderStatusProcessing, model.OrderStatusPaymentFailed:
			return model.OrderStatusCancelled
		}
	}
	return cur
}

// CreateInstallmentApplication сохраняет заявку на рассрочку, один к одному
// с заказом. Статусы заказа заявка не меняет: HISSELI-заказ остаётся
// ожидающим до ручного решения персонала.
func (r *PostgresRepository) CreateInstallmentApplication(ctx context.Context, app model.InstallmentApplication) error {
	family, err := json.Marshal(app.Family)
	if err != nil {
		return fmt.Errorf("marshal family members: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO installment_applications (order_id, first_name, last_name, father_name,
		        document_front_url, document_back_url, registration_address, residence_address,
		        phone, family, employer_name, job_title, income_cents)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		app.OrderID, app.FirstName, app.LastName, app.FatherName,
		app.DocumentFrontURL, app.DocumentBackURL, app.RegistrationAddress, app.ResidenceAddress,
		app.Phone, family, app.EmployerName, app.JobTitle, app.IncomeCents,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: order id %d", ErrApplicationExists, app.OrderID)
		}
		return fmt.Errorf("insert application: %w", err)
	}

	return nil
}

// GetInstallmentApplication возвращает заявку на рассрочку заказа.
func (r *PostgresRepository) GetInstallmentApplication(ctx context.Context, orderID int64) (*model.InstallmentApplication, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT order_id, first_name, last_name, father_name, document_front_url,
		        document_back_url, registration_address, residence_address, phone,
		        family, employer_name, job_title, income_cents, created_at
		 FROM installment_applications
		 WHERE order_id = $1`,
		orderID,
	)

	var (
		app    model.InstallmentApplication
		family []byte
	)
	err := row.Scan(&app.OrderID, &app.FirstName, &app.LastName, &app.FatherName,
		&app.DocumentFrontURL, &app.DocumentBackURL, &app.RegistrationAddress,
		&app.ResidenceAddress, &app.Phone, &family, &app.EmployerName,
		&app.JobTitle, &app.IncomeCents, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order id %d", ErrApplicationMissing, orderID)
		}
		return nil, fmt.Errorf("get application: %w", err)
	}

	if err := json.Unmarshal(family, &app.Family); err != nil {
		return nil, fmt.Errorf("unmarshal family members: %w", err)
	}

	return &app, nil
}
