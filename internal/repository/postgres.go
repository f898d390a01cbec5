// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/storefront-system/internal/pricing"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ с указанным номером не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар из корзины не существует.
	ErrProductNotFound = errors.New("product not found")
	// ErrVariantNotFound возвращается, если вариант не существует или принадлежит другому товару.
	ErrVariantNotFound = errors.New("variant not found for product")
	// ErrStockInsufficient возвращается при нехватке остатка по позиции корзины.
	ErrStockInsufficient = errors.New("insufficient stock")
	// ErrAddressNotFound возвращается, если ссылка на адрес не существует.
	ErrAddressNotFound = errors.New("address not found")
	// ErrApplicationExists возвращается при повторной заявке на рассрочку для заказа.
	ErrApplicationExists = errors.New("installment application already exists")
	// ErrApplicationMissing возвращается, когда для подтверждения HISSELI-заказа нет полной заявки.
	ErrApplicationMissing = errors.New("installment application missing")
	// ErrSessionNotFound возвращается, если у заказа нет ни одной платёжной сессии.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrPaymentFinalized возвращается при попытке создать сессию для заказа,
	// оплата которого уже завершилась.
	ErrPaymentFinalized = errors.New("order payment already finalized")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при сериализационных сбоях, дедлоках
// и обрывах соединения. Конкурирующие сверки и повторы сессий держат
// блокировку строки заказа, поэтому такие сбои здесь штатны.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// ProductExists сообщает, существует ли товар с указанным идентификатором.
func (r *PostgresRepository) ProductExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check product: %w", err)
	}
	return exists, nil
}

// GetDeliverySettings возвращает текущие параметры расчёта доставки.
func (r *PostgresRepository) GetDeliverySettings(ctx context.Context) (pricing.Config, error) {
	var cfg pricing.Config
	err := r.pool.QueryRow(ctx,
		`SELECT delivery_cost_cents, free_delivery_threshold_cents FROM delivery_settings WHERE id = 1`,
	).Scan(&cfg.DeliveryCostCents, &cfg.FreeDeliveryThresholdCents)
	if err != nil {
		return pricing.Config{}, fmt.Errorf("get delivery settings: %w", err)
	}
	return cfg, nil
}
