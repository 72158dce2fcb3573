// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/chemik-burger-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrProductNotFound возвращается, если продукт отсутствует в каталоге.
var (
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict возвращается, если условное обновление статуса не прошло:
	// текущий статус заказа отличается от ожидаемого.
	ErrStatusConflict = errors.New("order status conflict")
	// ErrAvailabilityConflict возвращается, если флаг доступности продукта
	// уже изменён другим запросом.
	ErrAvailabilityConflict = errors.New("product availability conflict")
)

// Ключ advisory-блокировки, сериализующей выдачу дневных номеров заказов.
const dailyNumberLockKey = 874213

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

// withRetry повторяет операцию при сбоях сериализации, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// ListAvailableProducts возвращает доступные позиции меню.
func (r *PostgresRepository) ListAvailableProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, COALESCE(description, ''), price_in_cents, is_available, created_at, updated_at
		 FROM products
		 WHERE is_available = TRUE
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceInCents, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// GetProductPrices возвращает актуальные цены по списку идентификаторов.
// Цены читаются из БД при каждом вызове: клиентским ценам доверять нельзя.
func (r *PostgresRepository) GetProductPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, price_in_cents FROM products WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[uuid.UUID]int64, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var price int64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices[id] = price
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return prices, nil
}

// SetProductAvailability переключает доступность продукта.
// Обновление условное: если флаг уже не равен expected, возвращается ErrAvailabilityConflict.
func (r *PostgresRepository) SetProductAvailability(ctx context.Context, id uuid.UUID, expected bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE products SET is_available = NOT is_available, updated_at = now()
		 WHERE id = $1 AND is_available = $2`,
		id, expected,
	)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check product: %w", err)
	}
	if !exists {
		return ErrProductNotFound
	}

	return ErrAvailabilityConflict
}

// OrderItemParams описывает позицию создаваемого заказа со снимком цены.
type OrderItemParams struct {
	ProductID          uuid.UUID
	Quantity           int
	PriceAtTimeInCents int64
}

// CreateOrderParams описывает параметры создания заказа.
// Ненулевой DayStart означает выдачу дневного номера для дня, начавшегося в этот момент.
type CreateOrderParams struct {
	Status             model.OrderStatus
	TotalAmountInCents int64
	PaymentProviderID  *string
	Items              []OrderItemParams
	DayStart           *time.Time
}

// CreateOrder атомарно сохраняет заказ и все его позиции.
// Либо фиксируется заказ целиком, либо не сохраняется ничего.
func (r *PostgresRepository) CreateOrder(ctx context.Context, p CreateOrderParams) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		o, err := r.createOrderTx(ctx, p)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *PostgresRepository) createOrderTx(ctx context.Context, p CreateOrderParams) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order := &model.Order{
		Status:             p.Status,
		TotalAmountInCents: p.TotalAmountInCents,
		PaymentProviderID:  p.PaymentProviderID,
	}

	if p.DayStart != nil {
		// Сериализуем выдачу номеров, иначе два параллельных заказа получат один номер.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, dailyNumberLockKey); err != nil {
			return nil, fmt.Errorf("acquire daily number lock: %w", err)
		}

		var maxDaily int
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(daily_order_number), 0) FROM orders WHERE created_at >= $1`,
			*p.DayStart,
		).Scan(&maxDaily)
		if err != nil {
			return nil, fmt.Errorf("select max daily number: %w", err)
		}

		next := maxDaily + 1
		order.DailyOrderNumber = &next
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (status, total_amount_in_cents, payment_provider_id, daily_order_number)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		string(p.Status), p.TotalAmountInCents, p.PaymentProviderID, order.DailyOrderNumber,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range p.Items {
		_, err := tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, price_at_time_in_cents)
			 VALUES ($1, $2, $3, $4)`,
			order.ID, item.ProductID, item.Quantity, item.PriceAtTimeInCents,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
			}
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, status, total_amount_in_cents, payment_provider_id, daily_order_number, created_at, updated_at
		 FROM orders
		 WHERE id = $1`,
		id,
	)

	var o model.Order
	var status string
	err := row.Scan(&o.ID, &status, &o.TotalAmountInCents, &o.PaymentProviderID, &o.DailyOrderNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	return &o, nil
}

// GetOrderStatus возвращает текущий статус заказа.
func (r *PostgresRepository) GetOrderStatus(ctx context.Context, id uuid.UUID) (model.OrderStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("get order status: %w", err)
	}

	return model.OrderStatus(status), nil
}

// UpdateOrderStatus выполняет условный переход заказа из статуса from в статус to.
// Одно атомарное обновление с проверкой текущего статуса защищает от потерянных обновлений
// при двух одновременных переходах.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
			id, string(to), string(from),
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		if cmdTag.RowsAffected() == 1 {
			return nil
		}

		current, err := r.GetOrderStatus(ctx, id)
		if err != nil {
			return err
		}

		return fmt.Errorf("%w: order %s is %s, expected %s", ErrStatusConflict, id, current, from)
	})
}

// MarkOrderPaid переводит заказ из PENDING_PAYMENT в PAID.
// Переход идемпотентный и только вперёд: повторная доставка уведомления
// от шлюза не меняет заказ и не считается ошибкой.
// Возвращает признак того, что статус был изменён этим вызовом.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, string(model.OrderStatusPaid), string(model.OrderStatusPendingPayment),
	)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return true, nil
	}

	// Ноль строк: либо заказа нет, либо он уже PAID или дальше.
	if _, err := r.GetOrderStatus(ctx, id); err != nil {
		return false, err
	}

	return false, nil
}

// GetActiveOrders возвращает заказы в работе (PAID, PREPARING, READY)
// вместе с позициями и названиями продуктов для кухонной панели.
func (r *PostgresRepository) GetActiveOrders(ctx context.Context) ([]model.OrderWithItems, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.status, o.total_amount_in_cents, o.payment_provider_id, o.daily_order_number,
		        o.created_at, o.updated_at,
		        i.id, i.product_id, p.name, i.quantity, i.price_at_time_in_cents
		 FROM orders o
		 JOIN order_items i ON i.order_id = o.id
		 JOIN products p ON p.id = i.product_id
		 WHERE o.status IN ($1, $2, $3)
		 ORDER BY o.created_at DESC, i.created_at`,
		string(model.OrderStatusPaid),
		string(model.OrderStatusPreparing),
		string(model.OrderStatusReady),
	)
	if err != nil {
		return nil, fmt.Errorf("select active orders: %w", err)
	}
	defer rows.Close()

	var result []model.OrderWithItems
	index := make(map[uuid.UUID]int)

	for rows.Next() {
		var (
			o      model.Order
			status string
			item   model.OrderItem
		)
		err := rows.Scan(
			&o.ID, &status, &o.TotalAmountInCents, &o.PaymentProviderID, &o.DailyOrderNumber,
			&o.CreatedAt, &o.UpdatedAt,
			&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtTimeInCents,
		)
		if err != nil {
			return nil, fmt.Errorf("scan active order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		item.OrderID = o.ID

		pos, ok := index[o.ID]
		if !ok {
			pos = len(result)
			index[o.ID] = pos
			result = append(result, model.OrderWithItems{Order: o})
		}
		result[pos].Items = append(result[pos].Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}

// ProductSales описывает количество проданных единиц одного продукта.
type ProductSales struct {
	Name     string
	Quantity int64
}

// DailySales возвращает число оплаченных заказов с начала дня, выручку в грошах
// и продажи по продуктам в порядке убывания количества.
func (r *PostgresRepository) DailySales(ctx context.Context, dayStart time.Time) (int, int64, []ProductSales, error) {
	var orderCount int
	var revenue int64

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_amount_in_cents), 0)
		 FROM orders
		 WHERE created_at >= $1 AND status IN ($2, $3, $4, $5)`,
		dayStart,
		string(model.OrderStatusPaid),
		string(model.OrderStatusPreparing),
		string(model.OrderStatusReady),
		string(model.OrderStatusCompleted),
	).Scan(&orderCount, &revenue)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("sum daily orders: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT p.name, SUM(i.quantity)
		 FROM order_items i
		 JOIN products p ON p.id = i.product_id
		 JOIN orders o ON o.id = i.order_id
		 WHERE o.created_at >= $1 AND o.status IN ($2, $3, $4, $5)
		 GROUP BY p.name
		 ORDER BY SUM(i.quantity) DESC, p.name`,
		dayStart,
		string(model.OrderStatusPaid),
		string(model.OrderStatusPreparing),
		string(model.OrderStatusReady),
		string(model.OrderStatusCompleted),
	)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("select daily sales: %w", err)
	}
	defer rows.Close()

	var sales []ProductSales
	for rows.Next() {
		var s ProductSales
		if err := rows.Scan(&s.Name, &s.Quantity); err != nil {
			return 0, 0, nil, fmt.Errorf("scan daily sales: %w", err)
		}
		sales = append(sales, s)
	}

	if err := rows.Err(); err != nil {
		return 0, 0, nil, fmt.Errorf("rows error: %w", err)
	}

	return orderCount, revenue, sales, nil
}
