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
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ordermart-system/internal/model"
	"github.com/mmeshcher/ordermart-system/internal/pricing"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrItemExists возвращается при попытке создать товар с уже существующим именем.
var (
	ErrItemExists = errors.New("item already exists")
	// ErrItemNotFound возвращается, если товар не найден.
	ErrItemNotFound = errors.New("item not found")
	// ErrInvalidItem возвращается, если строка заказа ссылается на отсутствующий или неактивный товар.
	ErrInvalidItem = errors.New("invalid item in order")
	// ErrInsufficientStock возвращается, если остаток товара меньше запрошенного количества.
	ErrInsufficientStock = errors.New("insufficient stock for item")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict возвращается, если статус заказа изменился параллельным запросом.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// CustomerInput содержит данные покупателя из запроса на размещение заказа.
type CustomerInput struct {
	Name    string
	Email   string
	Address *string
	Phone   *string
}

// LineInput описывает одну запрошенную строку заказа.
type LineInput struct {
	ItemID   int64
	Quantity int
}

// ItemUpdate содержит частичное обновление товара: nil-поля не изменяются.
type ItemUpdate struct {
	Name            *string
	Description     *string
	Price           *decimal.Decimal
	DiscountPercent *decimal.Decimal
	ImageURL        *string
	StockQuantity   *int
	IsActive        *bool
}

// PlacementResult описывает результат успешного размещения заказа.
type PlacementResult struct {
	OrderID int64
	// DepletedItems содержит имена товаров, остаток которых стал равен нулю.
	DepletedItems []string
}

// lockedItem содержит поля строки товара, захваченной FOR UPDATE на время размещения.
type lockedItem struct {
	Name            string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	Stock           int
	IsActive        bool
}

// linePricing — решение по одной строке заказа: эффективная цена единицы,
// стоимость строки и признак обнуления остатка после списания.
type linePricing struct {
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Depleted  bool
}

// priceLine валидирует захваченный товар против запрошенного количества
// и считает эффективную цену строки. Чистая функция: работа с БД остаётся
// в placeOrderTx.
func priceLine(it lockedItem, quantity int) (linePricing, error) {
	if !it.IsActive {
		return linePricing{}, fmt.Errorf("%w: %s", ErrInvalidItem, it.Name)
	}
	if it.Stock < quantity {
		return linePricing{}, fmt.Errorf("%w: %s", ErrInsufficientStock, it.Name)
	}

	unitPrice := pricing.EffectiveUnitPrice(it.Price, it.DiscountPercent)
	return linePricing{
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		Depleted:  it.Stock-quantity == 0,
	}, nil
}

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

	// Регистрируем кодек numeric <-> decimal.Decimal для денежных колонок.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
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

// CreateItem создаёт новый товар каталога и возвращает его идентификатор.
func (r *PostgresRepository) CreateItem(ctx context.Context, item model.Item) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO items (name, description, price, discount_percent, image_url, stock_quantity, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		item.Name, item.Description, item.Price, item.DiscountPercent,
		item.ImageURL, item.StockQuantity, item.IsActive,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrItemExists, item.Name)
		}
		return 0, fmt.Errorf("create item: %w", err)
	}
	return id, nil
}

// GetItem возвращает товар по идентификатору.
func (r *PostgresRepository) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, description, price, discount_percent, image_url,
		        stock_quantity, is_active, created_at, updated_at
		 FROM items WHERE id = $1`,
		id,
	)

	var it model.Item
	err := row.Scan(&it.ID, &it.Name, &it.Description, &it.Price, &it.DiscountPercent,
		&it.ImageURL, &it.StockQuantity, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}

	return &it, nil
}

// ListItems возвращает все товары каталога, отсортированные по имени.
func (r *PostgresRepository) ListItems(ctx context.Context) ([]model.Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, price, discount_percent, image_url,
		        stock_quantity, is_active, created_at, updated_at
		 FROM items
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.Price, &it.DiscountPercent,
			&it.ImageURL, &it.StockQuantity, &it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// UpdateItem выполняет частичное обновление товара. Nil-поля не затрагиваются.
func (r *PostgresRepository) UpdateItem(ctx context.Context, id int64, upd ItemUpdate) (*model.Item, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE items SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			price = COALESCE($4, price),
			discount_percent = COALESCE($5, discount_percent),
			image_url = COALESCE($6, image_url),
			stock_quantity = COALESCE($7, stock_quantity),
			is_active = COALESCE($8, is_active),
			updated_at = now()
		 WHERE id = $1`,
		id, upd.Name, upd.Description, upd.Price, upd.DiscountPercent,
		upd.ImageURL, upd.StockQuantity, upd.IsActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrItemExists, *upd.Name)
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrItemNotFound
	}

	return r.GetItem(ctx, id)
}

// PlaceOrder атомарно размещает заказ: апсерт покупателя по email, создание заказа,
// обработка строк с немедленным списанием остатков и фиксацией эффективной цены.
// Любая ошибка валидации откатывает все изменения.
func (r *PostgresRepository) PlaceOrder(ctx context.Context, customer CustomerInput, lines []LineInput) (*PlacementResult, error) {
	var res *PlacementResult
	err := r.withRetry(ctx, func() error {
		var txErr error
		res, txErr = r.placeOrderTx(ctx, customer, lines)
		return txErr
	})
	return res, err
}

func (r *PostgresRepository) placeOrderTx(ctx context.Context, customer CustomerInput, lines []LineInput) (*PlacementResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var customerID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO customers (name, email, address, phone)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE
		 SET name = EXCLUDED.name, address = EXCLUDED.address, phone = EXCLUDED.phone
		 RETURNING id`,
		customer.Name, customer.Email, customer.Address, customer.Phone,
	).Scan(&customerID)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (customer_id, status, total_amount)
		 VALUES ($1, $2, 0)
		 RETURNING id`,
		customerID, string(model.OrderStatusPlaced),
	).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	total := decimal.Zero
	var depleted []string

	for _, line := range lines {
		var it lockedItem

		// Блокируем строку товара: параллельные заказы на тот же товар
		// сериализуются, а повторная строка того же товара внутри заказа
		// видит уже уменьшенный остаток.
		err = tx.QueryRow(ctx,
			`SELECT name, price, discount_percent, stock_quantity, is_active
			 FROM items WHERE id = $1
			 FOR UPDATE`,
			line.ItemID,
		).Scan(&it.Name, &it.Price, &it.DiscountPercent, &it.Stock, &it.IsActive)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: id %d", ErrInvalidItem, line.ItemID)
			}
			return nil, fmt.Errorf("select item for update: %w", err)
		}

		lp, err := priceLine(it, line.Quantity)
		if err != nil {
			return nil, err
		}

		total = total.Add(lp.Subtotal)

		_, err = tx.Exec(ctx,
			`UPDATE items SET stock_quantity = stock_quantity - $2, updated_at = now() WHERE id = $1`,
			line.ItemID, line.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}

		if lp.Depleted {
			depleted = append(depleted, it.Name)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO order_lines (order_id, item_id, quantity, price_at_purchase)
			 VALUES ($1, $2, $3, $4)`,
			orderID, line.ItemID, line.Quantity, lp.UnitPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("insert order line: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET total_amount = $2 WHERE id = $1`,
		orderID, pricing.Round2(total),
	)
	if err != nil {
		return nil, fmt.Errorf("set order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &PlacementResult{OrderID: orderID, DepletedItems: depleted}, nil
}

// GetOrderDetails возвращает заказ вместе с покупателем и строками заказа.
func (r *PostgresRepository) GetOrderDetails(ctx context.Context, id int64) (*model.OrderDetails, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT o.id, o.customer_id, o.status, o.total_amount, o.tracking_id, o.tracking_url,
		        o.expected_delivery_date, o.created_at, o.updated_at,
		        c.id, c.name, c.email, c.address, c.phone, c.created_at
		 FROM orders o
		 JOIN customers c ON c.id = o.customer_id
		 WHERE o.id = $1`,
		id,
	)

	var d model.OrderDetails
	var status string
	err := row.Scan(&d.Order.ID, &d.Order.CustomerID, &status, &d.Order.TotalAmount,
		&d.Order.TrackingID, &d.Order.TrackingURL, &d.Order.ExpectedDeliveryDate,
		&d.Order.CreatedAt, &d.Order.UpdatedAt,
		&d.Customer.ID, &d.Customer.Name, &d.Customer.Email, &d.Customer.Address,
		&d.Customer.Phone, &d.Customer.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	d.Order.Status = model.OrderStatus(status)

	lines, err := r.orderLines(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	d.Lines = lines[id]

	return &d, nil
}

// ListOrders возвращает все заказы с покупателями и строками, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.OrderDetails, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.customer_id, o.status, o.total_amount, o.tracking_id, o.tracking_url,
		        o.expected_delivery_date, o.created_at, o.updated_at,
		        c.id, c.name, c.email, c.address, c.phone, c.created_at
		 FROM orders o
		 JOIN customers c ON c.id = o.customer_id
		 ORDER BY o.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.OrderDetails
	var ids []int64
	for rows.Next() {
		var d model.OrderDetails
		var status string
		if err := rows.Scan(&d.Order.ID, &d.Order.CustomerID, &status, &d.Order.TotalAmount,
			&d.Order.TrackingID, &d.Order.TrackingURL, &d.Order.ExpectedDeliveryDate,
			&d.Order.CreatedAt, &d.Order.UpdatedAt,
			&d.Customer.ID, &d.Customer.Name, &d.Customer.Email, &d.Customer.Address,
			&d.Customer.Phone, &d.Customer.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		d.Order.Status = model.OrderStatus(status)
		res = append(res, d)
		ids = append(ids, d.Order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(ids) == 0 {
		return res, nil
	}

	lines, err := r.orderLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Lines = lines[res[i].Order.ID]
	}

	return res, nil
}

func (r *PostgresRepository) orderLines(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.order_id, l.item_id, i.name, l.quantity, l.price_at_purchase
		 FROM order_lines l
		 JOIN items i ON i.id = l.item_id
		 WHERE l.order_id = ANY($1)
		 ORDER BY l.id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	res := make(map[int64][]model.OrderLine)
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.ItemName, &l.Quantity, &l.PriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		res[l.OrderID] = append(res[l.OrderID], l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus переводит заказ из статуса from в статус to.
// Условие WHERE по текущему статусу защищает от гонки параллельных переходов.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, string(to), string(from),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

// UpdateFulfillment сохраняет производные атрибуты заказа после размещения.
// Nil-поля не затрагиваются, так что сбой одного шага деривации не блокирует остальные.
func (r *PostgresRepository) UpdateFulfillment(ctx context.Context, id int64, trackingID *string, trackingURL *string, expectedDelivery *time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET
			tracking_id = COALESCE($2, tracking_id),
			tracking_url = COALESCE($3, tracking_url),
			expected_delivery_date = COALESCE($4, expected_delivery_date),
			updated_at = now()
		 WHERE id = $1`,
		id, trackingID, trackingURL, expectedDelivery,
	)
	if err != nil {
		return fmt.Errorf("update fulfillment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// RevenueBetween возвращает сумму total_amount заказов с created_at в [start, end),
// исключая отменённые. Пустой интервал даёт ноль, а не ошибку.
func (r *PostgresRepository) RevenueBetween(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	var revenue decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_amount), 0)
		 FROM orders
		 WHERE created_at >= $1 AND created_at < $2 AND status <> $3`,
		start, end, string(model.OrderStatusCancelled),
	).Scan(&revenue)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum revenue: %w", err)
	}
	return revenue, nil
}
