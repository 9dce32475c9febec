package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/identity"
	"prompos/terminal/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// EnsureSchema applies the embedded schema; every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetCounter(ctx context.Context, shopID string) (*domain.ShopCounter, error) {
	var counter domain.ShopCounter
	err := t.tx.QueryRowContext(ctx, `
		SELECT shop_id, shop_name, last_invoice_number, updated_at
		FROM shop_counters
		WHERE shop_id = $1
		FOR UPDATE
	`, shopID).Scan(&counter.ShopID, &counter.ShopName, &counter.LastSequence, &counter.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &counter, nil
}

func (t *pgTx) SetCounter(ctx context.Context, counter domain.ShopCounter) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO shop_counters (shop_id, shop_name, last_invoice_number, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (shop_id)
		DO UPDATE SET shop_name = EXCLUDED.shop_name,
			last_invoice_number = EXCLUDED.last_invoice_number,
			updated_at = EXCLUDED.updated_at
	`, counter.ShopID, counter.ShopName, counter.LastSequence, counter.UpdatedAt)
	return err
}

// RunTransaction runs fn in one SERIALIZABLE transaction. A serialization
// failure surfaces as store.ErrConflict; nothing is retried.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) DailyAggregateExists(ctx context.Context, shopID string, date string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM daily_aggregates WHERE shop_id = $1 AND order_date = $2
		)
	`, shopID, date).Scan(&exists)
	return exists, err
}

func (s *Store) CreateDailyAggregate(ctx context.Context, agg domain.DailyAggregate) error {
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_aggregates (shop_id, order_date, total_order, grand_total, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (shop_id, order_date) DO NOTHING
	`, agg.ShopID, agg.Date, agg.TotalOrder, agg.GrandTotal, agg.CreatedAt)
	return err
}

func (s *Store) IncrementDailyAggregate(ctx context.Context, shopID string, date string, orders int64, revenue decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_aggregates (shop_id, order_date, total_order, grand_total, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (shop_id, order_date)
		DO UPDATE SET total_order = daily_aggregates.total_order + EXCLUDED.total_order,
			grand_total = daily_aggregates.grand_total + EXCLUDED.grand_total
	`, shopID, date, orders, revenue)
	return err
}

func (s *Store) GetDailyAggregate(ctx context.Context, shopID string, date string) (*domain.DailyAggregate, error) {
	agg := domain.DailyAggregate{ShopID: shopID, Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_order, grand_total, created_at
		FROM daily_aggregates
		WHERE shop_id = $1 AND order_date = $2
	`, shopID, date).Scan(&agg.TotalOrder, &agg.GrandTotal, &agg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &agg, nil
}

func (s *Store) PutOrder(ctx context.Context, order domain.Order) error {
	if err := store.ValidateOrder(order); err != nil {
		return err
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shop_orders (shop_id, order_date, order_id, local_id, total_with_tax, document, written_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (shop_id, order_date, order_id)
		DO UPDATE SET document = EXCLUDED.document, written_at = now()
	`, order.ShopID, order.OrderDate, order.OrderID, order.LocalID, order.TotalWithTax, doc)
	return err
}

func (s *Store) ListOrders(ctx context.Context, shopID string, date string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document
		FROM shop_orders
		WHERE shop_id = $1 AND order_date = $2
		ORDER BY order_id ASC
	`, shopID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o domain.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode order document: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// Ping reads one health_check row, like a client probing the database.
func (s *Store) Ping(ctx context.Context) error {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM health_check LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	var user identity.User
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, email, display_name, password_hash
		FROM app_users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&user.UID, &user.Email, &user.DisplayName, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrUnknownUser
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts an account; an existing email is left unchanged.
func (s *Store) CreateUser(ctx context.Context, user identity.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.UID == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return fmt.Errorf("email, uid and password hash are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (email, uid, display_name, password_hash, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, user.Email, user.UID, user.DisplayName, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
