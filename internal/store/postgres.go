package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoken/service-manager/pkg/models"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const orderColumns = `id, customer_id, product_id, type, status, description,
	scheduled_date, completed_date, created_at, updated_at`

type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// OpenPostgres connects and waits for the database to accept connections.
func OpenPostgres(ctx context.Context, dsn string, attempts int, logger *logrus.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return db, nil
		}
		logger.WithField("attempt", i+1).Info("Waiting for database...")

		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	db.Close()
	return nil, fmt.Errorf("database not reachable after %d attempts: %w", attempts, err)
}

// schema is applied in order on start-up. Prices are stored unscaled so
// the sub-table holds exactly the float the description carries.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS service_orders (
		id VARCHAR(255) PRIMARY KEY,
		customer_id VARCHAR(255) NOT NULL,
		product_id VARCHAR(255),
		type VARCHAR(50) NOT NULL,
		status VARCHAR(50) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		scheduled_date TIMESTAMP,
		completed_date TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS service_order_items (
		order_id VARCHAR(255) NOT NULL REFERENCES service_orders(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		item_id VARCHAR(255) NOT NULL,
		code VARCHAR(100) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		product_id VARCHAR(255),
		PRIMARY KEY (order_id, position)
	)`,
	// tables created before prices were unscaled
	`ALTER TABLE service_order_items ALTER COLUMN price TYPE DOUBLE PRECISION`,
	`CREATE INDEX IF NOT EXISTS idx_service_orders_customer_id ON service_orders(customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_service_orders_status ON service_orders(status)`,
}

func (s *PostgresStore) CreateTables(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, order *models.ServiceOrder) error {
	query := `
		INSERT INTO service_orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.CustomerID, nullString(order.ProductID), order.Type, order.Status,
		order.Description, nullTime(order.ScheduledDate), nullTime(order.CompletedDate),
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert service order: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ServiceOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM service_orders WHERE id = $1`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service order: %w", err)
	}
	return order, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.ServiceOrder, error) {
	var conditions []string
	var args []interface{}

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, filter.Search)
		conditions = append(conditions, fmt.Sprintf("description ILIKE '%%' || $%d || '%%'", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM service_orders`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list service orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.ServiceOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) UpdateDescription(ctx context.Context, id, description string) (*models.ServiceOrder, error) {
	query := `
		UPDATE service_orders SET description = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + orderColumns
	return s.updateReturning(ctx, query, id, description, time.Now())
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string) (*models.ServiceOrder, error) {
	now := time.Now()
	query := `
		UPDATE service_orders SET status = $2, updated_at = $3,
			completed_date = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_date END
		WHERE id = $1
		RETURNING ` + orderColumns
	return s.updateReturning(ctx, query, id, status, now)
}

func (s *PostgresStore) updateReturning(ctx context.Context, query string, args ...interface{}) (*models.ServiceOrder, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update service order: %w", err)
	}
	return order, nil
}

func (s *PostgresStore) ReplaceItems(ctx context.Context, orderID string, items []models.ServiceItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM service_orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check service order: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM service_order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("failed to clear service order items: %w", err)
	}

	itemQuery := `
		INSERT INTO service_order_items (order_id, position, item_id, code, name, description, quantity, price, product_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for position, item := range items {
		_, err := tx.ExecContext(ctx, itemQuery, orderID, position, item.ID, item.Code, item.Name,
			item.Description, item.Quantity, item.Price, nullString(item.ProductID))
		if err != nil {
			return fmt.Errorf("failed to insert service order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":    orderID,
		"items_count": len(items),
	}).Debug("Service order items replaced")
	return nil
}

func (s *PostgresStore) ListItems(ctx context.Context, orderID string) ([]models.ServiceItem, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}

	query := `
		SELECT item_id, code, name, description, quantity, price, product_id
		FROM service_order_items WHERE order_id = $1 ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list service order items: %w", err)
	}
	defer rows.Close()

	items := []models.ServiceItem{}
	for rows.Next() {
		var item models.ServiceItem
		var productID sql.NullString
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.Description,
			&item.Quantity, &item.Price, &productID); err != nil {
			return nil, fmt.Errorf("failed to scan service order item: %w", err)
		}
		item.ProductID = productID.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.ServiceOrder, error) {
	order := &models.ServiceOrder{}
	var productID sql.NullString
	var scheduled, completed sql.NullTime

	err := row.Scan(&order.ID, &order.CustomerID, &productID, &order.Type, &order.Status,
		&order.Description, &scheduled, &completed, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.ProductID = productID.String
	if scheduled.Valid {
		order.ScheduledDate = &scheduled.Time
	}
	if completed.Valid {
		order.CompletedDate = &completed.Time
	}
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
