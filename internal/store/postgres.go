package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db, now: time.Now}, nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies embedded migrations that have not run yet, in name order.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id::text, doc, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		id      string
		doc     []byte
		created time.Time
		updated time.Time
		o       model.Order
	)
	if err := row.Scan(&id, &doc, &created, &updated); err != nil {
		return model.Order{}, err
	}
	if err := json.Unmarshal(doc, &o); err != nil {
		return model.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	o.ID = id
	o.CreatedAt = created
	o.UpdatedAt = updated
	return o, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

func (p *Postgres) GetOrderByOrderID(ctx context.Context, orderID string) (model.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return o, err
}

func (p *Postgres) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if strings.TrimSpace(o.OrderID) == "" {
		return model.Order{}, fmt.Errorf("create order: empty orderId")
	}
	o = o.Clone()
	o.ID = uuid.New().String()
	now := p.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	doc, err := json.Marshal(o)
	if err != nil {
		return model.Order{}, err
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO orders (id, order_id, shipping_order_id, status, doc, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (order_id) DO NOTHING`,
		o.ID, o.OrderID, nullIfEmpty(o.ShippingID()), o.Status, doc, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Order{}, fmt.Errorf("order %s: %w", o.OrderID, ErrOrderExists)
	}
	return o, nil
}

// UpdateOrder applies a patch under a row lock. RequireNoShippingOrder is
// checked against the locked row, so two writers cannot both attach an id.
func (p *Postgres) UpdateOrder(ctx context.Context, id string, patch model.OrderPatch) (model.Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Order{}, err
	}
	if patch.RequireNoShippingOrder && o.ShippingOrderID != nil {
		return o, fmt.Errorf("order %s already has shipping order %s: %w", o.OrderID, *o.ShippingOrderID, ErrConflict)
	}
	patch.Apply(&o, p.now().UTC())
	doc, err := json.Marshal(o)
	if err != nil {
		return model.Order{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET shipping_order_id=$2, status=$3, doc=$4, updated_at=$5 WHERE id=$1`,
		id, nullIfEmpty(o.ShippingID()), o.Status, doc, o.UpdatedAt); err != nil {
		return model.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, cursor string, limit int) ([]model.Order, string, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at, id LIMIT $1`, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
            WHERE (created_at, id) > (SELECT created_at, id FROM orders WHERE id=$1)
            ORDER BY created_at, id LIMIT $2`, cursor, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) QueryOrders(ctx context.Context, filters ...Filter) ([]model.Order, error) {
	where, args, err := whereClause(filters)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveList(ctx context.Context, kind, userID string, items []map[string]any) error {
	if !ValidListKind(kind) {
		return apperr.Invalid("unknown list kind %q", kind)
	}
	if items == nil {
		items = []map[string]any{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO user_lists (kind, user_id, items, updated_at) VALUES ($1,$2,$3,now())
        ON CONFLICT (kind, user_id) DO UPDATE SET items=EXCLUDED.items, updated_at=EXCLUDED.updated_at`, kind, userID, body)
	return err
}

// filterColumn maps a filter field to its SQL expression.
func filterColumn(field string) (string, bool) {
	switch field {
	case model.FieldOrderID:
		return "order_id", true
	case model.FieldShippingOrderID:
		return "shipping_order_id", true
	case model.FieldStatus:
		return "status", true
	case model.FieldWaybillCode, model.FieldCourierName, model.FieldTrackingURL,
		model.FieldShippingStatus, model.FieldShipmentStatus, model.FieldFailureReason, model.FieldSource:
		return "doc->>'" + field + "'", true
	}
	return "", false
}

// whereClause renders filters with the same null semantics as Filter.Match.
func whereClause(filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(filters))
	args := []any{}
	for _, f := range filters {
		col, ok := filterColumn(f.Field)
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter field %q", f.Field)
		}
		switch f.Op {
		case OpEq:
			args = append(args, f.Value)
			parts = append(parts, fmt.Sprintf("%s = $%d", col, len(args)))
		case OpNotNull:
			parts = append(parts, fmt.Sprintf("COALESCE(%s, '') <> ''", col))
		case OpIsNull:
			parts = append(parts, fmt.Sprintf("COALESCE(%s, '') = ''", col))
		default:
			return "", nil, fmt.Errorf("unsupported filter op %d", f.Op)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
