package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"bruinhooks/internal/config"
	"bruinhooks/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	subsTable = "webhook_subscriptions"
	logsTable = "webhook_delivery_logs"
)

var subColumns = []string{"id::text", "url", "secret", "event_types", "is_active", "created_at", "last_triggered_at", "failure_count"}

var logColumns = []string{"id::text", "webhook_id::text", "event_type", "success", "status_code", "ts", "payload", "response_body", "error_message", "attempt", "duration_ms"}

type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newPostgresWithDB(db), nil
}

func newPostgresWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Migrate applies the embedded goose migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, p.db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) CreateSubscription(ctx context.Context, in model.SubscriptionInput) (model.Subscription, error) {
	if err := in.Validate(); err != nil {
		return model.Subscription{}, err
	}
	ev, err := json.Marshal(in.EventTypes)
	if err != nil {
		return model.Subscription{}, err
	}
	s := model.Subscription{
		ID:         uuid.New().String(),
		URL:        in.URL,
		Secret:     in.Secret,
		EventTypes: in.EventTypes,
		IsActive:   true,
		CreatedAt:  p.now().UTC(),
	}
	q, args, err := psql.Insert(subsTable).
		Columns("id", "url", "secret", "event_types", "is_active", "failure_count", "created_at").
		Values(s.ID, s.URL, s.Secret, string(ev), true, 0, s.CreatedAt).
		ToSql()
	if err != nil {
		return model.Subscription{}, err
	}
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return model.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	q, args, err := psql.Select(subColumns...).From(subsTable).OrderBy("seq").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	q, args, err := psql.Select(subColumns...).From(subsTable).Where(sq.Eq{"id::text": id}).ToSql()
	if err != nil {
		return model.Subscription{}, err
	}
	s, err := scanSubscription(p.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) SetSubscriptionActive(ctx context.Context, id string, active bool) (model.Subscription, error) {
	q, args, err := psql.Update(subsTable).
		Set("is_active", active).
		Where(sq.Eq{"id::text": id}).
		Suffix("RETURNING " + strings.Join(subColumns, ", ")).
		ToSql()
	if err != nil {
		return model.Subscription{}, err
	}
	s, err := scanSubscription(p.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	q, args, err := psql.Delete(subsTable).Where(sq.Eq{"id::text": id}).ToSql()
	if err != nil {
		return err
	}
	return p.execOne(ctx, q, args...)
}

// RecordAttempt updates the counter in a single statement so concurrent attempts for the
// same subscription are serialized by the row lock.
func (p *Postgres) RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error {
	q, args, err := psql.Update(subsTable).
		Set("last_triggered_at", at.UTC()).
		Set("failure_count", sq.Expr("CASE WHEN ? THEN 0 ELSE failure_count + 1 END", success)).
		Where(sq.Eq{"id::text": id}).
		ToSql()
	if err != nil {
		return err
	}
	return p.execOne(ctx, q, args...)
}

func (p *Postgres) execOne(ctx context.Context, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delivery logs

func (p *Postgres) AppendDeliveryLog(ctx context.Context, e model.DeliveryLog) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	q, args, err := psql.Insert(logsTable).
		Columns("id", "webhook_id", "event_type", "success", "status_code", "ts", "payload", "response_body", "error_message", "attempt", "duration_ms").
		Values(e.ID, e.WebhookID, e.EventType, e.Success, nullInt(e.StatusCode), e.Timestamp.UTC(), string(payload), nullString(e.ResponseBody), nullString(e.ErrorMessage), e.Attempt, e.DurationMs).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

func (p *Postgres) ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error) {
	q, args, err := psql.Select(logColumns...).
		From(logsTable).
		Where(sq.Eq{"webhook_id::text": webhookID}).
		OrderBy("ts DESC", "seq DESC").
		Limit(uint64(clampLimit(limit))).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()
	out := []model.DeliveryLog{}
	for rows.Next() {
		var (
			e       model.DeliveryLog
			code    sql.NullInt64
			body    sql.NullString
			errMsg  sql.NullString
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.WebhookID, &e.EventType, &e.Success, &code, &e.Timestamp, &payload, &body, &errMsg, &e.Attempt, &e.DurationMs); err != nil {
			return nil, err
		}
		if code.Valid {
			c := int(code.Int64)
			e.StatusCode = &c
		}
		if body.Valid {
			e.ResponseBody = &body.String
		}
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) PruneDeliveryLogs(ctx context.Context, before time.Time) (int64, error) {
	q, args, err := psql.Delete(logsTable).Where(sq.Lt{"ts": before.UTC()}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("prune delivery logs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (model.Subscription, error) {
	var (
		s    model.Subscription
		ev   []byte
		last sql.NullTime
	)
	if err := r.Scan(&s.ID, &s.URL, &s.Secret, &ev, &s.IsActive, &s.CreatedAt, &last, &s.FailureCount); err != nil {
		return model.Subscription{}, err
	}
	if len(ev) > 0 {
		if err := json.Unmarshal(ev, &s.EventTypes); err != nil {
			return model.Subscription{}, fmt.Errorf("decode event_types: %w", err)
		}
	}
	if s.EventTypes == nil {
		s.EventTypes = []string{}
	}
	if last.Valid {
		t := last.Time
		s.LastTriggeredAt = &t
	}
	return s, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
