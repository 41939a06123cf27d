package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/clob-engine/internal/model"
)

// SchemaVersion is the one schema this build reads and writes.
const SchemaVersion = 1

// ErrSchemaVersion is returned when the database was created by a
// different schema version.
var ErrSchemaVersion = errors.New("store: schema version mismatch")

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Prices, sizes and profits are BIGINT sub-units.
type PostgresStore struct {
	pool *pgxpool.Pool // nil inside a transaction
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// EnsureSchema applies the embedded schema and pins its version. A
// database stamped with any other version is refused.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	err := pool.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = pool.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, SchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != SchemaVersion:
		return fmt.Errorf("%w: database at %d, engine expects %d", ErrSchemaVersion, version, SchemaVersion)
	}
	return nil
}

// InTx runs fn inside a single database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// LockOutcome takes a transaction-scoped advisory lock on the outcome so
// concurrent engine instances serialize their matching passes.
func (s *PostgresStore) LockOutcome(ctx context.Context, outcomeID string) error {
	if s.pool != nil {
		return errors.New("store: LockOutcome requires a transaction")
	}
	_, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, outcomeID)
	return err
}

// --- Outcomes ---

func (s *PostgresStore) CreateOutcome(ctx context.Context, o *model.Outcome) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO outcomes (id, ticker, market, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.Ticker, o.Market, o.Status, o.CreatedAt,
	)
	return mapErr(err, "outcome "+o.Ticker)
}

func (s *PostgresStore) GetOutcome(ctx context.Context, id string) (*model.Outcome, error) {
	var o model.Outcome
	err := s.q.QueryRow(ctx,
		`SELECT id, ticker, market, status, created_at FROM outcomes WHERE id = $1`, id).
		Scan(&o.ID, &o.Ticker, &o.Market, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "outcome "+id)
	}
	return &o, nil
}

func (s *PostgresStore) ListOutcomes(ctx context.Context) ([]model.Outcome, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, ticker, market, status, created_at FROM outcomes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o.ID, &o.Ticker, &o.Market, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// --- Orders ---

const orderColumns = `id, outcome_id, user_id, side, price, original, remaining, status, created_at, updated_at`

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	side, err := sideColumn(o.Side)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.OutcomeID, o.Owner.Ptr(), side,
		o.Price, o.Original, o.Remaining, string(o.Status),
		o.CreatedAt, o.UpdatedAt,
	)
	return mapErr(err, "order "+o.ID)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapErr(err, "order "+id)
	}
	return o, nil
}

func (s *PostgresStore) UpdateOrderState(ctx context.Context, id string, remaining int64, status model.Status, at time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE orders SET remaining = $2, status = $3, updated_at = $4 WHERE id = $1`,
		id, remaining, string(status), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListBook(ctx context.Context, outcomeID string, side model.Side, exclude *string) ([]model.Order, error) {
	col, err := sideColumn(side)
	if err != nil {
		return nil, err
	}
	dir := "DESC"
	if side == model.Sell {
		dir = "ASC"
	}

	rows, err := s.q.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE outcome_id = $1 AND side = $2
		   AND status IN ('open', 'partial') AND remaining > 0
		   AND ($3::TEXT IS NULL OR user_id IS DISTINCT FROM $3::TEXT)
		 ORDER BY price `+dir+`, created_at ASC, id ASC
		 FOR UPDATE`,
		outcomeID, col, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) ListUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 AND status IN ('open', 'partial')
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// --- Positions ---

const positionColumns = `outcome_id, user_id, net, basis, closed, settled, residual, updated_at`

func (s *PostgresStore) GetPosition(ctx context.Context, outcomeID string, owner model.Owner) (*model.Position, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE outcome_id = $1 AND owner_key = $2`,
		outcomeID, ownerKey(owner))
	p, err := scanPosition(row)
	if err != nil {
		return nil, mapErr(err, "position "+outcomeID+"/"+owner.String())
	}
	return p, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO positions (outcome_id, user_id, owner_key, net, basis, closed, settled, residual, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (outcome_id, owner_key) DO UPDATE SET
		     net = EXCLUDED.net,
		     basis = EXCLUDED.basis,
		     closed = EXCLUDED.closed,
		     settled = EXCLUDED.settled,
		     residual = EXCLUDED.residual,
		     updated_at = EXCLUDED.updated_at`,
		p.OutcomeID, p.Owner.Ptr(), ownerKey(p.Owner),
		p.Net, p.Basis, p.Closed, p.Settled, p.Residual, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListPositions(ctx context.Context, outcomeID string) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE outcome_id = $1 ORDER BY owner_key`, outcomeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY outcome_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// --- Trades ---

const tradeColumns = `id, outcome_id, taker_order_id, maker_order_id, taker_user_id, maker_user_id,
	taker_side, price, quantity,
	taker_risk_off_qty, taker_risk_off_pnl, maker_risk_off_qty, maker_risk_off_pnl, created_at`

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	side, err := sideColumn(t.TakerSide)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO trades (`+tradeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.OutcomeID, t.TakerOrderID, t.MakerOrderID, t.Taker.Ptr(), t.Maker.Ptr(),
		side, t.Price, t.Quantity,
		t.TakerRiskOffQty, t.TakerRiskOffPnL, t.MakerRiskOffQty, t.MakerRiskOffPnL,
		t.CreatedAt,
	)
	return mapErr(err, "trade "+t.ID)
}

func (s *PostgresStore) ListTrades(ctx context.Context, outcomeID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE outcome_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`, outcomeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListOrderTrades(ctx context.Context, orderID string) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE taker_order_id = $1 OR maker_order_id = $1
		 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// --- Scanning helpers ---

func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var userID *string
	var side, status string

	if err := row.Scan(&o.ID, &o.OutcomeID, &userID, &side,
		&o.Price, &o.Original, &o.Remaining, &status,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	o.Owner = model.OwnerFromPtr(userID)
	if o.Side, err = sideFromColumn(side); err != nil {
		return nil, err
	}
	if o.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var userID *string
	if err := row.Scan(&p.OutcomeID, &userID, &p.Net, &p.Basis,
		&p.Closed, &p.Settled, &p.Residual, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Owner = model.OwnerFromPtr(userID)
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var taker, maker *string
		var side string

		if err := rows.Scan(&t.ID, &t.OutcomeID, &t.TakerOrderID, &t.MakerOrderID,
			&taker, &maker, &side, &t.Price, &t.Quantity,
			&t.TakerRiskOffQty, &t.TakerRiskOffPnL, &t.MakerRiskOffQty, &t.MakerRiskOffPnL,
			&t.CreatedAt); err != nil {
			return nil, err
		}

		var err error
		t.Taker = model.OwnerFromPtr(taker)
		t.Maker = model.OwnerFromPtr(maker)
		if t.TakerSide, err = sideFromColumn(side); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
