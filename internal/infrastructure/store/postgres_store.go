package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const lotColumns = `id, product, unit, quantity_total, quantity_available, expires_at,
	permanence_days, price, owner_id, freshness, version, created_at, updated_at`

const reservationColumns = `id, lot_id, actor_id, actor_email, quantity, note, status, version, created_at, updated_at`

// PostgresStore stores lots and reservations in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (lot.Lot, error) {
	var l lot.Lot
	var unit string
	var state int
	err := row.Scan(&l.ID, &l.Product, &unit, &l.QuantityTotal, &l.QuantityAvailable, &l.ExpiresAt,
		&l.PermanenceDays, &l.Price, &l.OwnerID, &state, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return lot.Lot{}, err
	}
	l.Unit = lot.Unit(unit)
	l.Freshness = freshness.State(state)
	return l, nil
}

func scanReservation(row rowScanner) (reservation.Reservation, error) {
	var r reservation.Reservation
	var status string
	err := row.Scan(&r.ID, &r.LotID, &r.ActorID, &r.ActorEmail, &r.Quantity, &r.Note, &status, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return reservation.Reservation{}, err
	}
	r.Status = reservation.Status(status)
	return r, nil
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (s *PostgresStore) CreateLot(ctx context.Context, l lot.Lot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lots (`+lotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.Product, string(l.Unit), l.QuantityTotal, l.QuantityAvailable, l.ExpiresAt,
		l.PermanenceDays, l.Price, l.OwnerID, int(l.Freshness), l.Version, l.CreatedAt, l.UpdatedAt,
	)
	if pgCode(err) == pgUniqueViolation {
		return ErrStaleWrite
	}
	if err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLot(ctx context.Context, id string) (lot.Lot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id)
	l, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.Lot{}, lot.ErrLotNotFound
	}
	if err != nil {
		return lot.Lot{}, fmt.Errorf("get lot: %w", err)
	}
	return l, nil
}

// freshnessSQL mirrors freshness.Classify for a timestamp bound to the given placeholder,
// taking the stored state as a floor.
func freshnessSQL(nowArg string) string {
	grace := fmt.Sprintf("INTERVAL '%d seconds'", int(freshness.RedGrace.Seconds()))
	return fmt.Sprintf(`GREATEST(freshness, CASE
		WHEN %[1]s < expires_at - permanence_days * INTERVAL '1 day' THEN %[2]d
		WHEN %[1]s < expires_at THEN %[3]d
		WHEN %[1]s < expires_at + %[4]s THEN %[5]d
		ELSE %[6]d END)`,
		nowArg, int(freshness.Green), int(freshness.Yellow), grace, int(freshness.Red), int(freshness.Expired))
}

// ListLots returns matching lots, newest first
func (s *PostgresStore) ListLots(ctx context.Context, f lot.Filter) ([]lot.Lot, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OwnerID != "" {
		where = append(where, "owner_id = "+arg(f.OwnerID))
	}
	if f.Product != "" {
		where = append(where, "product ILIKE '%' || "+arg(f.Product)+" || '%'")
	}
	if f.Freshness != nil {
		now := f.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		where = append(where, freshnessSQL(arg(now))+" = "+arg(int(*f.Freshness)))
	}

	query := `SELECT ` + lotColumns + ` FROM lots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	lots := make([]lot.Lot, 0)
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (s *PostgresStore) SetFreshness(ctx context.Context, lotID string, state freshness.State, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lots SET freshness = $2, updated_at = $3 WHERE id = $1 AND freshness < $2`,
		lotID, int(state), at,
	)
	if err != nil {
		return fmt.Errorf("set freshness: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.lotExists(ctx, s.db, lotID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) lotExists(ctx context.Context, q querier, lotID string) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM lots WHERE id = $1)`, lotID).Scan(&exists); err != nil {
		return fmt.Errorf("check lot: %w", err)
	}
	if !exists {
		return lot.ErrLotNotFound
	}
	return nil
}

func (s *PostgresStore) GetReservation(ctx context.Context, id string) (reservation.Reservation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Reservation{}, reservation.ErrReservationNotFound
	}
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// ListReservations returns matching reservations, newest first
func (s *PostgresStore) ListReservations(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ActorID != "" {
		where = append(where, "actor_id = "+arg(f.ActorID))
	}
	if f.LotID != "" {
		where = append(where, "lot_id = "+arg(f.LotID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := make([]reservation.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(ctx, &postgresTx{s: s, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	s  *PostgresStore
	tx *sql.Tx
}

func (t *postgresTx) AdjustAvailable(ctx context.Context, lotID string, delta, expected decimal.Decimal) (lot.Lot, error) {
	row := t.tx.QueryRowContext(ctx,
		`UPDATE lots
		 SET quantity_available = quantity_available + $2, version = version + 1, updated_at = $4
		 WHERE id = $1 AND quantity_available = $3
		   AND quantity_available + $2 >= 0 AND quantity_available + $2 <= quantity_total
		 RETURNING `+lotColumns,
		lotID, delta, expected, time.Now().UTC(),
	)
	l, err := scanLot(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return lot.Lot{}, fmt.Errorf("adjust available: %w", err)
	}

	var available decimal.Decimal
	err = t.tx.QueryRowContext(ctx, `SELECT quantity_available FROM lots WHERE id = $1`, lotID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.Lot{}, lot.ErrLotNotFound
	}
	if err != nil {
		return lot.Lot{}, fmt.Errorf("read available: %w", err)
	}
	if !available.Equal(expected) {
		return lot.Lot{}, ErrStaleWrite
	}
	return lot.Lot{}, ErrOutOfBounds
}

func (t *postgresTx) SaveReservation(ctx context.Context, r reservation.Reservation, expectedVersion int) error {
	if expectedVersion == 0 {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO reservations (`+reservationColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.LotID, r.ActorID, r.ActorEmail, r.Quantity, r.Note, string(r.Status), r.Version, r.CreatedAt, r.UpdatedAt,
		)
		switch pgCode(err) {
		case pgUniqueViolation:
			return ErrStaleWrite
		case pgForeignKeyViolation:
			return lot.ErrLotNotFound
		}
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations
		 SET quantity = $2, note = $3, status = $4, version = $5, updated_at = $6
		 WHERE id = $1 AND version = $7`,
		r.ID, r.Quantity, r.Note, string(r.Status), r.Version, r.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check reservation: %w", err)
	}
	if !exists {
		return reservation.ErrReservationNotFound
	}
	return ErrStaleWrite
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
