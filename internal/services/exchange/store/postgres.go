package store

import (
	"context"
	"embed"
	"errors"
	"strings"
	"time"

	"cashlink/internal/geo"
	"cashlink/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const requestColumns = `id, seq, mode, amount::text, phone, lng, lat, matched, created_at`

const matchColumns = `id, request_a, request_b, code_hash, sealed_code, verified_a, verified_b, created_at`

// Postgres reserves matches with a conditional update inside a transaction:
// both rows flip only if both are still unmatched.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

// Migrate applies every embedded *.up.sql file not yet recorded in
// schema_migrations.
func (s *Postgres) Migrate(ctx context.Context) error {
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}

	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY)`); err != nil {
		return storageErr(err)
	}

	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		var exists bool
		if err := s.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&exists); err != nil {
			return storageErr(err)
		}
		if exists {
			continue
		}

		b, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}

		if err := s.withTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(b)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, name)
			return err
		}); err != nil {
			return storageErr(err)
		}
	}

	return nil
}

func (s *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

// Requests

func (s *Postgres) CreateRequest(ctx context.Context, req *models.ExchangeRequest) error {
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO exchange_requests (id, mode, amount, phone, lng, lat, created_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		 RETURNING seq`,
		req.ID, string(req.Mode), req.Amount.String(), req.Phone, req.Location.Lng, req.Location.Lat, req.CreatedAt,
	).Scan(&req.Seq)
	if err != nil {
		return storageErr(err)
	}

	return nil
}

func (s *Postgres) GetRequest(ctx context.Context, id string) (*models.ExchangeRequest, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM exchange_requests WHERE id=$1`, id)

	req, err := scanRequest(row)
	if err != nil {
		return nil, notFoundOr(err)
	}

	return req, nil
}

func (s *Postgres) MarkMatched(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE exchange_requests SET matched = TRUE WHERE id=$1`, id)
	if err != nil {
		return storageErr(err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (s *Postgres) Nearby(ctx context.Context, mode models.Mode, center models.Location, radius float64) ([]*models.ExchangeRequest, error) {
	box := geo.BoundingBox(center.Lat, center.Lng, radius+geo.Tolerance)

	query := `SELECT ` + requestColumns + ` FROM exchange_requests
		WHERE mode=$1 AND NOT matched AND lat BETWEEN $2 AND $3`
	args := []any{string(mode), box.MinLat, box.MaxLat}

	if !box.WrapsLng {
		query += ` AND lng BETWEEN $4 AND $5`
		args = append(args, box.MinLng, box.MaxLng)
	}

	query += ` ORDER BY seq`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []*models.ExchangeRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, req)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	return out, nil
}

func (s *Postgres) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM exchange_requests WHERE NOT matched AND created_at < $1`, cutoff)
	if err != nil {
		return 0, storageErr(err)
	}

	return int(tag.RowsAffected()), nil
}

// Matches

func (s *Postgres) Reserve(ctx context.Context, match *models.Match) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		ids := []string{match.RequestA, match.RequestB}

		tag, err := tx.Exec(ctx,
			`UPDATE exchange_requests SET matched = TRUE, match_id = $1
			 WHERE id = ANY($2) AND NOT matched`,
			match.ID, ids)
		if err != nil {
			return storageErr(err)
		}

		if tag.RowsAffected() != 2 {
			var found int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM exchange_requests WHERE id = ANY($1)`, ids).Scan(&found); err != nil {
				return storageErr(err)
			}
			if found < 2 {
				return models.ErrNotFound
			}
			return models.ErrConflict
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO matches (id, request_a, request_b, code_hash, sealed_code, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			match.ID, match.RequestA, match.RequestB, match.CodeHash, match.SealedCode, match.CreatedAt); err != nil {
			return storageErr(err)
		}

		return nil
	})

	if err != nil && !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrConflict) &&
		!errors.Is(err, models.ErrStorage) {
		return storageErr(err)
	}

	return err
}

func (s *Postgres) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id=$1`, id)

	m, err := scanMatch(row)
	if err != nil {
		return nil, notFoundOr(err)
	}

	return m, nil
}

func (s *Postgres) MatchForRequest(ctx context.Context, requestID string) (*models.Match, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE request_a=$1 OR request_b=$1`, requestID)

	m, err := scanMatch(row)
	if err != nil {
		return nil, notFoundOr(err)
	}

	return m, nil
}

func (s *Postgres) MarkVerified(ctx context.Context, matchID string, side models.Side) (*models.Match, error) {
	var query string
	switch side {
	case models.SideA:
		query = `UPDATE matches SET verified_a = TRUE WHERE id=$1 RETURNING ` + matchColumns
	case models.SideB:
		query = `UPDATE matches SET verified_b = TRUE WHERE id=$1 RETURNING ` + matchColumns
	default:
		return nil, models.ErrNotFound
	}

	m, err := scanMatch(s.Pool.QueryRow(ctx, query, matchID))
	if err != nil {
		return nil, notFoundOr(err)
	}

	return m, nil
}

func scanRequest(row pgx.Row) (*models.ExchangeRequest, error) {
	var (
		req    models.ExchangeRequest
		mode   string
		amount string
	)

	if err := row.Scan(&req.ID, &req.Seq, &mode, &amount, &req.Phone,
		&req.Location.Lng, &req.Location.Lat, &req.Matched, &req.CreatedAt); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}

	req.Mode = models.Mode(mode)
	req.Amount = parsed

	return &req, nil
}

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match

	if err := row.Scan(&m.ID, &m.RequestA, &m.RequestB, &m.CodeHash, &m.SealedCode,
		&m.VerifiedA, &m.VerifiedB, &m.CreatedAt); err != nil {
		return nil, err
	}

	return &m, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	return storageErr(err)
}
