package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres reads bundles from the preload_assets table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects to dsn and makes sure the table exists.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromEnv connects using PRELOAD_DATABASE_URL, or builds a DSN
// from POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB
// (preload), POSTGRES_USER (preload), POSTGRES_PASSWORD and
// POSTGRES_SSLMODE (disable).
func NewPostgresFromEnv() (*Postgres, error) {
	if dsn := os.Getenv("PRELOAD_DATABASE_URL"); dsn != "" {
		return NewPostgres(dsn)
	}
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "preload")
	user := getenv("POSTGRES_USER", "preload")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgres(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS preload_assets (
    bundle TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    load_type TEXT NOT NULL DEFAULT '',
    response_kind TEXT NOT NULL DEFAULT '',
    cross_origin TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (bundle, name)
);
`)
	return err
}

// Manifest returns the assets of bundle in position order.
func (p *Postgres) Manifest(ctx context.Context, bundle string) (*Manifest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name,url,load_type,response_kind,cross_origin FROM preload_assets WHERE bundle=$1 ORDER BY position ASC, name ASC`, bundle)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	m := &Manifest{Bundle: bundle}
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.Name, &a.URL, &a.LoadType, &a.ResponseKind, &a.CrossOrigin); err != nil {
			return nil, err
		}
		m.Assets = append(m.Assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(m.Assets) == 0 {
		return nil, fmt.Errorf("%s: %w", bundle, ErrBundleUnknown)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Put stores the assets of m under its bundle, replacing any previous entry
// with the same name.
func (p *Postgres) Put(ctx context.Context, m *Manifest) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for i, a := range m.Assets {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO preload_assets (bundle,position,name,url,load_type,response_kind,cross_origin)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (bundle,name) DO UPDATE SET position=EXCLUDED.position, url=EXCLUDED.url,
    load_type=EXCLUDED.load_type, response_kind=EXCLUDED.response_kind, cross_origin=EXCLUDED.cross_origin`,
			m.Bundle, i, name, a.URL, a.LoadType, a.ResponseKind, a.CrossOrigin)
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", m.Bundle, name, err)
		}
	}
	return tx.Commit()
}
