package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/irsalhamdi/course-cart/config"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrDBNotFound = errors.New("not found")

const uniqueViolation = "23505"

func Open(cfg config.DB) (*sqlx.DB, error) {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}

	db, err := sqlx.Open("postgres", u.String())
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	return db, nil
}

func Migrate(db *sqlx.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Transaction runs fn in a new transaction, committed when fn succeeds.
func Transaction(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("rollback failed[%v]: %w", rerr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txKeyCtx int

const txKey txKeyCtx = 1

type txState struct {
	tx    *sqlx.Tx
	after []func()
}

// InTx runs fn inside a transaction carried by the context. Stores reach it
// through Ext. A context that already holds a transaction joins it. Functions
// registered with AfterCommit run once the outermost transaction commits.
func InTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*txState); ok {
		return fn(ctx)
	}

	st := &txState{}
	err := Transaction(ctx, db, func(tx *sqlx.Tx) error {
		st.tx = tx
		return fn(context.WithValue(ctx, txKey, st))
	})
	if err != nil {
		return err
	}

	for _, f := range st.after {
		f()
	}
	return nil
}

// AfterCommit defers f until the transaction in ctx commits. It is dropped
// on rollback, and runs at once when ctx holds no transaction.
func AfterCommit(ctx context.Context, f func()) {
	if st, ok := ctx.Value(txKey).(*txState); ok {
		st.after = append(st.after, f)
		return
	}
	f()
}

func Ext(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if st, ok := ctx.Value(txKey).(*txState); ok {
		return st.tx
	}
	return db
}

func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
