// Package sqlite implementa el almacén del ledger sobre SQLite (un solo nodo).
//
// Cada transacción se abre con BEGIN IMMEDIATE, así que las escrituras se serializan a nivel
// de base de datos; la espera está acotada por _busy_timeout y al vencer se devuelve
// domain.ErrConcurrencyConflict. Cantidades y fechas se guardan como TEXT.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
)

var _ inventory.TxRunner = (*Store)(nil)

// Querier subconjunto común de *sql.DB y *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store almacén SQLite del ledger.
type Store struct {
	db *sql.DB
}

// Open abre (o crea) la base en path y aplica el esquema.
// busyTimeout acota la espera por el bloqueo de escritura; 0 = 5s.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("abrir sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrar sqlite: %w", err)
	}
	return s, nil
}

// Close cierra la base.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB expone la conexión para sembrar datos de los módulos colaboradores.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Repositories repositorios fuera de transacción (solo lecturas).
func (s *Store) Repositories() inventory.Repositories {
	return Repositories(s.db)
}

// Run ejecuta fn dentro de una transacción BEGIN IMMEDIATE; Commit si fn retorna nil.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, repos inventory.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, Repositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

// Repositories construye los repositorios del ledger sobre la base o una tx.
func Repositories(q Querier) inventory.Repositories {
	return inventory.Repositories{
		Movements:  &MovementRepo{q: q},
		Stock:      &StockRepo{q: q},
		Products:   &ProductConfigRepo{q: q},
		Branches:   &BranchRepo{q: q},
		References: &ReferenceRepo{q: q},
	}
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS branches (
	id          TEXT PRIMARY KEY,
	business_id TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT NOT NULL,
	business_id     TEXT NOT NULL,
	track_inventory INTEGER NOT NULL DEFAULT 1,
	min_quantity    TEXT NOT NULL DEFAULT '0',
	max_quantity    TEXT NOT NULL DEFAULT '0',
	updated_at      TEXT NOT NULL,
	PRIMARY KEY (business_id, id)
);

CREATE TABLE IF NOT EXISTS documents (
	business_id    TEXT NOT NULL,
	reference_type TEXT NOT NULL,
	id             TEXT NOT NULL,
	PRIMARY KEY (business_id, reference_type, id)
);

CREATE TABLE IF NOT EXISTS inventory_movements (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	business_id    TEXT NOT NULL,
	branch_id      TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	type           TEXT NOT NULL,
	reference_type TEXT NOT NULL,
	reference_id   TEXT NOT NULL CHECK (reference_id <> ''),
	actor_id       TEXT NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inventory_movements_key
	ON inventory_movements (business_id, branch_id, product_id);
CREATE INDEX IF NOT EXISTS idx_inventory_movements_reference
	ON inventory_movements (business_id, reference_type, reference_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_inventory_movements_reversal
	ON inventory_movements (business_id, reference_id) WHERE reference_type = 'REVERSAL';
CREATE UNIQUE INDEX IF NOT EXISTS uq_inventory_movements_transfer_leg
	ON inventory_movements (business_id, reference_id, type) WHERE reference_type = 'BRANCH_TRANSFER';

CREATE TRIGGER IF NOT EXISTS trg_inventory_movements_no_update
	BEFORE UPDATE ON inventory_movements
	BEGIN SELECT RAISE(ABORT, 'inventory_movements es solo inserción'); END;
CREATE TRIGGER IF NOT EXISTS trg_inventory_movements_no_delete
	BEFORE DELETE ON inventory_movements
	BEGIN SELECT RAISE(ABORT, 'inventory_movements es solo inserción'); END;

CREATE TABLE IF NOT EXISTS current_stock (
	business_id TEXT NOT NULL,
	branch_id   TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	quantity    TEXT NOT NULL DEFAULT '0',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (business_id, branch_id, product_id)
);
`
