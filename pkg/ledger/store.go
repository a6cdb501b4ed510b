// Package ledger tracks the lifecycle of per-leg deposit records and
// bridge transfers. Every record is durably written before any network
// call so a process restart can discover and resume incomplete work.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS leg_records (
	id             TEXT PRIMARY KEY,
	plan_id        TEXT NOT NULL,
	leg_index      INTEGER NOT NULL,
	wallet_id      TEXT NOT NULL,
	token          TEXT NOT NULL,
	chain          TEXT NOT NULL,
	protocol       TEXT NOT NULL,
	amount         TEXT NOT NULL,
	status         TEXT NOT NULL,
	tx_hash        TEXT,
	shares_before  TEXT,
	shares_after   TEXT,
	shares_delta   TEXT,
	gas_used       INTEGER NOT NULL DEFAULT 0,
	err_code       TEXT,
	err_message    TEXT,
	retry_eligible INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leg_records_plan ON leg_records(plan_id);
CREATE INDEX IF NOT EXISTS idx_leg_records_status ON leg_records(status);

CREATE TABLE IF NOT EXISTS bridge_transfers (
	id               TEXT PRIMARY KEY,
	leg_record_id    TEXT NOT NULL REFERENCES leg_records(id),
	from_chain       TEXT NOT NULL,
	to_chain         TEXT NOT NULL,
	token            TEXT NOT NULL,
	amount           TEXT NOT NULL,
	relay_message_id TEXT,
	tx_hash          TEXT NOT NULL,
	confirmed_at     INTEGER NOT NULL,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bridge_transfers_leg ON bridge_transfers(leg_record_id);
`

// ledgerPragmas favor durability over speed: the ledger is an audit
// trail, so every commit must survive a crash.
var ledgerPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// OpenStore opens (creating if needed) the ledger database at path.
// "file:" URIs pass through untouched so tests can use in-memory
// databases.
func OpenStore(path string) (*sql.DB, error) {
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ledger path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
		path = absPath
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent leg execution.
	db.SetMaxOpenConns(1)

	for _, pragma := range ledgerPragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return db, nil
}
