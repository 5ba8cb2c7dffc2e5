package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    amount_fiat REAL NOT NULL,
    currency TEXT NOT NULL,
    amount_sats INTEGER NOT NULL,
    fx_rate INTEGER NOT NULL,
    fx_source TEXT NOT NULL,
    fx_timestamp INTEGER NOT NULL,
    meal_type TEXT NOT NULL,
    flow TEXT NOT NULL,
    image_hash TEXT NOT NULL,
    image_uri TEXT NOT NULL DEFAULT '',
    event_id TEXT NOT NULL DEFAULT '',
    sync_status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
    receipt_id TEXT NOT NULL,
    pubkey TEXT NOT NULL,
    position INTEGER NOT NULL,
    share_sats INTEGER NOT NULL,
    paid_sats INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (receipt_id, pubkey),
    FOREIGN KEY (receipt_id) REFERENCES receipts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action TEXT NOT NULL,
    receipt_id TEXT NOT NULL,
    event_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    details TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS stored_keys (
    pubkey TEXT PRIMARY KEY,
    encrypted_secret TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    last_used INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
    id TEXT PRIMARY KEY,
    data BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participants_receipt_id ON participants(receipt_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_receipt_id ON audit_log(receipt_id);
CREATE INDEX IF NOT EXISTS idx_receipts_created_at ON receipts(created_at);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
