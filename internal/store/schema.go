package store

const schema = `
CREATE TABLE IF NOT EXISTS environments (
    prefix TEXT PRIMARY KEY,
    name TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    prefix TEXT NOT NULL,
    command TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_actions (
    transaction_id TEXT NOT NULL,
    action TEXT NOT NULL,
    dist TEXT NOT NULL,
    FOREIGN KEY (transaction_id) REFERENCES transactions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_transactions_prefix ON transactions(prefix);
CREATE INDEX IF NOT EXISTS idx_transactions_started ON transactions(started_at);
CREATE INDEX IF NOT EXISTS idx_actions_transaction ON transaction_actions(transaction_id);
`
