package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeFormat has a fixed width so that timestamps sort as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// RegisterEnv records the environment at prefix. Registering an existing
// prefix updates its name and keeps the original creation time.
func (s *Store) RegisterEnv(prefix, name string) error {
	query := `
		INSERT INTO environments (prefix, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(prefix) DO UPDATE SET name = excluded.name
	`
	_, err := s.db.Exec(query, prefix, name, time.Now().Format(time.RFC3339))
	if err != nil {
		return wrap(err, "failed to register environment %s", prefix)
	}
	return nil
}

// UnregisterEnv removes prefix from the registry. Unknown prefixes are ignored.
func (s *Store) UnregisterEnv(prefix string) error {
	if _, err := s.db.Exec("DELETE FROM environments WHERE prefix = ?", prefix); err != nil {
		return wrap(err, "failed to unregister environment %s", prefix)
	}
	return nil
}

// ListEnvs returns all registered environments ordered by prefix.
func (s *Store) ListEnvs() ([]*Env, error) {
	rows, err := s.db.Query("SELECT prefix, name, created_at FROM environments ORDER BY prefix")
	if err != nil {
		return nil, wrap(err, "failed to list environments")
	}
	defer rows.Close()

	var envs []*Env
	for rows.Next() {
		var env Env
		var name sql.NullString
		var createdAt string
		if err := rows.Scan(&env.Prefix, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		env.Name = name.String
		if env.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		envs = append(envs, &env)
	}
	return envs, rows.Err()
}

// BeginTransaction opens a journal entry for prefix and returns its id.
func (s *Store) BeginTransaction(prefix, command string) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO transactions (id, prefix, command, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, id, prefix, command, time.Now().UTC().Format(timeFormat), StatusRunning)
	if err != nil {
		return "", wrap(err, "failed to begin transaction")
	}
	return id, nil
}

// AddActions records link and unlink actions against transaction id.
func (s *Store) AddActions(id string, actions []Action) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin database transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO transaction_actions (transaction_id, action, dist) VALUES (?, ?, ?)")
	if err != nil {
		return wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for _, a := range actions {
		if _, err := stmt.Exec(id, a.Action, a.Dist); err != nil {
			return wrap(err, "failed to record action %s %s", a.Action, a.Dist)
		}
	}
	return tx.Commit()
}

// FinishTransaction sets the final status of transaction id.
func (s *Store) FinishTransaction(id, status string) error {
	res, err := s.db.Exec("UPDATE transactions SET status = ?, finished_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return wrap(err, "failed to finish transaction %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// ListTransactions returns the transactions of prefix with their actions,
// most recent first.
func (s *Store) ListTransactions(prefix string) ([]*TxRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, prefix, command, started_at, finished_at, status
		FROM transactions WHERE prefix = ?
		ORDER BY started_at DESC, rowid DESC
	`, prefix)
	if err != nil {
		return nil, wrap(err, "failed to list transactions")
	}
	defer rows.Close()

	var recs []*TxRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "failed to list transactions")
	}
	// The store holds a single connection, so rows must be released
	// before the action queries run.
	rows.Close()

	for _, rec := range recs {
		if err := s.loadActions(rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (s *Store) loadActions(rec *TxRecord) error {
	rows, err := s.db.Query("SELECT action, dist FROM transaction_actions WHERE transaction_id = ? ORDER BY rowid", rec.ID)
	if err != nil {
		return wrap(err, "failed to get actions for %s", rec.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.Action, &a.Dist); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		rec.Actions = append(rec.Actions, a)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*TxRecord, error) {
	var rec TxRecord
	var command, finishedAt sql.NullString
	var startedAt string
	if err := row.Scan(&rec.ID, &rec.Prefix, &command, &startedAt, &finishedAt, &rec.Status); err != nil {
		return nil, err
	}
	rec.Command = command.String

	var err error
	if rec.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		rec.FinishedAt = &t
	}
	return &rec, nil
}
