package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the SQLCipher "sqlite3" database/sql driver.
	_ "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
)

const (
	stateDBName   = "state.db"
	schemaVersion = "1"
)

// StateStore persists sessions, cooldowns, per-app config and the
// monitored/blocked sets in a SQLCipher encrypted SQLite database.
type StateStore struct {
	db     *sql.DB
	dbPath string
}

// NewStateStore opens (or creates) the encrypted state database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewStateStore(dataDir string, key []byte) (*StateStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	// A wrong key only surfaces on first read
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &StateStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *StateStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		app_id TEXT PRIMARY KEY,
		start_ms INTEGER NOT NULL,
		requested_minutes INTEGER NOT NULL,
		behavior TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		app_id TEXT PRIMARY KEY,
		end_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_configs (
		app_id TEXT PRIMARY KEY,
		behavior TEXT NOT NULL,
		cooldown_minutes INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS monitored_apps (
		app_id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS blocked_apps (
		app_id TEXT PRIMARY KEY,
		blocked_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
	return err
}

// PutSession upserts the session for s.AppID.
func (s *StateStore) PutSession(sess domain.Session) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (app_id, start_ms, requested_minutes, behavior)
		VALUES (?, ?, ?, ?)`,
		sess.AppID, domain.ToMillis(sess.StartTime), sess.RequestedMinutes, string(sess.Behavior),
	)
	return err
}

// DeleteSession removes the session for appID, if any.
func (s *StateStore) DeleteSession(appID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE app_id = ?`, appID)
	return err
}

// PutCooldown upserts a cooldown end time.
func (s *StateStore) PutCooldown(c domain.CooldownEntry) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cooldowns (app_id, end_ms) VALUES (?, ?)`,
		c.AppID, domain.ToMillis(c.EndTime))
	return err
}

// DeleteCooldown removes the cooldown for appID, if any.
func (s *StateStore) DeleteCooldown(appID string) error {
	_, err := s.db.Exec(`DELETE FROM cooldowns WHERE app_id = ?`, appID)
	return err
}

// PutConfig upserts per-app configuration.
func (s *StateStore) PutConfig(c domain.AppConfig) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO app_configs (app_id, behavior, cooldown_minutes)
		VALUES (?, ?, ?)`,
		c.AppID, string(c.Behavior), c.CooldownMinutes,
	)
	return err
}

// ReplaceMonitored swaps the monitored set in one transaction.
func (s *StateStore) ReplaceMonitored(appIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM monitored_apps`); err != nil {
		tx.Rollback()
		return err
	}
	for _, id := range appIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO monitored_apps (app_id) VALUES (?)`, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SetBlocked adds or removes appID from the blocked set.
func (s *StateStore) SetBlocked(appID string, blocked bool) error {
	if !blocked {
		_, err := s.db.Exec(`DELETE FROM blocked_apps WHERE app_id = ?`, appID)
		return err
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO blocked_apps (app_id, blocked_at) VALUES (?, ?)`,
		appID, time.Now().Unix())
	return err
}

// Load reads the full persisted state.
func (s *StateStore) Load() (*domain.StateSnapshot, error) {
	snap := &domain.StateSnapshot{}

	rows, err := s.db.Query(`SELECT app_id, start_ms, requested_minutes, behavior FROM sessions ORDER BY app_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	for rows.Next() {
		var sess domain.Session
		var startMs int64
		var behavior string
		if err := rows.Scan(&sess.AppID, &startMs, &sess.RequestedMinutes, &behavior); err != nil {
			rows.Close()
			return nil, err
		}
		sess.StartTime = domain.FromMillis(startMs)
		sess.Behavior = domain.ParseBehavior(behavior)
		snap.Sessions = append(snap.Sessions, sess)
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT app_id, end_ms FROM cooldowns ORDER BY app_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldowns: %w", err)
	}
	for rows.Next() {
		var c domain.CooldownEntry
		var endMs int64
		if err := rows.Scan(&c.AppID, &endMs); err != nil {
			rows.Close()
			return nil, err
		}
		c.EndTime = domain.FromMillis(endMs)
		snap.Cooldowns = append(snap.Cooldowns, c)
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT app_id, behavior, cooldown_minutes FROM app_configs ORDER BY app_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read app configs: %w", err)
	}
	for rows.Next() {
		var c domain.AppConfig
		var behavior string
		if err := rows.Scan(&c.AppID, &behavior, &c.CooldownMinutes); err != nil {
			rows.Close()
			return nil, err
		}
		c.Behavior = domain.ParseBehavior(behavior)
		snap.Configs = append(snap.Configs, c)
	}
	rows.Close()

	if snap.Monitored, err = s.readIDs(`SELECT app_id FROM monitored_apps ORDER BY app_id`); err != nil {
		return nil, fmt.Errorf("failed to read monitored apps: %w", err)
	}
	if snap.Blocked, err = s.readIDs(`SELECT app_id FROM blocked_apps ORDER BY app_id`); err != nil {
		return nil, fmt.Errorf("failed to read blocked apps: %w", err)
	}
	return snap, nil
}

func (s *StateStore) readIDs(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Path returns the database file path.
func (s *StateStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *StateStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreJournal writes repository mutations through to a StateStore.
// Write failures are logged and never reach the engine.
type StoreJournal struct {
	store  *StateStore
	logger *zap.Logger
}

// NewStoreJournal creates a journal backed by store.
func NewStoreJournal(store *StateStore, logger *zap.Logger) *StoreJournal {
	return &StoreJournal{store: store, logger: logger}
}

func (j *StoreJournal) check(op, appID string, err error) {
	if err != nil {
		j.logger.Warn("state write failed",
			zap.String("op", op),
			zap.String("app", appID),
			zap.Error(err))
	}
}

func (j *StoreJournal) SessionSaved(s domain.Session) {
	j.check("session_saved", s.AppID, j.store.PutSession(s))
}

func (j *StoreJournal) SessionRemoved(appID string) {
	j.check("session_removed", appID, j.store.DeleteSession(appID))
}

func (j *StoreJournal) CooldownSaved(c domain.CooldownEntry) {
	j.check("cooldown_saved", c.AppID, j.store.PutCooldown(c))
}

func (j *StoreJournal) CooldownCleared(appID string) {
	j.check("cooldown_cleared", appID, j.store.DeleteCooldown(appID))
}

func (j *StoreJournal) ConfigSaved(c domain.AppConfig) {
	j.check("config_saved", c.AppID, j.store.PutConfig(c))
}

func (j *StoreJournal) MonitoredReplaced(appIDs []string) {
	j.check("monitored_replaced", "", j.store.ReplaceMonitored(appIDs))
}

func (j *StoreJournal) BlockedChanged(appID string, blocked bool) {
	j.check("blocked_changed", appID, j.store.SetBlocked(appID, blocked))
}

// Ensure StoreJournal implements domain.StateJournal.
var _ domain.StateJournal = (*StoreJournal)(nil)
