// Package store provides storage backends for SFBTCoach.
//
// This file implements the SQLite-backed store, the default backend.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/kindpath/sfbtcoach/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreateChild(name string) (models.Child, error) {
	if name == "" {
		return models.Child{}, models.ErrEmptyChildName
	}
	child, err := scanChild(s.db.QueryRow(
		`SELECT id, name, stage, progress_score, created_at FROM children WHERE name = ?`, name))
	if err == nil {
		return child, nil
	}
	if err != sql.ErrNoRows {
		return models.Child{}, fmt.Errorf("failed to query child %q: %w", name, err)
	}

	res, err := s.db.Exec(
		`INSERT INTO children (name, stage, created_at) VALUES (?, ?, ?)`,
		name, string(models.StageGoalSetting), time.Now().UTC())
	if err != nil {
		return models.Child{}, fmt.Errorf("failed to insert child %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Child{}, fmt.Errorf("failed to read child id: %w", err)
	}
	slog.Debug("SQLiteStore.GetOrCreateChild: created child", "name", name, "id", id)
	return s.GetChild(id)
}

func (s *SQLiteStore) GetChild(id int64) (models.Child, error) {
	child, err := scanChild(s.db.QueryRow(
		`SELECT id, name, stage, progress_score, created_at FROM children WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return models.Child{}, models.ErrChildNotFound
	}
	if err != nil {
		return models.Child{}, fmt.Errorf("failed to query child %d: %w", id, err)
	}
	return child, nil
}

func (s *SQLiteStore) CreateConversation(childID int64, title string) (models.Conversation, error) {
	res, err := s.db.Exec(
		`INSERT INTO conversations (child_id, title, created_at) VALUES (?, ?, ?)`,
		childID, nilIfEmpty(title), time.Now().UTC())
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to insert conversation for child %d: %w", childID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to read conversation id: %w", err)
	}
	return s.GetConversation(id)
}

func (s *SQLiteStore) GetConversation(id int64) (models.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRow(
		`SELECT id, child_id, title, created_at FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return models.Conversation{}, models.ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to query conversation %d: %w", id, err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(childID int64) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, child_id, title, created_at FROM conversations WHERE child_id = ? ORDER BY created_at DESC, id DESC`, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations for child %d: %w", childID, err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *SQLiteStore) CountConversations(childID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE child_id = ?`, childID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations for child %d: %w", childID, err)
	}
	return n, nil
}

func (s *SQLiteStore) ListInteractions(conversationID int64) ([]models.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, child_id, conversation_id, user_input, bot_response, timestamp
		 FROM interactions WHERE conversation_id = ? ORDER BY timestamp, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()
	return collectInteractions(rows)
}

func (s *SQLiteStore) HasInteractions(conversationID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM interactions WHERE conversation_id = ? LIMIT 1`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe interactions for conversation %d: %w", conversationID, err)
	}
	return true, nil
}

func (s *SQLiteStore) AddInteraction(i models.Interaction) (int64, error) {
	ts := i.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO interactions (child_id, conversation_id, user_input, bot_response, timestamp) VALUES (?, ?, ?, ?, ?)`,
		i.ChildID, i.ConversationID, i.UserInput, i.BotResponse, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to insert interaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read interaction id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) CommitTurn(childID, conversationID int64, userInput, botResponse string, stage models.Stage) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin turn transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO interactions (child_id, conversation_id, user_input, bot_response, timestamp) VALUES (?, ?, ?, ?, ?)`,
		childID, conversationID, userInput, botResponse, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert turn interaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read turn interaction id: %w", err)
	}
	if _, err := tx.Exec(`UPDATE children SET stage = ? WHERE id = ?`, string(stage), childID); err != nil {
		return 0, fmt.Errorf("failed to update child stage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("SQLiteStore.CommitTurn: turn committed", "childID", childID, "conversationID", conversationID, "interactionID", id, "stage", stage)
	return id, nil
}

func (s *SQLiteStore) UpdateChildStage(childID int64, stage models.Stage) error {
	if _, err := s.db.Exec(`UPDATE children SET stage = ? WHERE id = ?`, string(stage), childID); err != nil {
		return fmt.Errorf("failed to update stage for child %d: %w", childID, err)
	}
	return nil
}

func (s *SQLiteStore) AddCrisisAlert(a models.CrisisAlert) (int64, error) {
	flagsJSON, err := marshalFlags(a.Flags)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		`INSERT INTO crisis_alerts (child_id, interaction_id, flags, summary, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ChildID, a.InteractionID, flagsJSON, a.Summary, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert crisis alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read crisis alert id: %w", err)
	}
	slog.Info("SQLiteStore.AddCrisisAlert: alert recorded", "alertID", id, "childID", a.ChildID, "interactionID", a.InteractionID)
	return id, nil
}

func (s *SQLiteStore) ListCrisisAlerts(onlyUnreviewed bool) ([]models.CrisisAlert, error) {
	query := `SELECT id, child_id, interaction_id, flags, summary, reviewed, reviewed_at, notes, created_at FROM crisis_alerts`
	if onlyUnreviewed {
		query += ` WHERE reviewed = 0`
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query crisis alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (s *SQLiteStore) ReviewCrisisAlert(id int64, notes string) error {
	res, err := s.db.Exec(
		`UPDATE crisis_alerts SET reviewed = 1, reviewed_at = ?, notes = ? WHERE id = ?`,
		time.Now().UTC(), nilIfEmpty(notes), id)
	if err != nil {
		return fmt.Errorf("failed to review crisis alert %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read review result: %w", err)
	}
	if n == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}

func (s *SQLiteStore) AddKnowledge(k models.KnowledgeEntry) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sfbt_knowledge (title, source_url, content, updated_at) VALUES (?, ?, ?, ?)`,
		k.Title, nilIfEmpty(k.SourceURL), k.Content, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert knowledge entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListKnowledge() ([]models.KnowledgeEntry, error) {
	rows, err := s.db.Query(`SELECT id, title, source_url, content, updated_at FROM sfbt_knowledge ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge entries: %w", err)
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
