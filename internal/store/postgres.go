// Package store provides storage backends for SFBTCoach.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/kindpath/sfbtcoach/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed implementation of Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetOrCreateChild(name string) (models.Child, error) {
	if name == "" {
		return models.Child{}, models.ErrEmptyChildName
	}
	child, err := scanChild(s.db.QueryRow(
		`SELECT id, name, stage, progress_score, created_at FROM children WHERE name = $1`, name))
	if err == nil {
		return child, nil
	}
	if err != sql.ErrNoRows {
		return models.Child{}, fmt.Errorf("failed to query child %q: %w", name, err)
	}

	var id int64
	err = s.db.QueryRow(
		`INSERT INTO children (name, stage, created_at) VALUES ($1, $2, $3) RETURNING id`,
		name, string(models.StageGoalSetting), time.Now().UTC()).Scan(&id)
	if err != nil {
		return models.Child{}, fmt.Errorf("failed to insert child %q: %w", name, err)
	}
	slog.Debug("PostgresStore.GetOrCreateChild: created child", "name", name, "id", id)
	return s.GetChild(id)
}

func (s *PostgresStore) GetChild(id int64) (models.Child, error) {
	child, err := scanChild(s.db.QueryRow(
		`SELECT id, name, stage, progress_score, created_at FROM children WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return models.Child{}, models.ErrChildNotFound
	}
	if err != nil {
		return models.Child{}, fmt.Errorf("failed to query child %d: %w", id, err)
	}
	return child, nil
}

func (s *PostgresStore) CreateConversation(childID int64, title string) (models.Conversation, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO conversations (child_id, title, created_at) VALUES ($1, $2, $3) RETURNING id`,
		childID, nilIfEmpty(title), time.Now().UTC()).Scan(&id)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to insert conversation for child %d: %w", childID, err)
	}
	return s.GetConversation(id)
}

func (s *PostgresStore) GetConversation(id int64) (models.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRow(
		`SELECT id, child_id, title, created_at FROM conversations WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return models.Conversation{}, models.ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to query conversation %d: %w", id, err)
	}
	return conv, nil
}

func (s *PostgresStore) ListConversations(childID int64) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, child_id, title, created_at FROM conversations WHERE child_id = $1 ORDER BY created_at DESC, id DESC`, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations for child %d: %w", childID, err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *PostgresStore) CountConversations(childID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE child_id = $1`, childID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations for child %d: %w", childID, err)
	}
	return n, nil
}

func (s *PostgresStore) ListInteractions(conversationID int64) ([]models.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, child_id, conversation_id, user_input, bot_response, timestamp
		 FROM interactions WHERE conversation_id = $1 ORDER BY timestamp, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()
	return collectInteractions(rows)
}

func (s *PostgresStore) HasInteractions(conversationID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM interactions WHERE conversation_id = $1 LIMIT 1`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe interactions for conversation %d: %w", conversationID, err)
	}
	return true, nil
}

func (s *PostgresStore) AddInteraction(i models.Interaction) (int64, error) {
	ts := i.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO interactions (child_id, conversation_id, user_input, bot_response, timestamp) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		i.ChildID, i.ConversationID, i.UserInput, i.BotResponse, ts).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert interaction: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CommitTurn(childID, conversationID int64, userInput, botResponse string, stage models.Stage) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin turn transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(
		`INSERT INTO interactions (child_id, conversation_id, user_input, bot_response, timestamp) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		childID, conversationID, userInput, botResponse, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert turn interaction: %w", err)
	}
	if _, err := tx.Exec(`UPDATE children SET stage = $1 WHERE id = $2`, string(stage), childID); err != nil {
		return 0, fmt.Errorf("failed to update child stage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("PostgresStore.CommitTurn: turn committed", "childID", childID, "conversationID", conversationID, "interactionID", id, "stage", stage)
	return id, nil
}

func (s *PostgresStore) UpdateChildStage(childID int64, stage models.Stage) error {
	if _, err := s.db.Exec(`UPDATE children SET stage = $1 WHERE id = $2`, string(stage), childID); err != nil {
		return fmt.Errorf("failed to update stage for child %d: %w", childID, err)
	}
	return nil
}

func (s *PostgresStore) AddCrisisAlert(a models.CrisisAlert) (int64, error) {
	flagsJSON, err := marshalFlags(a.Flags)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(
		`INSERT INTO crisis_alerts (child_id, interaction_id, flags, summary, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.ChildID, a.InteractionID, flagsJSON, a.Summary, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert crisis alert: %w", err)
	}
	slog.Info("PostgresStore.AddCrisisAlert: alert recorded", "alertID", id, "childID", a.ChildID, "interactionID", a.InteractionID)
	return id, nil
}

func (s *PostgresStore) ListCrisisAlerts(onlyUnreviewed bool) ([]models.CrisisAlert, error) {
	query := `SELECT id, child_id, interaction_id, flags::text, summary, reviewed, reviewed_at, notes, created_at FROM crisis_alerts`
	if onlyUnreviewed {
		query += ` WHERE reviewed = FALSE`
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query crisis alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (s *PostgresStore) ReviewCrisisAlert(id int64, notes string) error {
	res, err := s.db.Exec(
		`UPDATE crisis_alerts SET reviewed = TRUE, reviewed_at = $1, notes = $2 WHERE id = $3`,
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

func (s *PostgresStore) AddKnowledge(k models.KnowledgeEntry) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO sfbt_knowledge (title, source_url, content, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		k.Title, nilIfEmpty(k.SourceURL), k.Content, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert knowledge entry: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListKnowledge() ([]models.KnowledgeEntry, error) {
	rows, err := s.db.Query(`SELECT id, title, source_url, content, updated_at FROM sfbt_knowledge ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge entries: %w", err)
	}
	defer rows.Close()
	return collectKnowledge(rows)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
