// Package store provides storage backends for SFBTCoach.
//
// It includes SQLite (default) and PostgreSQL backends selected by DSN
// detection, plus an in-memory store used for tests and DSN-less runs.
// A dialogue turn is committed atomically: the interaction append and the
// child's stage advance happen in one transaction or not at all.
package store

import (
	"strings"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// Store defines the persistence operations the dialogue flow and API depend on.
type Store interface {
	// GetOrCreateChild fetches a child by name, creating the record with the
	// initial stage on first reference.
	GetOrCreateChild(name string) (models.Child, error)
	// GetChild fetches a child by ID.
	GetChild(id int64) (models.Child, error)

	// CreateConversation creates a conversation for a child.
	CreateConversation(childID int64, title string) (models.Conversation, error)
	// GetConversation fetches a conversation by ID.
	GetConversation(id int64) (models.Conversation, error)
	// ListConversations returns a child's conversations, newest first.
	ListConversations(childID int64) ([]models.Conversation, error)
	// CountConversations returns how many conversations a child has.
	CountConversations(childID int64) (int, error)

	// ListInteractions returns a conversation's interactions in timestamp order.
	ListInteractions(conversationID int64) ([]models.Interaction, error)
	// HasInteractions reports whether a conversation has any interaction.
	HasInteractions(conversationID int64) (bool, error)
	// AddInteraction appends a single interaction outside of turn commit
	// (used for the synthetic intro interaction).
	AddInteraction(i models.Interaction) (int64, error)

	// CommitTurn atomically appends the turn's interaction and updates the
	// child's stage, returning the new interaction ID.
	CommitTurn(childID, conversationID int64, userInput, botResponse string, stage models.Stage) (int64, error)
	// UpdateChildStage sets a child's stage outside of turn commit.
	UpdateChildStage(childID int64, stage models.Stage) error

	// AddCrisisAlert records a crisis alert for an interaction.
	AddCrisisAlert(a models.CrisisAlert) (int64, error)
	// ListCrisisAlerts returns alerts, newest first, optionally only unreviewed.
	ListCrisisAlerts(onlyUnreviewed bool) ([]models.CrisisAlert, error)
	// ReviewCrisisAlert marks an alert reviewed with reviewer notes.
	ReviewCrisisAlert(id int64, notes string) error

	// AddKnowledge inserts a knowledge corpus entry.
	AddKnowledge(k models.KnowledgeEntry) (int64, error)
	// ListKnowledge returns the full knowledge corpus.
	ListKnowledge() ([]models.KnowledgeEntry, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for storage backends.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite or a
	// postgres:// URL / key=value DSN for PostgreSQL.
	DSN string
}

// Option configures storage backends.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite file path DSN.
func WithSQLiteDSN(path string) Option {
	return func(o *Opts) { o.DSN = path }
}

// WithPostgresDSN sets a PostgreSQL DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for everything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
