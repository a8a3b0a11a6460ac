package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalFlags serializes a crisis flag set for the flags column.
func marshalFlags(flags models.CrisisFlags) (string, error) {
	data, err := json.Marshal(flags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal crisis flags: %w", err)
	}
	return string(data), nil
}

// rowScanner abstracts sql.Row and sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChild scans a child row.
func scanChild(row rowScanner) (models.Child, error) {
	var c models.Child
	var stage string
	err := row.Scan(&c.ID, &c.Name, &stage, &c.ProgressScore, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.Stage = models.Stage(stage)
	return c, nil
}

// scanConversation scans a conversation row.
func scanConversation(row rowScanner) (models.Conversation, error) {
	var conv models.Conversation
	var title sql.NullString
	err := row.Scan(&conv.ID, &conv.ChildID, &title, &conv.CreatedAt)
	if err != nil {
		return conv, err
	}
	conv.Title = title.String
	return conv, nil
}

// collectConversations drains a conversation result set.
func collectConversations(rows *sql.Rows) ([]models.Conversation, error) {
	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return convs, nil
}

// collectInteractions drains an interaction result set.
func collectInteractions(rows *sql.Rows) ([]models.Interaction, error) {
	var items []models.Interaction
	for rows.Next() {
		var i models.Interaction
		if err := rows.Scan(&i.ID, &i.ChildID, &i.ConversationID, &i.UserInput, &i.BotResponse, &i.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan interaction row: %w", err)
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction rows: %w", err)
	}
	return items, nil
}

// collectAlerts drains a crisis alert result set.
func collectAlerts(rows *sql.Rows) ([]models.CrisisAlert, error) {
	var alerts []models.CrisisAlert
	for rows.Next() {
		var a models.CrisisAlert
		var flagsJSON, summary, notes sql.NullString
		var reviewedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ChildID, &a.InteractionID, &flagsJSON, &summary, &a.Reviewed, &reviewedAt, &notes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan crisis alert row: %w", err)
		}
		if flagsJSON.Valid && flagsJSON.String != "" {
			if err := json.Unmarshal([]byte(flagsJSON.String), &a.Flags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal crisis flags for alert %d: %w", a.ID, err)
			}
		}
		a.Summary = summary.String
		a.Notes = notes.String
		if reviewedAt.Valid {
			t := reviewedAt.Time
			a.ReviewedAt = &t
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crisis alert rows: %w", err)
	}
	return alerts, nil
}

// collectKnowledge drains a knowledge result set.
func collectKnowledge(rows *sql.Rows) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	for rows.Next() {
		var k models.KnowledgeEntry
		var title, sourceURL sql.NullString
		if err := rows.Scan(&k.ID, &title, &sourceURL, &k.Content, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge row: %w", err)
		}
		k.Title = title.String
		k.SourceURL = sourceURL.String
		entries = append(entries, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge rows: %w", err)
	}
	return entries, nil
}
