package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one completed analysis.
type HistoryEntry struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id,omitempty"`
	Source        string    `json:"source"`
	Label         string    `json:"label"`
	Probability   float64   `json:"probability"`
	Calories      string    `json:"calories,omitempty"`
	Protein       string    `json:"protein,omitempty"`
	Carbohydrates string    `json:"carbohydrates,omitempty"`
	Fat           string    `json:"fat,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AddHistory records an analysis and trims the table to the configured
// size. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) AddHistory(entry *HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO history (id, request_id, source, label, probability, calories, protein, carbohydrates, fat, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, nullString(entry.RequestID), entry.Source, entry.Label, entry.Probability,
		nullString(entry.Calories), nullString(entry.Protein), nullString(entry.Carbohydrates), nullString(entry.Fat),
		entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add history entry: %w", err)
	}

	if s.historySize > 0 {
		_, err = tx.Exec(`
			DELETE FROM history WHERE seq NOT IN (
				SELECT seq FROM history ORDER BY seq DESC LIMIT ?
			)
		`, s.historySize)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}

	return tx.Commit()
}

// ListHistory returns up to limit entries, newest first. A limit <= 0
// returns everything.
func (s *SQLiteStore) ListHistory(limit int) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT id, request_id, source, label, probability, calories, protein, carbohydrates, fat, created_at
		FROM history ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var requestID, calories, protein, carbs, fat sql.NullString
		if err := rows.Scan(&e.ID, &requestID, &e.Source, &e.Label, &e.Probability,
			&calories, &protein, &carbs, &fat, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.RequestID = requestID.String
		e.Calories = calories.String
		e.Protein = protein.String
		e.Carbohydrates = carbs.String
		e.Fat = fat.String
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ClearHistory deletes every history entry.
func (s *SQLiteStore) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM history")
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
