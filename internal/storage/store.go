// Package storage persists the nutrition cache and analysis history in
// SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// NutritionEntry is a cached nutrition record for a label.
type NutritionEntry struct {
	ServingSize   string
	Calories      string
	Protein       string
	Carbohydrates string
	Fat           string
	FoodURL       string
}

// Store defines the persistence used by the service.
type Store interface {
	// Nutrition cache methods
	GetNutrition(label string) (*NutritionEntry, error)
	SetNutrition(label string, entry *NutritionEntry) error

	// History methods
	AddHistory(entry *HistoryEntry) error
	ListHistory(limit int) ([]HistoryEntry, error)
	ClearHistory() error

	Close() error
}

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex

	// historySize bounds the history table; zero keeps everything.
	historySize int
}

// NewSQLiteStore opens the database at dbPath, or a private in-memory one
// for MemoryDSN, and creates the tables.
func NewSQLiteStore(dbPath string, historySize int) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != MemoryDSN && !strings.HasPrefix(dbPath, "file:") {
		// Configure SQLite with WAL mode and busy timeout for better concurrency
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == MemoryDSN {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{
		db:          db,
		historySize: historySize,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", dbPath).Int("historySize", historySize).Msg("opened store")
	return store, nil
}

func (s *SQLiteStore) init() error {
	nutritionCacheQuery := `
	CREATE TABLE IF NOT EXISTS nutrition_cache (
		label TEXT PRIMARY KEY,
		serving_size TEXT NOT NULL,
		calories TEXT NOT NULL,
		protein TEXT NOT NULL,
		carbohydrates TEXT NOT NULL,
		fat TEXT NOT NULL,
		food_url TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(nutritionCacheQuery)
	if err != nil {
		return fmt.Errorf("failed to create nutrition_cache table: %w", err)
	}

	historyQuery := `
	CREATE TABLE IF NOT EXISTS history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		request_id TEXT,
		source TEXT NOT NULL,
		label TEXT NOT NULL,
		probability REAL NOT NULL,
		calories TEXT,
		protein TEXT,
		carbohydrates TEXT,
		fat TEXT,
		created_at DATETIME NOT NULL
	);
	`
	_, err = s.db.Exec(historyQuery)
	if err != nil {
		return fmt.Errorf("failed to create history table: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetNutrition retrieves a cached nutrition record by label.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetNutrition(label string) (*NutritionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entry NutritionEntry
	var foodURL sql.NullString
	err := s.db.QueryRow(
		"SELECT serving_size, calories, protein, carbohydrates, fat, food_url FROM nutrition_cache WHERE label = ?",
		label,
	).Scan(&entry.ServingSize, &entry.Calories, &entry.Protein, &entry.Carbohydrates, &entry.Fat, &foodURL)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query nutrition cache: %w", err)
	}

	entry.FoodURL = foodURL.String

	return &entry, nil
}

// SetNutrition stores a nutrition record in the cache.
func (s *SQLiteStore) SetNutrition(label string, entry *NutritionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var foodURL sql.NullString
	if entry.FoodURL != "" {
		foodURL = sql.NullString{String: entry.FoodURL, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO nutrition_cache (label, serving_size, calories, protein, carbohydrates, fat, food_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label) DO UPDATE SET
			serving_size = excluded.serving_size,
			calories = excluded.calories,
			protein = excluded.protein,
			carbohydrates = excluded.carbohydrates,
			fat = excluded.fat,
			food_url = excluded.food_url,
			created_at = CURRENT_TIMESTAMP
	`, label, entry.ServingSize, entry.Calories, entry.Protein, entry.Carbohydrates, entry.Fat, foodURL)

	if err != nil {
		return fmt.Errorf("failed to cache nutrition: %w", err)
	}
	return nil
}
