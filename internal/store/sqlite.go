package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tetraminz/chatlog_audit/internal/classify"
	"github.com/tetraminz/chatlog_audit/internal/compute"
)

const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS comparison_records (
	id TEXT PRIMARY KEY,
	uploaded_at_utc TEXT NOT NULL,
	avg_hallucination_score REAL NOT NULL,
	avg_over_reliance_score REAL NOT NULL,
	most_common_purpose TEXT NOT NULL,
	total_files INTEGER NOT NULL,
	total_turns INTEGER NOT NULL,
	payload_json TEXT NOT NULL
)`

const createLLMEventsTableSQL = `
CREATE TABLE IF NOT EXISTS llm_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at_utc TEXT NOT NULL,
	session_name TEXT NOT NULL,
	turn_index INTEGER NOT NULL,
	unit_name TEXT NOT NULL,
	model TEXT NOT NULL,
	request_text TEXT NOT NULL,
	response_json TEXT NOT NULL,
	parse_ok INTEGER NOT NULL,
	validation_ok INTEGER NOT NULL,
	error_message TEXT NOT NULL
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_comparison_records_uploaded ON comparison_records(uploaded_at_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_events_lookup ON llm_events(session_name, turn_index, unit_name)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_events_parse_validation ON llm_events(parse_ok, validation_ok)`,
}

const dropRecordsSQL = `DROP TABLE IF EXISTS comparison_records`
const dropLLMEventsSQL = `DROP TABLE IF EXISTS llm_events`

const insertRecordSQL = `
INSERT INTO comparison_records (
	id,
	uploaded_at_utc,
	avg_hallucination_score,
	avg_over_reliance_score,
	most_common_purpose,
	total_files,
	total_turns,
	payload_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecordsSQL = `
SELECT id, uploaded_at_utc, payload_json
FROM comparison_records
ORDER BY uploaded_at_utc, id`

const insertLLMEventSQL = `
INSERT INTO llm_events (
	created_at_utc,
	session_name,
	turn_index,
	unit_name,
	model,
	request_text,
	response_json,
	parse_ok,
	validation_ok,
	error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const eventStatsSQL = `
SELECT unit_name,
	COUNT(*),
	COALESCE(SUM(CASE WHEN parse_ok = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN parse_ok = 1 AND validation_ok = 0 THEN 1 ELSE 0 END), 0)
FROM llm_events
GROUP BY unit_name
ORDER BY unit_name`

// SQLiteStore keeps comparison records and llm_events in one database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens dbPath and verifies the schema. Missing tables are
// created; tables with missing columns are rejected.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetupSQLite drops and recreates every table in dbPath.
func SetupSQLite(dbPath string) error {
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	db, err := openSQLite(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(dropRecordsSQL); err != nil {
		return fmt.Errorf("drop comparison_records table: %w", err)
	}
	if _, err := db.Exec(dropLLMEventsSQL); err != nil {
		return fmt.Errorf("drop llm_events table: %w", err)
	}
	return ensureSchema(db)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store inserts record under a fresh UUID and returns the id.
func (s *SQLiteStore) Store(ctx context.Context, record compute.Record) (string, error) {
	if s == nil || s.db == nil {
		return "", unavailable("store record", fmt.Errorf("sqlite store is not initialized"))
	}

	record.ID = uuid.NewString()
	if record.UploadedAt.IsZero() {
		record.UploadedAt = s.now().UTC()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	if _, err := s.db.ExecContext(
		ctx,
		insertRecordSQL,
		record.ID,
		record.UploadedAt.UTC().Format(time.RFC3339Nano),
		record.AvgHallucinationScore,
		record.AvgOverRelianceScore,
		record.MostCommonPurpose,
		record.TotalFiles,
		record.TotalTurns,
		string(payload),
	); err != nil {
		return "", unavailable("insert record", err)
	}
	return record.ID, nil
}

// FetchAll returns every record in upload order.
func (s *SQLiteStore) FetchAll(ctx context.Context) ([]compute.Record, error) {
	if s == nil || s.db == nil {
		return nil, unavailable("fetch records", fmt.Errorf("sqlite store is not initialized"))
	}

	rows, err := s.db.QueryContext(ctx, selectRecordsSQL)
	if err != nil {
		return nil, unavailable("query records", err)
	}
	defer rows.Close()

	records := make([]compute.Record, 0, 64)
	for rows.Next() {
		var id, uploadedAt, payload string
		if err := rows.Scan(&id, &uploadedAt, &payload); err != nil {
			return nil, unavailable("scan record", err)
		}
		var record compute.Record
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, unavailable("decode record "+id, err)
		}
		record.ID = id
		if parsed, err := time.Parse(time.RFC3339Nano, uploadedAt); err == nil {
			record.UploadedAt = parsed
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate records", err)
	}
	return records, nil
}

// RecordEvent writes one oracle audit row.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event classify.Event) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	responseJSON := strings.TrimSpace(event.ResponseJSON)
	if responseJSON == "" {
		responseJSON = "{}"
	}

	if _, err := s.db.ExecContext(
		ctx,
		insertLLMEventSQL,
		s.now().UTC().Format(time.RFC3339),
		strings.TrimSpace(event.SessionName),
		event.TurnIndex,
		strings.TrimSpace(event.Unit),
		strings.TrimSpace(event.Model),
		event.RequestText,
		responseJSON,
		boolToInt(event.ParseOK),
		boolToInt(event.ValidationOK),
		strings.TrimSpace(event.ErrorMessage),
	); err != nil {
		return fmt.Errorf("insert llm event: %w", err)
	}
	return nil
}

// EventStats counts audited oracle calls for one unit.
type EventStats struct {
	Unit          string
	Calls         int
	ParseFailures int
	Normalized    int
}

// EventStats aggregates llm_events per unit.
func (s *SQLiteStore) EventStats(ctx context.Context) ([]EventStats, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlite store is not initialized")
	}
	rows, err := s.db.QueryContext(ctx, eventStatsSQL)
	if err != nil {
		return nil, fmt.Errorf("query llm_events stats: %w", err)
	}
	defer rows.Close()

	var stats []EventStats
	for rows.Next() {
		var row EventStats
		if err := rows.Scan(&row.Unit, &row.Calls, &row.ParseFailures, &row.Normalized); err != nil {
			return nil, fmt.Errorf("scan llm_events stats: %w", err)
		}
		stats = append(stats, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate llm_events stats: %w", err)
	}
	return stats, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(createRecordsTableSQL); err != nil {
		return fmt.Errorf("create comparison_records table: %w", err)
	}
	if _, err := db.Exec(createLLMEventsTableSQL); err != nil {
		return fmt.Errorf("create llm_events table: %w", err)
	}

	for _, table := range []struct {
		name     string
		required []string
	}{
		{name: "comparison_records", required: requiredRecordColumns()},
		{name: "llm_events", required: requiredLLMEventColumns()},
	} {
		missing, err := missingTableColumns(db, table.name, table.required)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf(
				"incompatible %s schema, missing columns: %s; run `chatlog_audit setup --db <path>`",
				table.name,
				strings.Join(missing, ", "),
			)
		}
	}

	for _, stmt := range createIndexesSQL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func requiredRecordColumns() []string {
	return []string{
		"id",
		"uploaded_at_utc",
		"avg_hallucination_score",
		"avg_over_reliance_score",
		"most_common_purpose",
		"total_files",
		"total_turns",
		"payload_json",
	}
}

func requiredLLMEventColumns() []string {
	return []string{
		"id",
		"created_at_utc",
		"session_name",
		"turn_index",
		"unit_name",
		"model",
		"request_text",
		"response_json",
		"parse_ok",
		"validation_ok",
		"error_message",
	}
}

func missingTableColumns(db *sql.DB, tableName string, required []string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, fmt.Errorf("inspect %s schema: %w", tableName, err)
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name string
		var colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s schema: %w", tableName, err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s schema: %w", tableName, err)
	}

	var missing []string
	for _, col := range required {
		if _, ok := existing[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
