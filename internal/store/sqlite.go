package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/ChairsideAI/Chairside/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists records in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{db: db}, nil
}

const sqlitePracticeColumns = `id, name, website_url, contact_name, email, phone, address,
	hours_json, services_json, insurances_json, emergency_policy, install_help,
	status, revision, deployed_at, created_at, updated_at`

func (s *SQLiteStore) CreatePractice(p models.PracticeProfile) error {
	_, err := s.db.Exec(`INSERT INTO practices (`+sqlitePracticeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.WebsiteURL, p.ContactName, p.Email, p.Phone, p.Address,
		marshalJSON(p.Hours), marshalJSON(p.Services), marshalJSON(p.Insurances),
		p.EmergencyPolicy, p.InstallHelp, string(p.Status), p.Revision,
		p.DeployedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreatePractice failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to insert practice %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore CreatePractice succeeded", "id", p.ID)
	return nil
}

func (s *SQLiteStore) GetPractice(id string) (models.PracticeProfile, error) {
	row := s.db.QueryRow(`SELECT `+sqlitePracticeColumns+` FROM practices WHERE id = ?`, id)
	p, err := scanPractice(row)
	if err == sql.ErrNoRows {
		return models.PracticeProfile{}, models.ErrPracticeNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetPractice failed", "error", err, "id", id)
		return models.PracticeProfile{}, fmt.Errorf("failed to load practice %s: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPractices() ([]models.PracticeProfile, error) {
	rows, err := s.db.Query(`SELECT ` + sqlitePracticeColumns + ` FROM practices ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListPractices query failed", "error", err)
		return nil, fmt.Errorf("failed to query practices: %w", err)
	}
	return scanPractices(rows)
}

func (s *SQLiteStore) ListActivePractices() ([]models.PracticeProfile, error) {
	rows, err := s.db.Query(`SELECT `+sqlitePracticeColumns+` FROM practices WHERE status = ? ORDER BY created_at`,
		string(models.SubscriptionActive))
	if err != nil {
		slog.Error("SQLiteStore ListActivePractices query failed", "error", err)
		return nil, fmt.Errorf("failed to query active practices: %w", err)
	}
	return scanPractices(rows)
}

func (s *SQLiteStore) UpdateSubscriptionStatus(id string, status models.SubscriptionStatus, revision int64) error {
	res, err := s.db.Exec(`UPDATE practices SET status = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?`, string(status), time.Now(), id, revision)
	if err != nil {
		slog.Error("SQLiteStore UpdateSubscriptionStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update practice %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetPractice(id); err != nil {
			return err
		}
		return models.ErrRevisionConflict
	}
	return nil
}

func (s *SQLiteStore) DeployPractices(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+2)
	now := time.Now()
	args = append(args, now, now)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Exec(`UPDATE practices SET deployed_at = ?, updated_at = ?, revision = revision + 1
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		slog.Error("SQLiteStore DeployPractices failed", "error", err, "count", len(ids))
		return fmt.Errorf("failed to deploy %d practices: %w", len(ids), err)
	}
	slog.Debug("SQLiteStore DeployPractices succeeded", "count", len(ids))
	return nil
}

func (s *SQLiteStore) GetPracticeStats() (models.PracticeStats, error) {
	var stats models.PracticeStats
	row := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN deployed_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM practices`)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.Pending, &stats.Deployed); err != nil {
		slog.Error("SQLiteStore GetPracticeStats failed", "error", err)
		return stats, fmt.Errorf("failed to aggregate practice stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) AddLead(rec models.IntakeRecord) error {
	_, err := s.db.Exec(`INSERT INTO leads (id, practice_name, website_url, contact_name, email, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PracticeName, rec.WebsiteURL, rec.ContactName, rec.Email, string(rec.Status), rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddLead failed", "error", err, "email", rec.Email)
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	slog.Debug("SQLiteStore AddLead succeeded", "id", rec.ID)
	return nil
}

func (s *SQLiteStore) ListLeads() ([]models.IntakeRecord, error) {
	rows, err := s.db.Query(`SELECT id, practice_name, website_url, contact_name, email, status, created_at
		FROM leads ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	return scanLeads(rows)
}

func (s *SQLiteStore) AddChatLogEntry(e models.ChatLogEntry) error {
	_, err := s.db.Exec(`INSERT INTO chat_log (id, practice_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`, e.ID, e.PracticeID, e.Role, e.Content, e.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddChatLogEntry failed", "error", err, "practice", e.PracticeID)
		return fmt.Errorf("failed to insert chat log entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChatLog(practiceID string, limit int) ([]models.ChatLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, practice_id, role, content, created_at FROM chat_log
		WHERE practice_id = ? ORDER BY created_at DESC LIMIT ?`, practiceID, limit)
	if err != nil {
		slog.Error("SQLiteStore ListChatLog query failed", "error", err, "practice", practiceID)
		return nil, fmt.Errorf("failed to query chat log: %w", err)
	}
	entries, err := scanChatLog(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *SQLiteStore) AddQAPair(q models.QAPair) error {
	_, err := s.db.Exec(`INSERT INTO qa_pairs (id, practice_id, question, answer, created_at)
		VALUES (?, ?, ?, ?, ?)`, q.ID, q.PracticeID, q.Question, q.Answer, q.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddQAPair failed", "error", err, "practice", q.PracticeID)
		return fmt.Errorf("failed to insert qa pair: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListQAPairs(practiceID string) ([]models.QAPair, error) {
	rows, err := s.db.Query(`SELECT id, practice_id, question, answer, created_at FROM qa_pairs
		WHERE practice_id = ? ORDER BY created_at`, practiceID)
	if err != nil {
		slog.Error("SQLiteStore ListQAPairs query failed", "error", err, "practice", practiceID)
		return nil, fmt.Errorf("failed to query qa pairs: %w", err)
	}
	return scanQAPairs(rows)
}

func (s *SQLiteStore) DeleteQAPair(id string) error {
	_, err := s.db.Exec(`DELETE FROM qa_pairs WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteQAPair failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete qa pair %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) GetFlowState(sessionID string, flowType models.FlowType) (models.FlowState, bool, error) {
	row := s.db.QueryRow(`SELECT session_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE session_id = ? AND flow_type = ?`, sessionID, string(flowType))
	st, err := scanFlowState(row)
	if err == sql.ErrNoRows {
		return models.FlowState{}, false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "session", sessionID)
		return models.FlowState{}, false, fmt.Errorf("failed to load flow state: %w", err)
	}
	return st, true, nil
}

func (s *SQLiteStore) SaveFlowState(st models.FlowState) error {
	dataJSON, err := json.Marshal(st.StateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state data: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO flow_states (session_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, flow_type) DO UPDATE SET
			current_state = excluded.current_state,
			state_data = excluded.state_data,
			updated_at = excluded.updated_at`,
		st.SessionID, string(st.FlowType), string(st.CurrentState), string(dataJSON), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "session", st.SessionID)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetFlowState(sessionID string, flowType models.FlowType) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE session_id = ? AND flow_type = ?`, sessionID, string(flowType))
	if err != nil {
		slog.Error("SQLiteStore ResetFlowState failed", "error", err, "session", sessionID)
		return fmt.Errorf("failed to reset flow state: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
