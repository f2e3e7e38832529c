package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/lib/pq"
)

// Connection pool tuning for the shared Postgres handle.
const (
	MaxOpenConns    = 25
	MaxIdleConns    = 25
	ConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists records in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store, applying migrations on
// startup. The DSN comes from opts or the DATABASE_DSN environment variable
// resolved by the caller.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetConnMaxLifetime(ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

const pgPracticeColumns = `id, name, website_url, contact_name, email, phone, address,
	hours_json, services_json, insurances_json, emergency_policy, install_help,
	status, revision, deployed_at, created_at, updated_at`

func (s *PostgresStore) CreatePractice(p models.PracticeProfile) error {
	_, err := s.db.Exec(`INSERT INTO practices (`+pgPracticeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.Name, p.WebsiteURL, p.ContactName, p.Email, p.Phone, p.Address,
		marshalJSON(p.Hours), marshalJSON(p.Services), marshalJSON(p.Insurances),
		p.EmergencyPolicy, p.InstallHelp, string(p.Status), p.Revision,
		p.DeployedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreatePractice failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to insert practice %s: %w", p.ID, err)
	}
	slog.Debug("PostgresStore CreatePractice succeeded", "id", p.ID)
	return nil
}

func (s *PostgresStore) GetPractice(id string) (models.PracticeProfile, error) {
	row := s.db.QueryRow(`SELECT `+pgPracticeColumns+` FROM practices WHERE id = $1`, id)
	p, err := scanPractice(row)
	if err == sql.ErrNoRows {
		return models.PracticeProfile{}, models.ErrPracticeNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetPractice failed", "error", err, "id", id)
		return models.PracticeProfile{}, fmt.Errorf("failed to load practice %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPractices() ([]models.PracticeProfile, error) {
	rows, err := s.db.Query(`SELECT ` + pgPracticeColumns + ` FROM practices ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListPractices query failed", "error", err)
		return nil, fmt.Errorf("failed to query practices: %w", err)
	}
	return scanPractices(rows)
}

func (s *PostgresStore) ListActivePractices() ([]models.PracticeProfile, error) {
	rows, err := s.db.Query(`SELECT `+pgPracticeColumns+` FROM practices WHERE status = $1 ORDER BY created_at`,
		string(models.SubscriptionActive))
	if err != nil {
		slog.Error("PostgresStore ListActivePractices query failed", "error", err)
		return nil, fmt.Errorf("failed to query active practices: %w", err)
	}
	return scanPractices(rows)
}

func (s *PostgresStore) UpdateSubscriptionStatus(id string, status models.SubscriptionStatus, revision int64) error {
	res, err := s.db.Exec(`UPDATE practices SET status = $1, revision = revision + 1, updated_at = $2
		WHERE id = $3 AND revision = $4`, string(status), time.Now(), id, revision)
	if err != nil {
		slog.Error("PostgresStore UpdateSubscriptionStatus failed", "error", err, "id", id)
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

func (s *PostgresStore) DeployPractices(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	_, err := s.db.Exec(`UPDATE practices SET deployed_at = $1, updated_at = $2, revision = revision + 1
		WHERE id = ANY($3)`, now, now, pq.Array(ids))
	if err != nil {
		slog.Error("PostgresStore DeployPractices failed", "error", err, "count", len(ids))
		return fmt.Errorf("failed to deploy %d practices: %w", len(ids), err)
	}
	slog.Debug("PostgresStore DeployPractices succeeded", "count", len(ids))
	return nil
}

func (s *PostgresStore) GetPracticeStats() (models.PracticeStats, error) {
	var stats models.PracticeStats
	row := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN deployed_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM practices`)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.Pending, &stats.Deployed); err != nil {
		slog.Error("PostgresStore GetPracticeStats failed", "error", err)
		return stats, fmt.Errorf("failed to aggregate practice stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) AddLead(rec models.IntakeRecord) error {
	_, err := s.db.Exec(`INSERT INTO leads (id, practice_name, website_url, contact_name, email, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.PracticeName, rec.WebsiteURL, rec.ContactName, rec.Email, string(rec.Status), rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddLead failed", "error", err, "email", rec.Email)
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	slog.Debug("PostgresStore AddLead succeeded", "id", rec.ID)
	return nil
}

func (s *PostgresStore) ListLeads() ([]models.IntakeRecord, error) {
	rows, err := s.db.Query(`SELECT id, practice_name, website_url, contact_name, email, status, created_at
		FROM leads ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	return scanLeads(rows)
}

func (s *PostgresStore) AddChatLogEntry(e models.ChatLogEntry) error {
	_, err := s.db.Exec(`INSERT INTO chat_log (id, practice_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`, e.ID, e.PracticeID, e.Role, e.Content, e.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddChatLogEntry failed", "error", err, "practice", e.PracticeID)
		return fmt.Errorf("failed to insert chat log entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChatLog(practiceID string, limit int) ([]models.ChatLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, practice_id, role, content, created_at FROM chat_log
		WHERE practice_id = $1 ORDER BY created_at DESC LIMIT $2`, practiceID, limit)
	if err != nil {
		slog.Error("PostgresStore ListChatLog query failed", "error", err, "practice", practiceID)
		return nil, fmt.Errorf("failed to query chat log: %w", err)
	}
	entries, err := scanChatLog(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *PostgresStore) AddQAPair(q models.QAPair) error {
	_, err := s.db.Exec(`INSERT INTO qa_pairs (id, practice_id, question, answer, created_at)
		VALUES ($1, $2, $3, $4, $5)`, q.ID, q.PracticeID, q.Question, q.Answer, q.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddQAPair failed", "error", err, "practice", q.PracticeID)
		return fmt.Errorf("failed to insert qa pair: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListQAPairs(practiceID string) ([]models.QAPair, error) {
	rows, err := s.db.Query(`SELECT id, practice_id, question, answer, created_at FROM qa_pairs
		WHERE practice_id = $1 ORDER BY created_at`, practiceID)
	if err != nil {
		slog.Error("PostgresStore ListQAPairs query failed", "error", err, "practice", practiceID)
		return nil, fmt.Errorf("failed to query qa pairs: %w", err)
	}
	return scanQAPairs(rows)
}

func (s *PostgresStore) DeleteQAPair(id string) error {
	_, err := s.db.Exec(`DELETE FROM qa_pairs WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteQAPair failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete qa pair %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetFlowState(sessionID string, flowType models.FlowType) (models.FlowState, bool, error) {
	row := s.db.QueryRow(`SELECT session_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE session_id = $1 AND flow_type = $2`, sessionID, string(flowType))
	st, err := scanFlowState(row)
	if err == sql.ErrNoRows {
		return models.FlowState{}, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "session", sessionID)
		return models.FlowState{}, false, fmt.Errorf("failed to load flow state: %w", err)
	}
	return st, true, nil
}

func (s *PostgresStore) SaveFlowState(st models.FlowState) error {
	dataJSON, err := json.Marshal(st.StateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state data: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO flow_states (session_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, flow_type) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			state_data = EXCLUDED.state_data,
			updated_at = EXCLUDED.updated_at`,
		st.SessionID, string(st.FlowType), string(st.CurrentState), string(dataJSON), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "session", st.SessionID)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetFlowState(sessionID string, flowType models.FlowType) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE session_id = $1 AND flow_type = $2`, sessionID, string(flowType))
	if err != nil {
		slog.Error("PostgresStore ResetFlowState failed", "error", err, "session", sessionID)
		return fmt.Errorf("failed to reset flow state: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
