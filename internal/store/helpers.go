package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// marshalJSON serializes v for storage in a JSON text column.
func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("store.marshalJSON: marshal failed", "error", err)
		return "[]"
	}
	return string(b)
}

// scanPractice scans one practice row in column order:
// id, name, website_url, contact_name, email, phone, address, hours_json,
// services_json, insurances_json, emergency_policy, install_help, status,
// revision, deployed_at, created_at, updated_at.
func scanPractice(row rowScanner) (models.PracticeProfile, error) {
	var p models.PracticeProfile
	var hoursJSON, servicesJSON, insurancesJSON string
	var status string
	var deployedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.Name, &p.WebsiteURL, &p.ContactName, &p.Email, &p.Phone, &p.Address,
		&hoursJSON, &servicesJSON, &insurancesJSON, &p.EmergencyPolicy, &p.InstallHelp,
		&status, &p.Revision, &deployedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Status = models.SubscriptionStatus(status)
	if deployedAt.Valid {
		p.DeployedAt = &deployedAt.Time
	}
	if err := json.Unmarshal([]byte(hoursJSON), &p.Hours); err != nil {
		return p, fmt.Errorf("decode hours for practice %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(servicesJSON), &p.Services); err != nil {
		return p, fmt.Errorf("decode services for practice %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(insurancesJSON), &p.Insurances); err != nil {
		return p, fmt.Errorf("decode insurances for practice %s: %w", p.ID, err)
	}
	return p, nil
}

func scanPractices(rows *sql.Rows) ([]models.PracticeProfile, error) {
	defer rows.Close()
	var out []models.PracticeProfile
	for rows.Next() {
		p, err := scanPractice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan practice row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate practice rows: %w", err)
	}
	return out, nil
}

func scanLeads(rows *sql.Rows) ([]models.IntakeRecord, error) {
	defer rows.Close()
	var out []models.IntakeRecord
	for rows.Next() {
		var r models.IntakeRecord
		var status string
		if err := rows.Scan(&r.ID, &r.PracticeName, &r.WebsiteURL, &r.ContactName, &r.Email, &status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		r.Status = models.LeadStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead rows: %w", err)
	}
	return out, nil
}

func scanChatLog(rows *sql.Rows) ([]models.ChatLogEntry, error) {
	defer rows.Close()
	var out []models.ChatLogEntry
	for rows.Next() {
		var e models.ChatLogEntry
		if err := rows.Scan(&e.ID, &e.PracticeID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat log row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat log rows: %w", err)
	}
	return out, nil
}

func scanQAPairs(rows *sql.Rows) ([]models.QAPair, error) {
	defer rows.Close()
	var out []models.QAPair
	for rows.Next() {
		var q models.QAPair
		if err := rows.Scan(&q.ID, &q.PracticeID, &q.Question, &q.Answer, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan qa pair row: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qa pair rows: %w", err)
	}
	return out, nil
}

// scanFlowState decodes one flow_states row; state_data is a JSON object of
// string keys and values.
func scanFlowState(row rowScanner) (models.FlowState, error) {
	var st models.FlowState
	var flowType, currentState, dataJSON string
	err := row.Scan(&st.SessionID, &flowType, &currentState, &dataJSON, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return st, err
	}
	st.FlowType = models.FlowType(flowType)
	st.CurrentState = models.StateType(currentState)
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &st.StateData); err != nil {
			return st, fmt.Errorf("decode state data for session %s: %w", st.SessionID, err)
		}
	}
	return st, nil
}
