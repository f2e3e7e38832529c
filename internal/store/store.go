// Package store provides storage backends for Chairside.
//
// It includes an in-memory store used in tests and development, plus
// persistent SQLite and PostgreSQL backends selected by DSN.
package store

import (
	"strings"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// Store is the persistence surface shared by the signup pipeline, the chat
// surfaces, and the admin console. The practice-record side is multi-writer
// (signup inserts, admin updates, billing updates); practice mutations carry
// an optimistic revision check.
type Store interface {
	// Practices
	CreatePractice(p models.PracticeProfile) error
	GetPractice(id string) (models.PracticeProfile, error)
	ListPractices() ([]models.PracticeProfile, error)
	ListActivePractices() ([]models.PracticeProfile, error)
	UpdateSubscriptionStatus(id string, status models.SubscriptionStatus, revision int64) error
	DeployPractices(ids []string) error
	GetPracticeStats() (models.PracticeStats, error)

	// Captured leads from the guided intake flow.
	AddLead(rec models.IntakeRecord) error
	ListLeads() ([]models.IntakeRecord, error)

	// Chat message log, written fire-and-forget per practice.
	AddChatLogEntry(e models.ChatLogEntry) error
	ListChatLog(practiceID string, limit int) ([]models.ChatLogEntry, error)

	// Operator-defined Q&A overrides.
	AddQAPair(q models.QAPair) error
	ListQAPairs(practiceID string) ([]models.QAPair, error)
	DeleteQAPair(id string) error

	// Guided-flow session state.
	GetFlowState(sessionID string, flowType models.FlowType) (models.FlowState, bool, error)
	SaveFlowState(st models.FlowState) error
	ResetFlowState(sessionID string, flowType models.FlowType) error

	Close() error
}

// Opts holds configuration for building a store.
type Opts struct {
	DSN string
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths are
// assumed to be SQLite databases.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
