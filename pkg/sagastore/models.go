// Package sagastore implements the Saga State Store (SSS, §4.2): durable
// persistence of SagaRecord and SagaTransition with per-saga atomic
// updates, plus an in-memory fallback sanctioned for tests by §9's design
// notes.
package sagastore

import (
	"time"

	"gorm.io/datatypes"

	"github.com/director74/sagacore/pkg/saga"
)

// sagaRow is the GORM model backing the `sagas` table. Steps and
// CompensationData are stored as JSONB; the transition log lives in its own
// table keyed by (sagaId, timestamp, transitionId) as required by §6.
type sagaRow struct {
	SagaID           string `gorm:"primaryKey;column:saga_id"`
	SagaType         string `gorm:"column:saga_type;index"`
	CurrentState     string `gorm:"column:current_state;index"`
	CreatedAt        time.Time `gorm:"column:created_at;index"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
	ErrorMessage     string `gorm:"column:error_message"`
	CorrelationID    string `gorm:"column:correlation_id"`
	Steps            datatypes.JSON `gorm:"column:steps"`
	CompensationData datatypes.JSONMap `gorm:"column:compensation_data"`
	HasCompensationFailures bool `gorm:"column:has_compensation_failures"`
}

func (sagaRow) TableName() string { return "sagas" }

// transitionRow is the GORM model backing `saga_transitions`.
type transitionRow struct {
	TransitionID string `gorm:"primaryKey;column:transition_id"`
	SagaID       string `gorm:"primaryKey;column:saga_id;index"`
	FromState    string `gorm:"column:from_state"`
	ToState      string `gorm:"column:to_state"`
	ServiceName  string `gorm:"column:service_name"`
	Action       string `gorm:"column:action"`
	EventType    string `gorm:"column:event_type"`
	Message      string `gorm:"column:message"`
	Data         datatypes.JSONMap `gorm:"column:data"`
	Timestamp    time.Time `gorm:"primaryKey;column:timestamp;index"`
}

func (transitionRow) TableName() string { return "saga_transitions" }

// Models returns every GORM model the store needs migrated, for callers
// wiring database.AutoMigrateWithCleanup.
func Models() []interface{} {
	return []interface{}{&sagaRow{}, &transitionRow{}}
}
