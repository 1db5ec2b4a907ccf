package sagastore

import (
	"encoding/json"
	"fmt"

	"github.com/director74/sagacore/pkg/saga"
)

// stepDTO is the JSON-serializable shape of saga.SagaStep stored in the
// sagaRow.Steps column.
type stepDTO struct {
	StepNumber       int                    `json:"stepNumber"`
	StepName         string                 `json:"stepName"`
	ServiceName      string                 `json:"serviceName"`
	Status           string                 `json:"status"`
	StartedAt        *int64                 `json:"startedAt,omitempty"`
	CompletedAt      *int64                 `json:"completedAt,omitempty"`
	FailedAt         *int64                 `json:"failedAt,omitempty"`
	CompensatedAt    *int64                 `json:"compensatedAt,omitempty"`
	StepData         map[string]interface{} `json:"stepData,omitempty"`
	CompensationData map[string]interface{} `json:"compensationData,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
}

func toRow(rec saga.SagaRecord) (sagaRow, error) {
	steps := make([]stepDTO, 0, len(rec.Steps))
	for _, s := range rec.Steps {
		steps = append(steps, stepDTO{
			StepNumber:       s.StepNumber,
			StepName:         s.StepName,
			ServiceName:      s.ServiceName,
			Status:           string(s.Status),
			StartedAt:        unixPtr(s.StartedAt),
			CompletedAt:      unixPtr(s.CompletedAt),
			FailedAt:         unixPtr(s.FailedAt),
			CompensatedAt:    unixPtr(s.CompensatedAt),
			StepData:         s.StepData,
			CompensationData: s.CompensationData,
			ErrorMessage:     s.ErrorMessage,
		})
	}

	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return sagaRow{}, fmt.Errorf("marshal steps for saga %s: %w", rec.SagaID, err)
	}

	return sagaRow{
		SagaID:                  rec.SagaID,
		SagaType:                string(rec.SagaType),
		CurrentState:            string(rec.CurrentState),
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
		CompletedAt:             rec.CompletedAt,
		ErrorMessage:            rec.ErrorMessage,
		CorrelationID:           rec.CorrelationID,
		Steps:                   stepsJSON,
		CompensationData:        rec.CompensationData,
		HasCompensationFailures: rec.HasCompensationFailures,
	}, nil
}

func fromRow(row sagaRow) (saga.SagaRecord, error) {
	var dtos []stepDTO
	if len(row.Steps) > 0 {
		if err := json.Unmarshal(row.Steps, &dtos); err != nil {
			return saga.SagaRecord{}, fmt.Errorf("unmarshal steps for saga %s: %w", row.SagaID, err)
		}
	}

	steps := make([]saga.SagaStep, 0, len(dtos))
	for _, d := range dtos {
		steps = append(steps, saga.SagaStep{
			StepNumber:       d.StepNumber,
			StepName:         d.StepName,
			ServiceName:      d.ServiceName,
			Status:           saga.StepStatus(d.Status),
			StartedAt:        timePtr(d.StartedAt),
			CompletedAt:      timePtr(d.CompletedAt),
			FailedAt:         timePtr(d.FailedAt),
			CompensatedAt:    timePtr(d.CompensatedAt),
			StepData:         d.StepData,
			CompensationData: d.CompensationData,
			ErrorMessage:     d.ErrorMessage,
		})
	}

	return saga.SagaRecord{
		SagaID:                  row.SagaID,
		SagaType:                saga.Type(row.SagaType),
		CurrentState:            saga.State(row.CurrentState),
		CreatedAt:               row.CreatedAt,
		UpdatedAt:               row.UpdatedAt,
		CompletedAt:             row.CompletedAt,
		ErrorMessage:            row.ErrorMessage,
		CorrelationID:           row.CorrelationID,
		Steps:                   steps,
		CompensationData:        map[string]interface{}(row.CompensationData),
		HasCompensationFailures: row.HasCompensationFailures,
	}, nil
}

func toTransitionRow(t saga.SagaTransition) transitionRow {
	return transitionRow{
		TransitionID: t.TransitionID,
		SagaID:       t.SagaID,
		FromState:    string(t.FromState),
		ToState:      string(t.ToState),
		ServiceName:  t.ServiceName,
		Action:       t.Action,
		EventType:    string(t.EventType),
		Message:      t.Message,
		Data:         t.Data,
		Timestamp:    t.Timestamp,
	}
}

func fromTransitionRow(r transitionRow) saga.SagaTransition {
	return saga.SagaTransition{
		TransitionID: r.TransitionID,
		SagaID:       r.SagaID,
		FromState:    saga.State(r.FromState),
		ToState:      saga.State(r.ToState),
		ServiceName:  r.ServiceName,
		Action:       r.Action,
		EventType:    saga.TransitionEvent(r.EventType),
		Message:      r.Message,
		Data:         map[string]interface{}(r.Data),
		Timestamp:    r.Timestamp,
	}
}
