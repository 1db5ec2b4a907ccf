package sagastore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/director74/sagacore/pkg/saga"
)

// PostgresStore is the durable SSS implementation, adapted from the
// teacher's saga_state_repository.go: Save with Omit(clause.Associations),
// RowsAffected checks standing in for optimistic-miss detection, and
// gorm.ErrRecordNotFound surfaced as sagastore.ErrNotFound.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, sagaID string, sagaType saga.Type, steps []saga.SagaStep, correlationID string) (saga.SagaRecord, error) {
	rec := saga.SagaRecord{
		SagaID:           sagaID,
		SagaType:         sagaType,
		CurrentState:     saga.StateStarted,
		Steps:            steps,
		CorrelationID:    correlationID,
		CompensationData: map[string]interface{}{},
	}

	row, err := toRow(rec)
	if err != nil {
		return saga.SagaRecord{}, err
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return saga.SagaRecord{}, ErrAlreadyExists
		}
		return saga.SagaRecord{}, fmt.Errorf("create saga %s: %w", sagaID, err)
	}

	return fromRow(row)
}

func (s *PostgresStore) Get(ctx context.Context, sagaID string) (saga.SagaRecord, error) {
	var row sagaRow
	if err := s.db.WithContext(ctx).First(&row, "saga_id = ?", sagaID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return saga.SagaRecord{}, ErrNotFound
		}
		return saga.SagaRecord{}, fmt.Errorf("get saga %s: %w", sagaID, err)
	}

	rec, err := fromRow(row)
	if err != nil {
		return saga.SagaRecord{}, err
	}

	transitions, err := s.GetTransitions(ctx, sagaID)
	if err != nil {
		return saga.SagaRecord{}, err
	}
	rec.Transitions = transitions

	return rec, nil
}

// Update applies mutate under a row-level lock (SELECT ... FOR UPDATE),
// giving the per-saga exclusivity §5 requires without a separate in-process
// keyed mutex: two concurrent Updates on the same sagaId serialize on the
// database row.
func (s *PostgresStore) Update(ctx context.Context, sagaID string, mutate Mutation) (saga.SagaRecord, error) {
	var result saga.SagaRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sagaRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "saga_id = ?", sagaID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock saga %s: %w", sagaID, err)
		}

		var trow []transitionRow
		if err := tx.Where("saga_id = ?", sagaID).Order("timestamp asc").Find(&trow).Error; err != nil {
			return fmt.Errorf("load transitions for saga %s: %w", sagaID, err)
		}

		current, err := fromRow(row)
		if err != nil {
			return err
		}
		for _, t := range trow {
			current.Transitions = append(current.Transitions, fromTransitionRow(t))
		}

		next, newTransitions, err := mutate(current)
		if err != nil {
			return err
		}

		if next.CurrentState != current.CurrentState && !saga.IsLegalTransition(current.CurrentState, next.CurrentState) {
			return ErrIllegalTransition
		}

		nextRow, err := toRow(next)
		if err != nil {
			return err
		}

		saveResult := tx.Omit(clause.Associations).Save(&nextRow)
		if saveResult.Error != nil {
			return fmt.Errorf("save saga %s: %w", sagaID, saveResult.Error)
		}
		if saveResult.RowsAffected == 0 {
			return ErrNotFound
		}

		for _, t := range newTransitions {
			tr := toTransitionRow(t)
			if err := tx.Create(&tr).Error; err != nil {
				return fmt.Errorf("append transition for saga %s: %w", sagaID, err)
			}
		}

		next.Transitions = append(current.Transitions, newTransitions...)
		result = next
		return nil
	})

	if err != nil {
		return saga.SagaRecord{}, err
	}
	return result, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]saga.SagaRecord, error) {
	var rows []sagaRow
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}

	out := make([]saga.SagaRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) GetByState(ctx context.Context, state saga.State) ([]saga.SagaRecord, error) {
	var rows []sagaRow
	if err := s.db.WithContext(ctx).Where("current_state = ?", string(state)).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sagas by state %s: %w", state, err)
	}

	out := make([]saga.SagaRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) GetTransitions(ctx context.Context, sagaID string) ([]saga.SagaTransition, error) {
	var rows []transitionRow
	if err := s.db.WithContext(ctx).Where("saga_id = ?", sagaID).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list transitions for saga %s: %w", sagaID, err)
	}

	out := make([]saga.SagaTransition, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTransitionRow(row))
	}
	return out, nil
}
