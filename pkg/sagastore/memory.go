package sagastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/director74/sagacore/pkg/saga"
)

// InMemoryStore is the fallback store sanctioned by §9 for tests: it holds
// no durability guarantee across process restart, but gives the exact same
// atomicity and per-saga exclusivity contract as the Postgres-backed store.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]saga.SagaRecord
	// sagaLocks serializes concurrent Update/Create calls on the same
	// sagaId, per §5's per-saga mutual exclusion requirement.
	sagaLocks map[string]*sync.Mutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[string]saga.SagaRecord),
		sagaLocks: make(map[string]*sync.Mutex),
	}
}

func (s *InMemoryStore) lockFor(sagaID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sagaLocks[sagaID]
	if !ok {
		l = &sync.Mutex{}
		s.sagaLocks[sagaID] = l
	}
	return l
}

func (s *InMemoryStore) Create(ctx context.Context, sagaID string, sagaType saga.Type, steps []saga.SagaStep, correlationID string) (saga.SagaRecord, error) {
	lock := s.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, exists := s.records[sagaID]
	s.mu.Unlock()
	if exists {
		return saga.SagaRecord{}, ErrAlreadyExists
	}

	now := time.Now().UTC()
	rec := saga.SagaRecord{
		SagaID:           sagaID,
		SagaType:         sagaType,
		CurrentState:     saga.StateStarted,
		CreatedAt:        now,
		UpdatedAt:        now,
		CorrelationID:    correlationID,
		Steps:            steps,
		CompensationData: map[string]interface{}{},
	}

	s.mu.Lock()
	s.records[sagaID] = rec
	s.mu.Unlock()

	return rec, nil
}

func (s *InMemoryStore) Get(ctx context.Context, sagaID string) (saga.SagaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sagaID]
	if !ok {
		return saga.SagaRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) Update(ctx context.Context, sagaID string, mutate Mutation) (saga.SagaRecord, error) {
	lock := s.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current, ok := s.records[sagaID]
	s.mu.Unlock()
	if !ok {
		return saga.SagaRecord{}, ErrNotFound
	}

	// Give the mutator its own Steps slice so edits it makes to a step are
	// not visible in the stored record unless the mutation is accepted.
	current.Steps = append([]saga.SagaStep(nil), current.Steps...)
	next, transitions, err := mutate(current)
	if err != nil {
		return saga.SagaRecord{}, err
	}

	if next.CurrentState != current.CurrentState && !saga.IsLegalTransition(current.CurrentState, next.CurrentState) {
		return saga.SagaRecord{}, ErrIllegalTransition
	}

	next.UpdatedAt = time.Now().UTC()
	next.Transitions = append(append([]saga.SagaTransition{}, current.Transitions...), transitions...)

	s.mu.Lock()
	s.records[sagaID] = next
	s.mu.Unlock()

	return next, nil
}

func (s *InMemoryStore) GetAll(ctx context.Context) ([]saga.SagaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]saga.SagaRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) GetByState(ctx context.Context, state saga.State) ([]saga.SagaRecord, error) {
	all, _ := s.GetAll(ctx)
	out := make([]saga.SagaRecord, 0)
	for _, rec := range all {
		if rec.CurrentState == state {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetTransitions(ctx context.Context, sagaID string) ([]saga.SagaTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sagaID]
	if !ok {
		return nil, ErrNotFound
	}
	out := append([]saga.SagaTransition{}, rec.Transitions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
