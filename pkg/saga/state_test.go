package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLegalTransition(t *testing.T) {
	cases := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"store validated to stock reserved", StateStoreValidated, StateStockReserved, true},
		{"stock reserved to total calculated", StateStockReserved, StateTotalCalculated, true},
		{"total calculated to sale created", StateTotalCalculated, StateSaleCreated, true},
		{"sale created to stock confirmed", StateSaleCreated, StateStockConfirmed, true},
		{"stock confirmed to completed", StateStockConfirmed, StateCompleted, true},
		{"started to stock confirmed (stock-update shortcut)", StateStarted, StateStockConfirmed, true},
		{"started to in-progress (choreography entry)", StateStarted, StateInProgress, true},
		{"any in-flight state to compensating", StateStockReserved, StateCompensating, true},
		{"compensating to compensated", StateCompensating, StateCompensated, true},
		{"compensating to failed", StateCompensating, StateFailed, true},
		{"compensating to aborted", StateCompensating, StateAborted, true},
		{"completed to compensating (operator replay)", StateCompleted, StateCompensating, true},
		{"compensated to compensating (operator replay)", StateCompensated, StateCompensating, true},
		{"failed to compensating (operator retry)", StateFailed, StateCompensating, true},
		{"skip a hop is illegal", StateStoreValidated, StateSaleCreated, false},
		{"reverse of a legal edge is illegal", StateStockReserved, StateStoreValidated, false},
		{"same state is never legal", StateStockReserved, StateStockReserved, false},
		{"completed to anything but compensating is illegal", StateCompleted, StateStarted, false},
		{"unknown origin has no edges", StateAborted, StateCompleted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsLegalTransition(tc.from, tc.to))
		})
	}
}

func TestIsLegalStepTransition(t *testing.T) {
	cases := []struct {
		name string
		from StepStatus
		to   StepStatus
		want bool
	}{
		{"pending to in-progress", StepPending, StepInProgress, true},
		{"in-progress to completed", StepInProgress, StepCompleted, true},
		{"in-progress to failed", StepInProgress, StepFailed, true},
		{"completed to compensated", StepCompleted, StepCompensated, true},
		{"pending to completed skips a hop", StepPending, StepCompleted, false},
		{"failed has no outgoing edges", StepFailed, StepCompensated, false},
		{"compensated is terminal", StepCompensated, StepCompleted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsLegalStepTransition(tc.from, tc.to))
		})
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := []State{StateCompleted, StateCompensated, StateFailed, StateAborted}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []State{StateStarted, StateStoreValidated, StateCompensating, StateInProgress, StateStockVerifying}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestUnifiedView(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateStarted, "Started"},
		{StateInProgress, "Started"},
		{StateStoreValidated, "InProgress"},
		{StateStockReserving, "InProgress"},
		{StateStockConfirmed, "InProgress"},
		{StateCompleted, "Completed"},
		{StateFailed, "Failed"},
		{StateCompensating, "Compensating"},
		{StateCompensated, "Compensated"},
		{StateAborted, "Compensated"},
	}

	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			assert.Equal(t, tc.want, UnifiedView(tc.state))
		})
	}
}
