package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateOffered, StateConfirmed, true},
		{StateOffered, StateExpired, true},
		{StateOffered, StateCancelled, true},
		{StateOffered, StateExecuting, false},
		{StateConfirmed, StateExecuting, true},
		{StateConfirmed, StateExpired, true},
		{StateConfirmed, StateOffered, false},
		{StateExecuting, StateSucceeded, true},
		{StateExecuting, StateFailed, true},
		{StateExecuting, StateCancelled, false},
		{StateSucceeded, StateFailed, false},
		{StateCancelled, StateConfirmed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{StateSucceeded, StateFailed, StateExpired, StateCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateOffered, StateConfirmed, StateExecuting} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestValidateState(t *testing.T) {
	assert.NoError(t, ValidateState(StateExecuting))
	assert.Error(t, ValidateState("paused"))
}
