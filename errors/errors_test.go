package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormat(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Server", "Init", "open stream topic")
	require.Error(t, err)
	assert.Equal(t, "Server.Init: open stream topic failed: boom", err.Error())
	assert.ErrorIs(t, err, base)

	assert.NoError(t, Wrap(nil, "Server", "Init", "noop"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		check func(error) bool
		class ErrorClass
	}{
		{"transient", WrapTransient, IsTransient, ErrorTransient},
		{"invalid", WrapInvalid, IsInvalid, ErrorInvalid},
		{"fatal", WrapFatal, IsFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(base, "C", "M", "act")
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.class, Classify(err))
			assert.ErrorIs(t, err, base)
		})
	}
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidControl))
	assert.True(t, IsInvalid(ErrMissingField))
	assert.True(t, IsTransient(ErrNoConnection))
	assert.True(t, IsTransient(ErrQueueFull))
	assert.False(t, IsFatal(ErrInvalidControl))
}

func TestTransientPatternMatching(t *testing.T) {
	assert.True(t, IsTransient(stderrors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(stderrors.New("request timeout")))
	assert.False(t, IsInvalid(stderrors.New("request timeout")))
}

func TestNilChecks(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsFatal(nil))
}
