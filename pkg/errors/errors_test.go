package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCode = MustNewCode("test.sample")

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := New(testCode, "boom", nil)

	assert.Equal(t, "boom", err.Message)
	assert.Equal(t, "test.sample", err.Code.String())
	assert.False(t, err.Timestamp.IsZero())
	assert.Nil(t, err.Cause)
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(testCode, "table %s.%s missing", "db", "users")
	assert.Equal(t, "table db.users missing", err.Message)
}

func TestErrorStringIncludesCauseAndContext(t *testing.T) {
	cause := errors.New("disk full")
	err := New(testCode, "write failed", cause).AddContext("table", "users")

	msg := err.Error()
	assert.Contains(t, msg, "write failed")
	assert.Contains(t, msg, "disk full")
	assert.Contains(t, msg, "table=users")
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(testCode, "wrapped", cause)

	require.ErrorIs(t, err, cause)
}

func TestContextAccessors(t *testing.T) {
	err := New(testCode, "oops", nil).AddContext("a", 1).AddContext("b", "two")

	assert.True(t, err.HasContext("a"))
	assert.False(t, err.HasContext("missing"))
	assert.Equal(t, 1, err.GetContext("a"))
	assert.ElementsMatch(t, []string{"a", "b"}, err.GetContextKeys())
}

func TestAddContextOnForeignError(t *testing.T) {
	foreign := errors.New("plain")
	wrapped := AddContext(foreign, "key", "value")

	assert.Equal(t, CommonInternal, wrapped.Code)
	assert.Equal(t, "value", wrapped.GetContext("key"))
}

func TestRecoveryActions(t *testing.T) {
	err := New(testCode, "retryable", nil).
		AddRecoveryAction(RecoveryAction{Type: "retry", Automatic: true}).
		AddRecoveryAction(RecoveryAction{Type: "manual", Automatic: false})

	assert.True(t, err.IsRecoverable())
	assert.Len(t, err.GetAutomaticRecoveryActions(), 1)
}

func TestCodeValidation(t *testing.T) {
	_, err := NewCode("Invalid.Code")
	assert.Error(t, err)

	_, err = NewCode("hasError.code")
	assert.Error(t, err)

	c, err := NewCode("writeengine.queue_full")
	require.NoError(t, err)
	assert.Equal(t, "writeengine", c.Package())
	assert.Equal(t, "queue_full", c.Name())
}

func TestFormatForLogNonWrappedError(t *testing.T) {
	plain := errors.New("plain error")
	assert.Equal(t, "plain error", FormatForLog(plain))
}
