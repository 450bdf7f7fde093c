package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// InternalError lets a foreign error type declare how it maps onto our Error shape.
type InternalError interface {
	error
	Transform() *Error
}

// Error is the single structured error type used across the module.
type Error struct {
	Code        Code
	Message     string
	Cause       error
	context     map[string]any
	Suggestions []string
	Recovery    []RecoveryAction
	Stack       []Frame
	Timestamp   time.Time
}

// RecoveryAction is an actionable recovery suggestion attached to an Error.
type RecoveryAction struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Automatic   bool   `json:"automatic"`
}

// Frame is one captured stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates an error with the given code and message. cause may be nil.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Stack:     captureStackTrace(),
	}
}

// Newf creates an error with a formatted message and no cause.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// AddContext attaches a key/value pair to err, wrapping it in an *Error first if needed.
func AddContext(err error, key string, value any) *Error {
	if werr, ok := err.(*Error); ok {
		return werr.AddContext(key, value)
	}

	newErr := &Error{
		Code:      CommonInternal,
		Message:   err.Error(),
		Cause:     err,
		Timestamp: time.Now(),
		Stack:     captureStackTrace(),
		context:   make(map[string]any),
	}
	newErr.context[key] = value
	return newErr
}

// AddContext attaches a key/value pair and returns the receiver for chaining.
func (e *Error) AddContext(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value
	return e
}

// Error renders the message, cause and context as a single string.
func (e *Error) Error() string {
	var parts []string

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("%s: %v", e.Message, e.Cause))
	} else {
		parts = append(parts, e.Message)
	}

	if len(e.context) > 0 {
		var contextParts []string
		for key, value := range e.context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, value))
		}
		parts = append(parts, fmt.Sprintf("[%s]", strings.Join(contextParts, " ")))
	}

	return strings.Join(parts, " ")
}

// Unwrap exposes Cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// GetContext returns the value stored under key, or nil.
func (e *Error) GetContext(key string) any {
	if e.context == nil {
		return nil
	}
	return e.context[key]
}

// HasContext reports whether key has been set.
func (e *Error) HasContext(key string) bool {
	if e.context == nil {
		return false
	}
	_, exists := e.context[key]
	return exists
}

// GetContextKeys returns all context keys currently set.
func (e *Error) GetContextKeys() []string {
	if e.context == nil {
		return nil
	}
	keys := make([]string, 0, len(e.context))
	for key := range e.context {
		keys = append(keys, key)
	}
	return keys
}

// AddSuggestion appends a human-readable suggestion and returns the receiver.
func (e *Error) AddSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// AddSuggestions appends multiple suggestions and returns the receiver.
func (e *Error) AddSuggestions(suggestions []string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AddRecoveryAction appends a recovery action and returns the receiver.
func (e *Error) AddRecoveryAction(action RecoveryAction) *Error {
	e.Recovery = append(e.Recovery, action)
	return e
}

// AddRecoveryActions appends multiple recovery actions and returns the receiver.
func (e *Error) AddRecoveryActions(actions []RecoveryAction) *Error {
	e.Recovery = append(e.Recovery, actions...)
	return e
}

// IsRecoverable reports whether any recovery action is automatic.
func (e *Error) IsRecoverable() bool {
	for _, action := range e.Recovery {
		if action.Automatic {
			return true
		}
	}
	return false
}

// GetAutomaticRecoveryActions returns only the automatic recovery actions.
func (e *Error) GetAutomaticRecoveryActions() []RecoveryAction {
	var automatic []RecoveryAction
	for _, action := range e.Recovery {
		if action.Automatic {
			automatic = append(automatic, action)
		}
	}
	return automatic
}

// captureStackTrace walks up to 10 frames above the caller of the New/Newf constructor.
func captureStackTrace() []Frame {
	var frames []Frame
	for i := 2; i < 12; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		name := ""
		if fn != nil {
			name = fn.Name()
		}
		frames = append(frames, Frame{Function: name, File: file, Line: line})
	}
	return frames
}
