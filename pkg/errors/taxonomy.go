package errors

// Codes for the write-path error taxonomy. Every operation that can fail
// classifies its failure under one of these before it reaches a caller.
var (
	CodeValidationFailure  = MustNewCode("writeengine.validation_failure")
	CodeUnknownTable       = MustNewCode("writeengine.unknown_table")
	CodeIncompatibleSchema = MustNewCode("writeengine.incompatible_schema")
	CodeQueueFull          = MustNewCode("writeengine.queue_full")
	CodeTimeout            = MustNewCode("writeengine.timeout")
	CodeCancelled          = MustNewCode("writeengine.cancelled")
	CodeConcurrentCommit   = MustNewCode("writeengine.concurrent_commit")
	CodeTransientIO        = MustNewCode("writeengine.transient_io")
	CodePermanentIO        = MustNewCode("writeengine.permanent_io")
	CodeInternal           = MustNewCode("writeengine.internal")
)

// retryable holds the set of codes a caller may retry without operator
// intervention. Everything else is terminal for the write that produced it.
var retryable = map[Code]bool{
	CodeQueueFull:        true,
	CodeTimeout:          true,
	CodeConcurrentCommit: true,
	CodeTransientIO:      true,
}

// Classify reports whether err (if it carries one of the writeengine codes)
// should be retried by the caller or treated as terminal.
func Classify(err error) (code Code, retry bool) {
	werr, ok := err.(*Error)
	if !ok {
		return CodeInternal, false
	}
	return werr.Code, retryable[werr.Code]
}

func ValidationFailure(message string) *Error { return New(CodeValidationFailure, message, nil) }
func UnknownTable(table string) *Error {
	return Newf(CodeUnknownTable, "unknown table %q", table).AddContext("table", table)
}
func IncompatibleSchema(message string) *Error { return New(CodeIncompatibleSchema, message, nil) }
func QueueFull(message string) *Error          { return New(CodeQueueFull, message, nil) }
func WriteTimeout(message string) *Error       { return New(CodeTimeout, message, nil) }
func Cancelled(message string) *Error          { return New(CodeCancelled, message, nil) }
func ConcurrentCommit(message string) *Error   { return New(CodeConcurrentCommit, message, nil) }
func TransientIO(message string, cause error) *Error {
	return New(CodeTransientIO, message, cause)
}
func PermanentIO(message string, cause error) *Error {
	return New(CodePermanentIO, message, cause)
}
