package errors

import (
	"fmt"
	"regexp"
	"strings"
)

// Code is a validated "package.name" error code. The write-path taxonomy
// lives under the writeengine prefix (see taxonomy.go); packages with
// failures of their own declare package-scoped codes at init time, e.g.
// deltalog.corrupt_entry or parquetio.unsupported_codec.
type Code struct {
	value string
}

// Codes for failures that belong to no single package.
var (
	CommonInternal   = MustNewCode("common.internal")
	CommonNotFound   = MustNewCode("common.not_found")
	CommonValidation = MustNewCode("common.validation")
)

var codeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

// NewCode validates s as a "package.name" code.
func NewCode(s string) (Code, error) {
	if !codeRegex.MatchString(s) {
		return Code{}, fmt.Errorf("invalid code format '%s': must be 'package.name' (lowercase, underscores, dots only)", s)
	}

	// "err"/"error" in a code is always redundant; reject it so codes
	// stay terse ("deltalog.corrupt_entry", not "deltalog.parse_error").
	if strings.Contains(s, "error") || strings.Contains(s, "err") {
		return Code{}, fmt.Errorf("invalid code '%s': should not contain 'error' or 'err'", s)
	}

	return Code{value: s}, nil
}

// MustNewCode creates a new Code or panics if invalid. Intended for the
// package-level var blocks where every code in this repository is declared.
func MustNewCode(s string) Code {
	code, err := NewCode(s)
	if err != nil {
		panic(err)
	}
	return code
}

// String returns the string representation of the Code.
func (c Code) String() string {
	return c.value
}

// Package returns the package prefix from the code.
func (c Code) Package() string {
	if idx := strings.Index(c.value, "."); idx != -1 {
		return c.value[:idx]
	}
	return ""
}

// Name returns the name part from the code.
func (c Code) Name() string {
	if idx := strings.Index(c.value, "."); idx != -1 {
		return c.value[idx+1:]
	}
	return c.value
}
