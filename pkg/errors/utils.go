package errors

import (
	"fmt"
	"strings"
)

// FormatForLog renders err as a single log-friendly line.
func FormatForLog(err error) string {
	werr, ok := err.(*Error)
	if !ok {
		return err.Error()
	}

	parts := []string{
		fmt.Sprintf("code=%s", werr.Code),
		fmt.Sprintf("message=%s", werr.Message),
	}

	if keys := werr.GetContextKeys(); len(keys) > 0 {
		var ctxParts []string
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, werr.GetContext(k)))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(ctxParts, " ")))
	}

	if werr.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", werr.Cause))
	}

	return strings.Join(parts, " ")
}
