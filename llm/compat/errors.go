package compat

import "fmt"

// ErrCode is a stable string identifying a compatibility-filter failure.
type ErrCode string

const ErrCompatToolTextEmpty ErrCode = "ERR_COMPAT_TOOL_TEXT_EMPTY"

// FilterError is raised when a request cannot be made shape-compliant,
// e.g. an empty tool-role message content (spec §4.6).
type FilterError struct {
	Code    ErrCode
	Message string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("compat[%s]: %s", e.Code, e.Message)
}
