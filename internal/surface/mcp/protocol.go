// Package mcp implements the MCP stdio tool server (C9): a line-delimited
// JSON-RPC loop over stdin/stdout exposing memory_search, memory_inject,
// memory_status, memory_health and memory_cross_project_search (spec.md
// §6).
//
// Grounded on other_examples/10626e50_JACTERK-go-mcp-server for the
// log-to-stderr-never-stdout discipline; the wire format itself is
// hand-rolled against pkg/utils/json (the teacher's sonic wrapper) rather
// than github.com/mark3labs/mcp-go, since that SDK's capability-negotiation
// and session model target the full MCP client handshake while spec §6
// names five fixed tools and an exact error envelope (justified in
// DESIGN.md).
package mcp

import "encoding/json"

// Request is one line of the stdio JSON-RPC stream.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one reply line. Exactly one of Result/Error is set.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the `{error:{code,message}}` envelope named in spec.md §6.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes from spec.md §7's taxonomy.
const (
	CodeValidation          = "VALIDATION"
	CodeNotFound            = "NOT_FOUND"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeConsistencyViolation = "CONSISTENCY_VIOLATION"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeCancelled           = "CANCELLED"
	CodeDeadlineExceeded    = "DEADLINE_EXCEEDED"
	CodeInternal            = "INTERNAL"
)

// toolError wraps an error with the coded classification the error
// taxonomy (spec.md §7) requires; handlers return this (not a raw error)
// whenever they want to control which code reaches the wire.
type toolError struct {
	code    string
	message string
}

func (e *toolError) Error() string { return e.message }

func newToolError(code, message string) *toolError {
	return &toolError{code: code, message: message}
}
