// Package gwerrors implements the gateway's closed error taxonomy: a
// single tagged struct carrying a stable code, severity, recoverability,
// operational context, and recovery suggestions, with renderers for the
// three user-visible shapes this module requires (XML tool-result, log
// object, JSON API body).
package gwerrors

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// Code is a stable identifier drawn from the closed taxonomy in §7.
type Code string

const (
	CodeDatabaseInit              Code = "DatabaseInit"
	CodeDatabaseBusy               Code = "DatabaseBusy"
	CodeDatabaseCorrupt             Code = "DatabaseCorrupt"
	CodeMemorySaveFailed            Code = "MemorySaveFailed"
	CodeMemoryRecallFailed          Code = "MemoryRecallFailed"
	CodeEmbeddingAPIError           Code = "EmbeddingApiError"
	CodeEmbeddingRateLimited        Code = "EmbeddingRateLimited"
	CodeEmbeddingNetworkError       Code = "EmbeddingNetworkError"
	CodeContextBudgetOverflow       Code = "ContextBudgetOverflow"
	CodeSubAgentDepthExceeded       Code = "SubAgentDepthExceeded"
	CodeSubAgentExecutionFailed     Code = "SubAgentExecutionFailed"
	CodeRouterFailedSelection       Code = "RouterFailedSelection"
	CodeAPIRateLimited              Code = "ApiRateLimited"
	CodeAPIAuthFailed               Code = "ApiAuthFailed"
	CodeAPITimeout                  Code = "ApiTimeout"
	CodeToolValidationFailed        Code = "ToolValidationFailed"
	CodeToolTransformationFailed    Code = "ToolTransformationFailed"
	CodeStreamPrematureClose        Code = "StreamPrematureClose"
	CodeValidationError             Code = "ValidationError"
	CodeInternalError               Code = "InternalError"
)

// Severity ranks how serious an error is.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
	SeverityFatal  Severity = "Fatal"
)

// Context records where and in what operation an error occurred.
type Context struct {
	Component string
	Operation string
	Details   map[string]any
}

// GatewayError is the single tagged-error shape used across the gateway,
// following the established ToolError/LoopError pattern: a typed struct
// with a stable Code, a wrapped Cause, and builder-style With* methods.
type GatewayError struct {
	Code        Code
	Severity    Severity
	Recoverable bool
	Ctx         Context
	Suggestions []string
	Cause       error
	Message     string
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *GatewayError) Unwrap() error { return e.Cause }

// WithContext sets the component/operation context.
func (e *GatewayError) WithContext(component, operation string) *GatewayError {
	e.Ctx.Component = component
	e.Ctx.Operation = operation
	return e
}

// WithDetail adds one key to the context's details map.
func (e *GatewayError) WithDetail(key string, value any) *GatewayError {
	if e.Ctx.Details == nil {
		e.Ctx.Details = make(map[string]any)
	}
	e.Ctx.Details[key] = value
	return e
}

// WithSuggestion appends a recovery suggestion.
func (e *GatewayError) WithSuggestion(s string) *GatewayError {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

func newErr(code Code, severity Severity, recoverable bool, message string, cause error) *GatewayError {
	return &GatewayError{
		Code:        code,
		Severity:    severity,
		Recoverable: recoverable,
		Message:     message,
		Cause:       cause,
	}
}

// New<Code>Error constructors, one per taxonomy entry, mirroring the
// teacher's NewToolError shape.

func NewDatabaseInitError(message string, cause error) *GatewayError {
	return newErr(CodeDatabaseInit, SeverityFatal, false, message, cause)
}

func NewDatabaseBusyError(message string, cause error) *GatewayError {
	return newErr(CodeDatabaseBusy, SeverityMedium, true, message, cause)
}

func NewDatabaseCorruptError(message string, cause error) *GatewayError {
	return newErr(CodeDatabaseCorrupt, SeverityFatal, false, message, cause)
}

func NewMemorySaveFailedError(message string, cause error) *GatewayError {
	return newErr(CodeMemorySaveFailed, SeverityMedium, true, message, cause)
}

func NewMemoryRecallFailedError(message string, cause error) *GatewayError {
	return newErr(CodeMemoryRecallFailed, SeverityMedium, true, message, cause)
}

func NewEmbeddingAPIError(message string, cause error) *GatewayError {
	return newErr(CodeEmbeddingAPIError, SeverityMedium, true, message, cause)
}

func NewEmbeddingRateLimitedError(message string, cause error) *GatewayError {
	return newErr(CodeEmbeddingRateLimited, SeverityLow, true, message, cause)
}

func NewEmbeddingNetworkError(message string, cause error) *GatewayError {
	return newErr(CodeEmbeddingNetworkError, SeverityMedium, true, message, cause)
}

func NewContextBudgetOverflowError(message string) *GatewayError {
	return newErr(CodeContextBudgetOverflow, SeverityLow, true, message, nil)
}

func NewSubAgentDepthExceededError(message string) *GatewayError {
	return newErr(CodeSubAgentDepthExceeded, SeverityMedium, false, message, nil)
}

func NewSubAgentExecutionFailedError(message string, cause error) *GatewayError {
	return newErr(CodeSubAgentExecutionFailed, SeverityMedium, true, message, cause)
}

func NewRouterFailedSelectionError(message string) *GatewayError {
	return newErr(CodeRouterFailedSelection, SeverityHigh, false, message, nil)
}

func NewAPIRateLimitedError(message string, cause error) *GatewayError {
	return newErr(CodeAPIRateLimited, SeverityLow, true, message, cause)
}

func NewAPIAuthFailedError(message string, cause error) *GatewayError {
	return newErr(CodeAPIAuthFailed, SeverityHigh, false, message, cause)
}

func NewAPITimeoutError(message string, cause error) *GatewayError {
	return newErr(CodeAPITimeout, SeverityMedium, true, message, cause)
}

func NewToolValidationFailedError(message string) *GatewayError {
	return newErr(CodeToolValidationFailed, SeverityHigh, false, message, nil)
}

func NewToolTransformationFailedError(message string, cause error) *GatewayError {
	return newErr(CodeToolTransformationFailed, SeverityMedium, false, message, cause)
}

func NewStreamPrematureCloseError(message string) *GatewayError {
	return newErr(CodeStreamPrematureClose, SeverityLow, true, message, nil)
}

func NewValidationError(message string) *GatewayError {
	return newErr(CodeValidationError, SeverityMedium, false, message, nil)
}

func NewInternalError(message string, cause error) *GatewayError {
	return newErr(CodeInternalError, SeverityHigh, false, message, cause)
}

// HTTPStatus maps a code to the status the gateway responds with when
// the error is surfaced directly to an HTTP caller.
func (e *GatewayError) HTTPStatus() int {
	switch e.Code {
	case CodeToolValidationFailed, CodeValidationError:
		return http.StatusBadRequest
	case CodeAPIAuthFailed:
		return http.StatusUnauthorized
	case CodeAPIRateLimited, CodeEmbeddingRateLimited:
		return http.StatusTooManyRequests
	case CodeAPITimeout:
		return http.StatusGatewayTimeout
	case CodeSubAgentDepthExceeded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// toolResultXML is the shape `<error code="…"><message>…</message></error>`
// renders into via encoding/xml.
type toolResultXML struct {
	XMLName xml.Name `xml:"error"`
	Code    Code     `xml:"code,attr"`
	Message string   `xml:"message"`
}

// RenderToolResult renders the error as the XML element used when a tool
// handler fails inside the streaming loop (§7).
func (e *GatewayError) RenderToolResult() string {
	out, err := xml.Marshal(toolResultXML{Code: e.Code, Message: e.Message})
	if err != nil {
		return fmt.Sprintf("<error code=%q><message>%s</message></error>", e.Code, e.Message)
	}
	return string(out)
}

// APIBody is the `{error:{type,message,details?}}` JSON shape.
type APIBody struct {
	Error APIBodyError `json:"error"`
}

// APIBodyError is the nested error object of APIBody.
type APIBodyError struct {
	Type    Code           `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RenderAPIBody renders the JSON-API error shape.
func (e *GatewayError) RenderAPIBody() APIBody {
	return APIBody{Error: APIBodyError{
		Type:    e.Code,
		Message: e.Message,
		Details: e.Ctx.Details,
	}}
}

// LogObject is the structured object logged for an error, distinct from
// the wire renderings above.
type LogObject struct {
	Code        Code           `json:"code"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Component   string         `json:"component,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Message     string         `json:"message"`
	Cause       string         `json:"cause,omitempty"`
}

// RenderLog renders the structured-logging shape.
func (e *GatewayError) RenderLog() LogObject {
	obj := LogObject{
		Code:        e.Code,
		Severity:    e.Severity,
		Recoverable: e.Recoverable,
		Component:   e.Ctx.Component,
		Operation:   e.Ctx.Operation,
		Details:     e.Ctx.Details,
		Suggestions: e.Suggestions,
		Message:     e.Message,
	}
	if e.Cause != nil {
		obj.Cause = e.Cause.Error()
	}
	return obj
}
