package errors

import "fmt"

// Category groups error codes by subsystem.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryProtocol Category = "protocol"
	CategoryProcess  Category = "process"
	CategoryIO       Category = "io"
	CategoryRelease  Category = "release"
	CategoryCLI      Category = "cli"
)

// Error is a coded, structured error. Codes are stable identifiers that can
// be grepped in issue reports; the registry supplies the canonical message
// and a suggestion where one exists.
type Error struct {
	Code       string
	Category   Category
	Message    string
	Detail     string
	Suggestion string
	Wrapped    error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap supports errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// WithDetail attaches free-form context to the error.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Format renders the error for the console, including detail and suggestion
// lines when present.
func (e *Error) Format() string {
	out := e.Error()
	if e.Wrapped != nil {
		out += ": " + e.Wrapped.Error()
	}
	if e.Detail != "" {
		out += "\n  " + e.Detail
	}
	if e.Suggestion != "" {
		out += "\n  hint: " + e.Suggestion
	}
	return out
}

type entry struct {
	category   Category
	message    string
	suggestion string
}

var registry = map[string]entry{
	"E001": {CategoryConfig, "deskthing.json not found", "run `deskthing update` to scaffold a config file"},
	"E002": {CategoryConfig, "failed to parse deskthing.json", "check the file for trailing commas or invalid JSON"},
	"E101": {CategoryProtocol, "malformed message frame", ""},
	"E102": {CategoryProtocol, "unknown message type", ""},
	"E201": {CategoryProcess, "failed to launch app server process", "verify node is installed and on PATH"},
	"E202": {CategoryProcess, "app server process exited unexpectedly", ""},
	"E203": {CategoryProcess, "failed to watch server sources", ""},
	"E301": {CategoryIO, "manifest.json not found", "expected deskthing/manifest.json or public/manifest.json"},
	"E302": {CategoryIO, "failed to read file", ""},
	"E401": {CategoryRelease, "failed to package app", ""},
	"E402": {CategoryRelease, "failed to upload release artifact", "check bucket name and credentials"},
	"E501": {CategoryCLI, "invalid command arguments", ""},
}

// New creates an Error for a registered code. Unregistered codes still
// produce a usable error rather than panicking.
func New(code string) *Error {
	if e, ok := registry[code]; ok {
		return &Error{Code: code, Category: e.category, Message: e.message, Suggestion: e.suggestion}
	}
	return &Error{Code: code, Message: "unknown error"}
}

// Newf creates an uncoded error. Used for one-off conditions that do not
// deserve a registry entry.
func Newf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
