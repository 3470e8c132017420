package profile

import "fmt"

// ParseErrorKind classifies why a share link was rejected.
type ParseErrorKind string

const (
	UnsupportedScheme    ParseErrorKind = "unsupported scheme"
	MalformedCredentials ParseErrorKind = "malformed credentials"
	MalformedPayload     ParseErrorKind = "malformed payload"
	InvalidIdentifier    ParseErrorKind = "invalid identifier"
	InvalidEndpoint      ParseErrorKind = "invalid endpoint"
)

// ParseError is returned for any malformed or unsupported share link.
// It is always a plain value, never a panic: a bad link must not take
// down the session that tried to load it.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func parseErr(kind ParseErrorKind, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
