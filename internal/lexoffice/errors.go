package lexoffice

import "fmt"

// ConfigurationError means a required credential is missing. It is raised
// before any network call is made.
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not set", e.Key)
}

// RemoteError is a non-success status returned by the lexoffice API.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("lexoffice %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// TransportError wraps a network or decoding failure talking to the API.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("lexoffice %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
