package upstream

import "fmt"

// TransportError is a failure to reach the upstream at all: DNS, TCP, TLS or
// the request timeout.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s unreachable: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d", e.URL, e.StatusCode)
}

// SchemaError is a 2xx response whose body is not a node list.
type SchemaError struct {
	URL    string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected upstream schema from %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("unexpected upstream schema from %s: %s", e.URL, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }
