package query

import "fmt"

// StatusError reports a non-2xx backend response. The body is retained so
// callers can surface it.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("query: backend returned %d", e.Status)
}
