package depend

import "fmt"

// AnalysisError reports a failed catalog query during dependency discovery.
// Analysis is all-or-nothing: a single failed discovery aborts the whole
// report rather than returning partial results.
type AnalysisError struct {
	Op     Kind   // which discovery failed
	Table  string
	Column string
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("dependency analysis of %s.%s: %s discovery failed: %v", e.Table, e.Column, e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
