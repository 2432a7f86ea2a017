package repository

import (
	"fmt"

	"github.com/klauern/usersync/internal/model"
)

// Result is one emission of a repository call: either a collection (possibly
// empty) tagged with its origin, or an error.
type Result struct {
	Records []model.Record
	Origin  model.Origin
	Err     error
}

// Callback receives the emissions of a repository call.
type Callback func(Result)

// OK returns true if the emission carries a collection.
func (r Result) OK() bool {
	return r.Err == nil
}

// String returns a one-line description of the emission.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("failure: %v", r.Err)
	}
	return fmt.Sprintf("%s: %d record(s)", r.Origin, len(r.Records))
}
