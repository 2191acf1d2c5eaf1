package connector

import (
	"fmt"

	"github.com/italolelis/artifact_connector/internal/transfer"
)

// ResourceError reports a failed artifact or metadata transfer.
type ResourceError struct {
	Direction  string
	Resource   transfer.ResourceKind
	Path       string
	Repository string
	Err        error
}

func (e *ResourceError) Error() string {
	if e.NotFound() {
		return fmt.Sprintf("%s %s not found in %s", e.Resource, e.Path, e.Repository)
	}

	prep := "from"
	if e.Direction == directionPut {
		prep = "to"
	}

	return fmt.Sprintf("could not transfer %s %s %s %s: %v", e.Resource, e.Path, prep, e.Repository, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the remote resource does not exist.
func (e *ResourceError) NotFound() bool {
	return transfer.IsNotFound(e.Err)
}
