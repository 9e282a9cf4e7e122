package metrics

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrGroupNotFound indicates a portfolio group name has no definition.
var ErrGroupNotFound = errors.New("portfolio group not found")

// ComputeError indicates the store could not answer the queries needed to
// derive a building's metrics snapshot.
type ComputeError struct {
	BuildingID uuid.UUID
	Err        error
}

// Error implements the error interface.
func (e *ComputeError) Error() string {
	return fmt.Sprintf("computing metrics for building %s: %v", e.BuildingID, e.Err)
}

// Unwrap returns the underlying store failure.
func (e *ComputeError) Unwrap() error { return e.Err }
