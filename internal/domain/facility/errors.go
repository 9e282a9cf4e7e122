package facility

import "errors"

// ErrBuildingNotFound indicates the requested building does not exist.
var ErrBuildingNotFound = errors.New("building not found")

// ErrTaskNotFound indicates the requested task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrNoActivity indicates a building has no recorded task or clock activity.
// Callers treat this as "insufficient data", not a failure.
var ErrNoActivity = errors.New("no recorded activity")
