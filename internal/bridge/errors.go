package bridge

import "errors"

// Sentinel errors for bridge construction.
var (
	// ErrMissingDependency indicates a required collaborator was nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrInvalidTopic indicates an unusable status pattern or command template.
	ErrInvalidTopic = errors.New("bridge: invalid topic")
)
