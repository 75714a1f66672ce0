package evo

import "errors"

var (
	// ErrConfig marks a setup that must be rejected before the run starts.
	ErrConfig = errors.New("invalid evolution config")
	// ErrInvariant marks a scheduler state that correct collaborators never produce.
	ErrInvariant = errors.New("scheduler invariant violated")
)
