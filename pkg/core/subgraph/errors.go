package subgraph

import "errors"

var (
	// ErrInvalidGraph is returned when an edge references a node index that does not exist.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrSplitTooSmall is returned when a split asks for fewer than two parts,
	// or for more parts than the subgraph has nodes.
	ErrSplitTooSmall = errors.New("split too small")
	// ErrIncompatibleMerge is returned when two subgraphs are merged whose strengths are not compatible.
	ErrIncompatibleMerge = errors.New("incompatible merge")
	// ErrRetired is returned when an operation touches a subgraph that was split or merged away.
	ErrRetired = errors.New("subgraph retired")
	// ErrSelfLink is returned when a subgraph is merged or connected with itself.
	ErrSelfLink = errors.New("subgraph cannot interact with itself")
)
