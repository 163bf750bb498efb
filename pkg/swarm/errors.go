package swarm

import "errors"

var (
	// ErrCapacityExceeded is returned when a tornado already holds as many subgraphs as its capacity.
	ErrCapacityExceeded = errors.New("tornado capacity exceeded")
	// ErrNoTornadoes is returned when subgraphs are distributed over an empty swarm.
	ErrNoTornadoes = errors.New("swarm has no tornadoes")
	// ErrUnknownTornado is returned for a tornado id the swarm does not know.
	ErrUnknownTornado = errors.New("unknown tornado")
	// ErrUnknownSubgraph is returned for a subgraph id the swarm does not own.
	ErrUnknownSubgraph = errors.New("unknown subgraph")
	// ErrAlreadyHeld is returned when a subgraph id is already owned by the swarm.
	ErrAlreadyHeld = errors.New("subgraph already owned")
	// ErrDuplicateTornado guards the tornado id uniqueness invariant.
	ErrDuplicateTornado = errors.New("duplicate tornado id")
	// ErrNotColocated is returned when a merge involves subgraphs held by different tornadoes.
	ErrNotColocated = errors.New("subgraphs are not held by the same tornado")
	// ErrUnknownMovement is returned for an unsupported movement policy name.
	ErrUnknownMovement = errors.New("unknown movement policy")
)
