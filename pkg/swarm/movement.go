package swarm

import (
	"fmt"

	"github.com/sanonone/wingbeat/pkg/core/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// Movement policy names accepted in Config.Movement.
const (
	MovementRandomWalk = "random_walk"
	MovementDrift      = "drift"
	MovementAnchored   = "anchored"
)

// MovementPolicy computes the next eye position of a tornado. Next only reads
// and mutates state owned by t (its RNG), so tornadoes can move concurrently.
type MovementPolicy interface {
	Next(t *Tornado, dt float64) types.Vec3
}

// RandomWalk jitters the eye on the horizontal plane by U(-1,1)*Step*dt on
// each axis. Altitude is unchanged.
type RandomWalk struct {
	Step float64
}

func (w RandomWalk) Next(t *Tornado, dt float64) types.Vec3 {
	return types.NewVec3(
		t.Eye.X+(t.rng.Float64()*2-1)*w.Step*dt,
		t.Eye.Y+(t.rng.Float64()*2-1)*w.Step*dt,
		t.Eye.Z,
	)
}

// Drift moves the eye along the tornado velocity.
type Drift struct{}

func (Drift) Next(t *Tornado, dt float64) types.Vec3 {
	return r3.Add(t.Eye, r3.Scale(dt, t.Velocity))
}

// Anchored keeps tornadoes in place.
type Anchored struct{}

func (Anchored) Next(t *Tornado, _ float64) types.Vec3 { return t.Eye }

// PolicyFor builds the movement policy named in the configuration.
func PolicyFor(cfg Config) (MovementPolicy, error) {
	switch cfg.Movement {
	case "", MovementRandomWalk:
		step := cfg.WalkStep
		if step <= 0 {
			step = 1
		}
		return RandomWalk{Step: step}, nil
	case MovementDrift:
		return Drift{}, nil
	case MovementAnchored:
		return Anchored{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMovement, cfg.Movement)
}
