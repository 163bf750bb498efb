// Package types holds the small value types shared by the subgraph model,
// the swarm and the pipeline.
package types

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is a point (or displacement) in swarm space.
type Vec3 = r3.Vec

// NewVec3 builds a Vec3 from its coordinates.
func NewVec3(x, y, z float64) Vec3 {
	return r3.Vec{X: x, Y: y, Z: z}
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Vec3) float64 {
	return r3.Norm(r3.Sub(a, b))
}

// LayerKind classifies what a node computes. It selects the placeholder
// transform applied at reintegration time.
type LayerKind string

const (
	KindEmbedding   LayerKind = "embedding"
	KindAttention   LayerKind = "attention"
	KindFeedForward LayerKind = "feed_forward"
	KindOutput      LayerKind = "output"
	KindCustom      LayerKind = "custom"
	KindToken       LayerKind = "token"
)

// ParseLayerKind maps a textual kind (as found in YAML or HTTP payloads) to a LayerKind.
func ParseLayerKind(s string) (LayerKind, error) {
	switch k := LayerKind(s); k {
	case KindEmbedding, KindAttention, KindFeedForward, KindOutput, KindCustom, KindToken:
		return k, nil
	}
	return "", fmt.Errorf("unknown layer kind %q", s)
}

// NodeRef records where a node came from: the decomposition run, the fragment
// position in decomposition order (Seq) and the node position inside that
// fragment (Pos). It travels with the node through split and merge.
type NodeRef struct {
	Run string `json:"run"`
	Seq int    `json:"seq"`
	Pos int    `json:"pos"`
}

// Less orders references by run, then fragment, then position.
func (r NodeRef) Less(o NodeRef) bool {
	if r.Run != o.Run {
		return r.Run < o.Run
	}
	if r.Seq != o.Seq {
		return r.Seq < o.Seq
	}
	return r.Pos < o.Pos
}
