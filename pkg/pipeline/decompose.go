package pipeline

import (
	"cmp"
	"fmt"
	"math/rand"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sanonone/wingbeat/pkg/core/subgraph"
	"github.com/sanonone/wingbeat/pkg/core/text"
	"github.com/sanonone/wingbeat/pkg/core/types"
)

// Layer describes one component of a model.
type Layer struct {
	ID           string          `json:"id"`
	Kind         types.LayerKind `json:"kind"`
	Name         string          `json:"name,omitempty"`
	InputSize    int             `json:"input_size"`
	OutputSize   int             `json:"output_size"`
	Dependencies []string        `json:"dependencies,omitempty"`
}

// Model is an ordered list of layers.
type Model struct {
	Name   string  `json:"name"`
	Layers []Layer `json:"layers"`
}

// SampleModel returns a small transformer-shaped model: embedding, attention,
// feed-forward and output, each depending on the previous one.
func SampleModel() Model {
	layers := []Layer{
		{Kind: types.KindEmbedding, Name: "embed", InputSize: 512, OutputSize: 768},
		{Kind: types.KindAttention, Name: "attn", InputSize: 768, OutputSize: 768},
		{Kind: types.KindFeedForward, Name: "ffn", InputSize: 768, OutputSize: 768},
		{Kind: types.KindOutput, Name: "lm_head", InputSize: 768, OutputSize: 51200},
	}
	for i := range layers {
		layers[i].ID = uuid.New().String()
		if i > 0 {
			layers[i].Dependencies = []string{layers[i-1].ID}
		}
	}
	return Model{Name: "sample", Layers: layers}
}

// opGraph is the canonical operation graph of a layer kind.
type opGraph struct {
	ops   []string
	edges []subgraph.Edge
}

var opGraphs = map[types.LayerKind]opGraph{
	types.KindEmbedding: {
		ops:   []string{"lookup", "position", "norm"},
		edges: []subgraph.Edge{{From: 0, To: 1}, {From: 1, To: 2}},
	},
	types.KindAttention: {
		// q, k -> scores -> softmax; softmax, v -> weighted -> o_proj
		ops:   []string{"q_proj", "k_proj", "v_proj", "scores", "softmax", "weighted", "o_proj"},
		edges: []subgraph.Edge{{From: 0, To: 3}, {From: 1, To: 3}, {From: 3, To: 4}, {From: 4, To: 5}, {From: 2, To: 5}, {From: 5, To: 6}},
	},
	types.KindFeedForward: {
		ops:   []string{"up_proj", "activation", "down_proj"},
		edges: []subgraph.Edge{{From: 0, To: 1}, {From: 1, To: 2}},
	},
	types.KindOutput: {
		ops:   []string{"norm", "lm_head", "softmax"},
		edges: []subgraph.Edge{{From: 0, To: 1}, {From: 1, To: 2}},
	},
	types.KindCustom: {
		ops: []string{"process"},
	},
}

func opsFor(kind types.LayerKind) opGraph {
	if g, ok := opGraphs[kind]; ok {
		return g
	}
	return opGraphs[types.KindCustom]
}

// StrategyKind names a model decomposition policy.
type StrategyKind string

const (
	StrategyLayerWise      StrategyKind = "layer_wise"
	StrategyAttentionHeads StrategyKind = "attention_heads"
	StrategyTokenWise      StrategyKind = "token_wise"
)

// Strategy selects how a model is cut into fragments.
type Strategy struct {
	Kind      StrategyKind `json:"kind"`
	HeadCount int          `json:"head_count,omitempty"`
	ChunkSize int          `json:"chunk_size,omitempty"`
}

// LayerWise makes one fragment per layer.
func LayerWise() Strategy { return Strategy{Kind: StrategyLayerWise} }

// AttentionHeads splits every attention layer into n head fragments.
func AttentionHeads(n int) Strategy { return Strategy{Kind: StrategyAttentionHeads, HeadCount: n} }

// TokenWise makes one fragment per layer and per chunk of n input words.
func TokenWise(n int) Strategy { return Strategy{Kind: StrategyTokenWise, ChunkSize: n} }

// ParseStrategy builds a Strategy from its name. Zero sizes take the defaults
// (8 heads, 4 words per chunk).
func ParseStrategy(name string, heads, chunkSize int) (Strategy, error) {
	switch StrategyKind(name) {
	case "", StrategyLayerWise:
		return LayerWise(), nil
	case StrategyAttentionHeads:
		if heads <= 0 {
			heads = 8
		}
		return AttentionHeads(heads), nil
	case StrategyTokenWise:
		if chunkSize <= 0 {
			chunkSize = 4
		}
		return TokenWise(chunkSize), nil
	}
	return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Fragment is one piece of a decomposition: the subgraph that travels
// through the swarm and what its result is computed from.
type Fragment struct {
	Seq      int
	Kind     types.LayerKind
	Payload  string
	Subgraph *subgraph.Subgraph
}

// StrengthFunc assigns the initial strength of the fragment at position seq.
type StrengthFunc func(seq int) float64

// ConstantStrength gives every fragment the same strength.
func ConstantStrength(s float64) StrengthFunc {
	return func(int) float64 { return s }
}

// Decompose cuts a model into fragments. The output order is deterministic
// and is the order results are reassembled in.
func Decompose(runID, input string, m Model, s Strategy, strength StrengthFunc) ([]Fragment, error) {
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("%w: model has no layers", ErrEmptyInput)
	}
	if strength == nil {
		strength = ConstantStrength(0.5)
	}

	var frags []Fragment
	add := func(kind types.LayerKind, payload string, labels []string, edges []subgraph.Edge) error {
		seq := len(frags)
		nodes := make([]subgraph.Node, len(labels))
		for i, l := range labels {
			nodes[i] = subgraph.Node{Label: l, Kind: kind, Ref: types.NodeRef{Run: runID, Seq: seq, Pos: i}}
		}
		sg, err := subgraph.New(nodes, edges, strength(seq))
		if err != nil {
			return err
		}
		frags = append(frags, Fragment{Seq: seq, Kind: kind, Payload: payload, Subgraph: sg})
		return nil
	}

	switch s.Kind {
	case StrategyLayerWise, "":
		for _, l := range m.Layers {
			g := opsFor(l.Kind)
			if err := add(l.Kind, input, prefixed(layerName(l), g.ops), g.edges); err != nil {
				return nil, err
			}
		}

	case StrategyAttentionHeads:
		heads := s.HeadCount
		if heads < 1 {
			return nil, fmt.Errorf("%w: head count %d", ErrUnknownStrategy, heads)
		}
		for _, l := range m.Layers {
			g := opsFor(l.Kind)
			if l.Kind != types.KindAttention {
				if err := add(l.Kind, input, prefixed(layerName(l), g.ops), g.edges); err != nil {
					return nil, err
				}
				continue
			}
			for h := 0; h < heads; h++ {
				name := fmt.Sprintf("%s.h%d", layerName(l), h)
				if err := add(l.Kind, input, prefixed(name, g.ops), g.edges); err != nil {
					return nil, err
				}
			}
		}

	case StrategyTokenWise:
		if s.ChunkSize < 1 {
			return nil, fmt.Errorf("%w: chunk size %d", ErrUnknownStrategy, s.ChunkSize)
		}
		chunks := text.WordChunker(input, s.ChunkSize)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("%w: no tokens in input", ErrEmptyInput)
		}
		for _, l := range m.Layers {
			g := opsFor(l.Kind)
			for _, c := range chunks {
				name := fmt.Sprintf("%s.c%d", layerName(l), c.ChunkNumber)
				if err := add(l.Kind, c.Content, prefixed(name, g.ops), g.edges); err != nil {
					return nil, err
				}
			}
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s.Kind)
	}
	return frags, nil
}

func layerName(l Layer) string {
	if l.Name != "" {
		return l.Name
	}
	return string(l.Kind)
}

func prefixed(prefix string, ops []string) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = prefix + "." + op
	}
	return out
}

// --- Prompts ---

// PromptStrategyKind names a prompt fragmentation policy.
type PromptStrategyKind string

const (
	PromptWords     PromptStrategyKind = "words"
	PromptRunes     PromptStrategyKind = "runes"
	PromptIrregular PromptStrategyKind = "irregular"
)

// PromptStrategy selects how a prompt is cut into fragments.
type PromptStrategy struct {
	Kind PromptStrategyKind
	Size int
	Seed int64
}

// Words cuts a prompt into fragments of n words.
func Words(n int) PromptStrategy { return PromptStrategy{Kind: PromptWords, Size: n} }

// Runes cuts a prompt into fragments of n characters.
func Runes(n int) PromptStrategy { return PromptStrategy{Kind: PromptRunes, Size: n} }

// Irregular cuts a prompt into fragments of 1 to 3 words, sizes drawn from seed.
func Irregular(seed int64) PromptStrategy { return PromptStrategy{Kind: PromptIrregular, Size: 3, Seed: seed} }

// DecomposePrompt cuts a prompt into token fragments. Every word of a
// fragment becomes a node of a chain.
func DecomposePrompt(runID, prompt string, ps PromptStrategy, strength StrengthFunc) ([]Fragment, error) {
	if strength == nil {
		strength = ConstantStrength(0.5)
	}
	size := ps.Size
	if size < 1 {
		size = 1
	}

	var chunks []text.Chunk
	switch ps.Kind {
	case PromptWords, "":
		chunks = text.WordChunker(prompt, size)
	case PromptRunes:
		chunks = text.FixedSizeChunker(prompt, size, 0)
	case PromptIrregular:
		chunks = text.IrregularChunker(prompt, size, rand.New(rand.NewSource(ps.Seed)))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, ps.Kind)
	}

	frags := make([]Fragment, 0, len(chunks))
	for _, c := range chunks {
		words := strings.Fields(c.Content)
		if len(words) == 0 {
			continue
		}
		seq := len(frags)
		nodes := make([]subgraph.Node, len(words))
		for i, w := range words {
			nodes[i] = subgraph.Node{Label: w, Kind: types.KindToken, Ref: types.NodeRef{Run: runID, Seq: seq, Pos: i}}
		}
		frags = append(frags, Fragment{
			Seq:      seq,
			Kind:     types.KindToken,
			Payload:  c.Content,
			Subgraph: subgraph.Chain(nodes, strength(seq)),
		})
	}
	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: prompt has no words", ErrEmptyInput)
	}
	return frags, nil
}

// --- Reintegration ---

// Transform is the placeholder computation applied to a fragment payload.
func Transform(kind types.LayerKind, payload string) string {
	switch kind {
	case types.KindEmbedding:
		return "[Embedded: " + payload + "]"
	case types.KindAttention:
		return "[Attended: " + payload + "]"
	case types.KindFeedForward:
		return "[Processed: " + payload + "]"
	case types.KindOutput:
		return "[Output: " + payload + "]"
	case types.KindToken:
		return strings.ToUpper(payload)
	}
	return "[Custom: " + payload + "]"
}

// Result is the reassembled output of a run.
type Result struct {
	RunID  string   `json:"run_id"`
	Text   string   `json:"text"`
	Pieces []string `json:"pieces"`
}

// Assemble transforms fragments and concatenates them in Seq order.
func Assemble(runID string, frags []Fragment) Result {
	ordered := slices.Clone(frags)
	slices.SortStableFunc(ordered, func(a, b Fragment) int { return cmp.Compare(a.Seq, b.Seq) })

	pieces := make([]string, len(ordered))
	for i, f := range ordered {
		pieces[i] = Transform(f.Kind, f.Payload)
	}
	return Result{RunID: runID, Text: strings.Join(pieces, " "), Pieces: pieces}
}
