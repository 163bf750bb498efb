package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sanonone/wingbeat/pkg/core/types"
)

func TestDecomposePromptWords(t *testing.T) {
	frags, err := DecomposePrompt("run", "the  quick brown\tfox jumps", Words(2), nil)
	if err != nil {
		t.Fatal(err)
	}

	var payloads []string
	for i, f := range frags {
		payloads = append(payloads, f.Payload)
		if f.Seq != i || f.Kind != types.KindToken {
			t.Errorf("fragment %d: seq %d kind %s", i, f.Seq, f.Kind)
		}
		for pos, n := range f.Subgraph.Nodes {
			want := types.NodeRef{Run: "run", Seq: i, Pos: pos}
			if n.Ref != want {
				t.Errorf("node ref = %+v, want %+v", n.Ref, want)
			}
		}
	}
	if diff := cmp.Diff([]string{"the quick", "brown fox", "jumps"}, payloads); diff != "" {
		t.Errorf("payloads mismatch (-want +got):\n%s", diff)
	}
	if frags[0].Subgraph.Len() != 2 || len(frags[0].Subgraph.Edges) != 1 {
		t.Errorf("first fragment should be a 2-node chain")
	}
}

func TestDecomposePromptIrregularIsDeterministic(t *testing.T) {
	prompt := "one two three four five six seven eight nine ten"
	a, err := DecomposePrompt("r", prompt, Irregular(7), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DecomposePrompt("r", prompt, Irregular(7), nil)

	if len(a) != len(b) {
		t.Fatalf("same seed, different fragment counts %d / %d", len(a), len(b))
	}
	var joined []string
	for i := range a {
		if a[i].Payload != b[i].Payload {
			t.Errorf("fragment %d differs: %q / %q", i, a[i].Payload, b[i].Payload)
		}
		if n := a[i].Subgraph.Len(); n < 1 || n > 3 {
			t.Errorf("fragment %d has %d words, want 1..3", i, n)
		}
		joined = append(joined, a[i].Payload)
	}
	if strings.Join(joined, " ") != prompt {
		t.Errorf("fragments do not cover the prompt: %q", strings.Join(joined, " "))
	}
}

func TestDecomposePromptEmpty(t *testing.T) {
	if _, err := DecomposePrompt("r", "   ", Words(2), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDecomposeModelStrategies(t *testing.T) {
	model := SampleModel()
	cases := []struct {
		name     string
		strategy Strategy
		input    string
		count    int
	}{
		{"layer wise", LayerWise(), "hello", 4},
		{"attention heads", AttentionHeads(8), "hello", 11},
		{"token wise", TokenWise(2), "a b c d e", 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frags, err := Decompose("run", tc.input, model, tc.strategy, ConstantStrength(0.7))
			if err != nil {
				t.Fatal(err)
			}
			if len(frags) != tc.count {
				t.Fatalf("got %d fragments, want %d", len(frags), tc.count)
			}
			for i, f := range frags {
				if f.Seq != i {
					t.Errorf("fragment %d has seq %d", i, f.Seq)
				}
				if f.Subgraph.Strength != 0.7 {
					t.Errorf("fragment %d strength %v", i, f.Subgraph.Strength)
				}
				for _, e := range f.Subgraph.Edges {
					if e.From >= f.Subgraph.Len() || e.To >= f.Subgraph.Len() {
						t.Errorf("fragment %d has dangling edge %+v", i, e)
					}
				}
			}
		})
	}
}

func TestDecomposeTokenWisePayloads(t *testing.T) {
	frags, err := Decompose("run", "a b c", SampleModel(), TokenWise(2), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := Assemble("run", frags)
	want := "[Embedded: a b] [Embedded: c] [Attended: a b] [Attended: c] " +
		"[Processed: a b] [Processed: c] [Output: a b] [Output: c]"
	if res.Text != want {
		t.Errorf("text = %q\nwant   %q", res.Text, want)
	}
}

func TestDecomposeRejectsBadInput(t *testing.T) {
	if _, err := Decompose("r", "x", Model{}, LayerWise(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty model: %v", err)
	}
	if _, err := Decompose("r", "x", SampleModel(), AttentionHeads(0), nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("zero heads: %v", err)
	}
	if _, err := Decompose("r", "x", SampleModel(), Strategy{Kind: "diagonal"}, nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("unknown kind: %v", err)
	}
	if _, err := ParseStrategy("diagonal", 0, 0); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("parse unknown: %v", err)
	}
	s, err := ParseStrategy("attention_heads", 0, 0)
	if err != nil || s.HeadCount != 8 {
		t.Errorf("default heads: %+v %v", s, err)
	}
}

func TestAssembleRoundTrip(t *testing.T) {
	frags, err := DecomposePrompt("run", "the quick brown fox", Words(1), nil)
	if err != nil {
		t.Fatal(err)
	}
	// Shuffled input must still come out in decomposition order.
	shuffled := []Fragment{frags[2], frags[0], frags[3], frags[1]}

	res := Assemble("run", shuffled)
	if res.Text != "THE QUICK BROWN FOX" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Pieces) != 4 {
		t.Errorf("pieces = %v", res.Pieces)
	}
}

func TestTransformPlaceholders(t *testing.T) {
	cases := map[types.LayerKind]string{
		types.KindEmbedding:   "[Embedded: x]",
		types.KindAttention:   "[Attended: x]",
		types.KindFeedForward: "[Processed: x]",
		types.KindOutput:      "[Output: x]",
		types.KindCustom:      "[Custom: x]",
		types.KindToken:       "X",
	}
	for kind, want := range cases {
		if got := Transform(kind, "x"); got != want {
			t.Errorf("Transform(%s) = %q, want %q", kind, got, want)
		}
	}
}
