package mcp

// --- Tool Arguments ---

type SpawnTornadoArgs struct {
	X        float64 `json:"x,omitempty" jsonschema:"X coordinate of the tornado eye"`
	Y        float64 `json:"y,omitempty" jsonschema:"Y coordinate of the tornado eye"`
	Z        float64 `json:"z,omitempty" jsonschema:"Z coordinate of the tornado eye"`
	Capacity int     `json:"capacity,omitempty" jsonschema:"How many subgraphs the tornado can hold. Defaults to the swarm default"`
}

type SpawnTornadoResult struct {
	TornadoID string `json:"tornado_id"`
	Tornadoes int    `json:"tornadoes"`
}

type SendPromptArgs struct {
	Prompt   string `json:"prompt" jsonschema:"The prompt to fragment and send into the swarm"`
	Strategy string `json:"strategy,omitempty" jsonschema:"Fragmentation policy: words (default), runes or irregular"`
	Size     int    `json:"size,omitempty" jsonschema:"Words (or characters) per fragment"`
	Seed     int64  `json:"seed,omitempty" jsonschema:"Seed for the irregular strategy"`
}

type SendPromptResult struct {
	RunID     string `json:"run_id"`
	Fragments int    `json:"fragments"`
	Pending   int    `json:"pending"`
}

type StepSwarmArgs struct {
	Steps int     `json:"steps,omitempty" jsonschema:"Number of ticks to run (default 1, max 1000)"`
	DT    float64 `json:"dt,omitempty" jsonschema:"Tick length (default 0.1)"`
}

type StepSwarmResult struct {
	Steps     int    `json:"steps"`
	Step      uint64 `json:"step"`
	Tornadoes int    `json:"tornadoes"`
	Held      int    `json:"held"`
	Loose     int    `json:"loose"`
	Terminal  int    `json:"terminal"`
}

type CollectResultArgs struct {
	RunID string `json:"run_id" jsonschema:"The run id returned by send_prompt"`
}

type CollectResultResult struct {
	Ready  bool     `json:"ready"`
	State  string   `json:"state"`
	Text   string   `json:"text"`
	Pieces []string `json:"pieces"`
}

type SwarmStatusArgs struct{}

type TornadoSummary struct {
	ID       string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Radius   float64 `json:"radius"`
	Capacity int     `json:"capacity"`
	Held     int     `json:"held"`
}

type RunSummary struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Fragments  int    `json:"fragments"`
	Dispatched int    `json:"dispatched"`
	Failures   int    `json:"failures"`
}

type SwarmStatusResult struct {
	Step      uint64           `json:"step"`
	Tornadoes []TornadoSummary `json:"tornadoes"`
	Runs      []RunSummary     `json:"runs"`
}
