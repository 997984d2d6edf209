package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Message types.
const (
	TypeSubscribe  = "SUBSCRIBE"
	TypeRun        = "RUN"
	TypeZone       = "ZONE"
	TypeSweep      = "SWEEP"
	TypeStructures = "STRUCTURES"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only stream this run.
	RunID string `json:"run_id,omitempty"`
	// Zone reports are the chattiest stream; sweeps and runs always flow.
	Zones      bool `json:"zones"`
	Structures bool `json:"structures"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	Origin          [2]float64 `json:"origin"`
	ZoneKind        string     `json:"zone_kind"`
	Boundaries      []float64  `json:"boundaries"`
	Types           []TypeInfo `json:"types"`
	Runs            []string   `json:"runs"`
}

type TypeInfo struct {
	Name  string   `json:"name"`
	Color [4]uint8 `json:"color"`
}

// Server -> Client. Sent when a run starts and again when it ends.
type RunMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	RunID           string  `json:"run_id"`
	Seed            int64   `json:"seed"`
	Structures      int     `json:"structures"`
	Done            bool    `json:"done"`
	Sweeps          int     `json:"sweeps,omitempty"`
	Reached         bool    `json:"reached,omitempty"`
	TrailingMean    float64 `json:"trailing_mean,omitempty"`
	Error           string  `json:"error,omitempty"`
}

type ZoneMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	RunID           string  `json:"run_id"`
	Sweep           int     `json:"sweep"`
	Zone            int     `json:"zone"`
	Aggregate       bool    `json:"aggregate,omitempty"`
	Size            int     `json:"size"`
	Actions         int     `json:"actions"`
	Accepted        int     `json:"accepted"`
	Rejected        int     `json:"rejected"`
	Mean            float64 `json:"mean"`
	Best            float64 `json:"best"`
	Snapshot        string  `json:"snapshot,omitempty"`
	ElapsedMS       int64   `json:"elapsed_ms"`
}

type SweepMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	RunID           string  `json:"run_id"`
	Sweep           int     `json:"sweep"`
	Samples         int     `json:"samples"`
	Begin           float64 `json:"begin"`
	End             float64 `json:"end"`
	Mean            float64 `json:"mean"`
	Reduction       float64 `json:"reduction_pct"`
	ElapsedMS       int64   `json:"elapsed_ms"`
}

// Server -> Client. Current pose of every structure, for external renderers.
type StructuresMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Sweep           int         `json:"sweep"`
	Structures      []PoseState `json:"structures"`
}

type PoseState struct {
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}
