package model

// SinkID names the external destination events for a topic are forwarded to.
// Resolution against the presentation layer happens outside the core.
type SinkID string

// MacroOp is the operation a stored macro performs when run.
type MacroOp string

const (
	MacroCall    MacroOp = "call"
	MacroPublish MacroOp = "publish"
)

// Macro binds a name to a pre-defined router operation.
type Macro struct {
	Op   MacroOp  `json:"op"`
	URI  string   `json:"uri"`
	Args []string `json:"args,omitempty"`
}

// Record is the durable per-tenant state. The persisted Subscriptions map is
// the source of truth for what should be subscribed; the live connection
// converges to it. A nil Config means "never configured", which must survive
// a round trip as absent rather than as a zero value.
type Record struct {
	Config        *ConnectionConfig `json:"config,omitempty"`
	Subscriptions map[string]SinkID `json:"subscriptions,omitempty"`

	Aliases map[string]string `json:"aliases,omitempty"`
	Macros  map[string]Macro  `json:"macros,omitempty"`
}

// EnsureMaps initializes nil maps so read-modify-write bodies can mutate
// without nil checks. Empty maps marshal as absent again via omitempty.
func (r *Record) EnsureMaps() {
	if r.Subscriptions == nil {
		r.Subscriptions = make(map[string]SinkID)
	}
	if r.Aliases == nil {
		r.Aliases = make(map[string]string)
	}
	if r.Macros == nil {
		r.Macros = make(map[string]Macro)
	}
}

// Clone returns a deep copy so store caches can hand records out without
// sharing mutable state with callers.
func (r Record) Clone() Record {
	out := Record{}
	if r.Config != nil {
		cfg := *r.Config
		out.Config = &cfg
	}
	if r.Subscriptions != nil {
		out.Subscriptions = make(map[string]SinkID, len(r.Subscriptions))
		for k, v := range r.Subscriptions {
			out.Subscriptions[k] = v
		}
	}
	if r.Aliases != nil {
		out.Aliases = make(map[string]string, len(r.Aliases))
		for k, v := range r.Aliases {
			out.Aliases[k] = v
		}
	}
	if r.Macros != nil {
		out.Macros = make(map[string]Macro, len(r.Macros))
		for k, v := range r.Macros {
			out.Macros[k] = v
		}
	}
	return out
}
