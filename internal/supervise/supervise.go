// Package supervise implements the node's exit-code/shutdown actions and
// the hot-upgrade state transfer contract (§6, §12): Shutdown, Restart, and
// Upgrade, plus the ServerState blob those actions serialize across a
// re-exec. The actual SCM_RIGHTS file-descriptor handoff is OS-specific I/O
// scaffolding out of scope per §1; what's implemented and tested is the
// serialize/restore round-trip itself (the testable property in §8, S6).
package supervise

import (
	"encoding/json"
	"fmt"
	"sync"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/eventlog"
	"emberd/internal/ids"
	"emberd/internal/netstate"
	"emberd/internal/replog"
)

// Action names one of the exit-code/shutdown actions a node can take (§6).
type Action string

const (
	// ActionShutdown is a clean exit: stop listeners, let in-flight work
	// drain, then terminate.
	ActionShutdown Action = "shutdown"
	// ActionRestart re-execs the same binary without transferring state —
	// clients reconnect and bootstrap fresh.
	ActionRestart Action = "restart"
	// ActionUpgrade re-execs the binary and hands off a serialized
	// ServerState so in-flight client sessions never observe a disconnect.
	ActionUpgrade Action = "upgrade"
)

// NodeState is the "node_state" member of the ServerState blob: just
// enough identity for the re-exec'd process to confirm it is resuming the
// same node rather than adopting a handoff meant for someone else.
type NodeState struct {
	Incarnation ids.Incarnation `json:"incarnation"`
	Name        string          `json:"name"`
}

// ServerState is the blob handed off across a hot upgrade (§6): node
// identity, the log's stored and pending events plus its clock, the
// replicated log's tombstone set, and the full NetworkState snapshot. Its
// structure is internal and only needs to stay stable across minor
// versions of this binary, never across other implementations.
type ServerState struct {
	NodeState        NodeState         `json:"node_state"`
	LogStored        []event.Event     `json:"log_stored"`
	LogPending       []event.Event     `json:"log_pending"`
	LogClock         *clock.EventClock `json:"log_clock"`
	ServerTombstones []ids.Incarnation `json:"server_tombstones"`
	NetworkState     json.RawMessage   `json:"network_state"`
}

// Capture assembles a ServerState from the live components, for handoff
// immediately before a re-exec.
func Capture(log *eventlog.EventLog, repl *replog.ReplicatedEventLog, state *netstate.NetworkState) (*ServerState, error) {
	stored, pending, c := log.ExportAll()
	snapshot, _, err := state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("supervise: capture network state: %w", err)
	}
	return &ServerState{
		NodeState:        NodeState{Incarnation: repl.Self(), Name: repl.SelfName()},
		LogStored:        stored,
		LogPending:       pending,
		LogClock:         c,
		ServerTombstones: repl.Tombstones(),
		NetworkState:     snapshot,
	}, nil
}

// Marshal serializes a ServerState to the bytes that would be written into
// the anonymous memfd handed to the re-exec'd process.
func Marshal(s *ServerState) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("supervise: marshal server state: %w", err)
	}
	return raw, nil
}

// Unmarshal parses a ServerState previously produced by Marshal.
func Unmarshal(raw []byte) (*ServerState, error) {
	var s ServerState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("supervise: unmarshal server state: %w", err)
	}
	return &s, nil
}

// Restore applies a ServerState to freshly constructed components — the
// new process's side of a hot upgrade. The caller constructs log/repl/state
// for its own identity first (they must match the captured incarnation —
// a hot upgrade resumes the same node, it doesn't adopt a stranger's
// history) and then calls Restore to catch them up.
func Restore(s *ServerState, log *eventlog.EventLog, repl *replog.ReplicatedEventLog, state *netstate.NetworkState) error {
	if repl.Self() != s.NodeState.Incarnation {
		return fmt.Errorf("supervise: server state is for incarnation %+v, this node is %+v", s.NodeState.Incarnation, repl.Self())
	}
	log.RestoreAll(s.LogStored, s.LogPending, s.LogClock)
	repl.RestoreTombstones(s.ServerTombstones)
	if _, err := state.Import(s.NetworkState); err != nil {
		return fmt.Errorf("supervise: restore network state: %w", err)
	}
	return nil
}

// Broadcaster fans a shutdown signal out to every goroutine that needs to
// stop cleanly (listener accept loops, the reducer feed, peer dial loops)
// — the "shutdown broadcast channel" named in §5's concurrency model.
// Closing a channel is the natural one-to-many broadcast primitive in Go;
// every listener gets the same close event exactly once, with no risk of
// some receivers missing it the way a buffered-send fan-out could.
type Broadcaster struct {
	mu   sync.Mutex
	ch   chan struct{}
	once sync.Once
}

// NewBroadcaster constructs an armed Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{ch: make(chan struct{})}
}

// C returns the channel that closes when Trigger is called.
func (b *Broadcaster) C() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Trigger closes the broadcast channel, waking every selecting goroutine.
// Safe to call more than once or concurrently; only the first call has an
// effect.
func (b *Broadcaster) Trigger() {
	b.once.Do(func() {
		b.mu.Lock()
		close(b.ch)
		b.mu.Unlock()
	})
}
