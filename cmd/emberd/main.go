// Command emberd is the federated IRC network core node: it wires
// GossipTransport, EventLog, ReplicatedEventLog, NetworkState, and
// HistoryFanOut together per the network data flow, exposes the in-process
// clientapi seam for the (out-of-scope) line protocol layer, and serves
// the management HTTP plane.
//
// The SCM_RIGHTS/memfd file-descriptor handoff a real hot upgrade uses to
// pass an open listening socket and the ServerState blob to its successor
// is OS-specific I/O scaffolding this build does not implement; in its
// place, EMBERD_RESTORE_STATE_FILE names a path an external supervisor
// can have written the captured blob to, so the serialize/restore
// round trip itself is exercised without the syscall plumbing.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emberd/internal/clientapi"
	"emberd/internal/config"
	"emberd/internal/eventlog"
	"emberd/internal/fanout"
	"emberd/internal/gossip"
	"emberd/internal/ids"
	"emberd/internal/logging"
	"emberd/internal/mgmt"
	"emberd/internal/netstate"
	"emberd/internal/policy"
	"emberd/internal/replog"
	"emberd/internal/supervise"
)

func main() {
	configPath := flag.String("config", "network.yaml", "path to the network/peer configuration file")
	flag.Parse()

	logging.Init()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("config: %v", err)
		os.Exit(1)
	}

	if code := run(cfg); code != 0 {
		os.Exit(code)
	}
}

// run builds and serves a node until an OS signal, the internal shutdown
// trigger, or the network declaring this incarnation dead stops it. It
// returns the process exit code: 1 when startup fails, 0 otherwise. main
// exits with that code; neither run nor main re-executes the binary, so a
// restart or hot upgrade is left to whatever supervises the process.
func run(cfg *config.NetworkConfig) int {
	incarnation := ids.Incarnation{Server: ids.ServerId(cfg.Server.Id), Epoch: ids.NewEpochId()}

	var restoreState *supervise.ServerState
	if path := os.Getenv("EMBERD_RESTORE_STATE_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			logging.Error("supervise: reading restore state %s: %v", path, err)
			return 1
		}
		s, err := supervise.Unmarshal(raw)
		if err != nil {
			logging.Error("supervise: unmarshal restore state: %v", err)
			return 1
		}
		restoreState = s
		incarnation = s.NodeState.Incarnation
	}

	tlsConfig, err := config.LoadTLS(cfg.TLS)
	if err != nil {
		logging.Error("config: loading TLS material: %v", err)
		return 1
	}

	log := eventlog.New(incarnation.Server, incarnation.Epoch)
	transport := gossip.New(cfg.Server.Name, tlsConfig, cfg.Gossip.FanOut)
	for _, peer := range cfg.Peers {
		transport.AddPeer(peer)
	}

	repl := replog.New(log, transport, incarnation, cfg.Server.Name)
	state := netstate.New(incarnation, cfg.Server.Name)
	historyTTL := time.Duration(cfg.History.TTLHours) * time.Hour
	fo := fanout.New(state, policy.StandardPolicy{}, fanout.WithRingLimits(cfg.History.RingSize, historyTTL))

	host := fanout.NewHost(state, fo)
	repl.SetStateHost(host)

	if restoreState != nil {
		if err := supervise.Restore(restoreState, log, repl, state); err != nil {
			logging.Error("supervise: restoring state: %v", err)
			return 1
		}
		logging.Info("emberd: resumed from hot-upgrade state (%d stored, %d pending events)",
			log.StoredCount(), log.PendingCount())
	}

	// The client-facing line protocol (out of scope here) is built
	// against this seam; nothing in this binary consumes it yet.
	_ = clientapi.New(repl, state, fo)

	metrics := mgmt.NewMetrics()
	mgmtServer := mgmt.NewServer(mgmt.Sources{
		Log:       log,
		Transport: transport,
		State:     state,
		FanOut:    fo,
	}, metrics)
	defer mgmtServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := supervise.NewBroadcaster()

	fo.Start()
	defer fo.Close()

	go func() {
		if err := repl.Start(ctx, cfg.Server.ListenAddr); err != nil {
			logging.Error("replog: listen on %s: %v", cfg.Server.ListenAddr, err)
			broadcaster.Trigger()
		}
	}()

	if restoreState == nil && !cfg.Server.Seed {
		if err := repl.Bootstrap(ctx); err != nil {
			logging.Warn("replog: bootstrap: %v", err)
		}
	}

	go func() {
		if err := mgmtServer.ListenAndServe(cfg.Mgmt.ListenAddr); err != nil {
			logging.Error("mgmt: listen on %s: %v", cfg.Mgmt.ListenAddr, err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logging.Info("emberd: received shutdown signal")
	case <-broadcaster.C():
		logging.Info("emberd: internal shutdown triggered")
	case <-state.ShuttingDown():
		logging.Warn("emberd: network declared this incarnation dead, shutting down")
	}

	transport.Close()
	return 0
}
