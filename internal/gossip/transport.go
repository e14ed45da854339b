// Package gossip implements GossipTransport (§4.1): the mutually-
// authenticated TLS peer link layer. It carries opaque length-prefixed
// JSON frames between nodes; it knows nothing about event or message
// semantics, which belong to the replog layer above it.
package gossip

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"emberd/internal/logging"
	"emberd/internal/metrics"
)

// Request is one inbound frame delivered to a FrameHandler, tagged with the
// authenticated name of the peer it arrived from.
type Request struct {
	PeerName string
	Body     []byte
}

// FrameHandler processes one frame (inbound on Listen, or a response
// received during SendAndProcess) and returns zero or more frames to send
// back on the same connection. done signals that no further frames should
// be read on this connection — the replog layer sets this once it decodes
// a Done message, since only it understands message semantics.
type FrameHandler func(req Request) (responses [][]byte, done bool)

// Transport is a node's GossipTransport. It owns the set of configured
// peers and their runtime enable/disable flags, dials and accepts mutually
// authenticated TLS connections, and exchanges framed JSON over them.
type Transport struct {
	selfName  string
	tlsConfig *tls.Config
	fanout    int

	mu    sync.RWMutex
	peers map[string]*Peer

	listener net.Listener
}

// New constructs a Transport. tlsConfig must already carry the node's
// certificate, private key, and a client CA pool sufficient to validate
// peer certificates during the handshake (§4.1); Transport adds the
// additional CN/IP/fingerprint pinning checks on top of that.
func New(selfName string, tlsConfig *tls.Config, fanout int) *Transport {
	cfg := tlsConfig.Clone()
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return &Transport{
		selfName:  selfName,
		tlsConfig: cfg,
		fanout:    fanout,
		peers:     make(map[string]*Peer),
	}
}

// AddPeer registers a configured peer, enabled by default.
func (t *Transport) AddPeer(cfg PeerConfig) *Peer {
	p := NewPeer(cfg)
	t.mu.Lock()
	t.peers[p.Name] = p
	count := len(t.peers)
	t.mu.Unlock()
	metrics.PeerCount.Set(float64(count))
	return p
}

// Peer returns the named configured peer, if any.
func (t *Transport) Peer(name string) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[name]
	return p, ok
}

// Peers returns every configured peer.
func (t *Transport) Peers() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// EnablePeer flips a peer back into eligibility for Propagate and sync,
// e.g. once its tombstone expires or an operator clears a k-line (§4.1).
func (t *Transport) EnablePeer(name string) {
	if p, ok := t.Peer(name); ok {
		p.Enable()
	}
}

// DisablePeer removes a peer from Propagate's candidate set without
// forgetting its configuration, e.g. on a ServerQuit tombstone (§4.3).
func (t *Transport) DisablePeer(name string) {
	if p, ok := t.Peer(name); ok {
		p.Disable()
	}
}

// Dial opens a mutually authenticated TLS connection to peer and returns
// it ready for framed writes and reads. The caller is responsible for
// closing it.
func (t *Transport) Dial(ctx context.Context, peer *Peer) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	raw, err := dialer.DialContext(ctx, "tcp", peer.Address)
	if err != nil {
		return nil, fmt.Errorf("gossip: dial %s: %w", peer, err)
	}

	cfg := t.tlsConfig.Clone()
	cfg.InsecureSkipVerify = true // pinning below replaces chain validation
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("gossip: TLS handshake with %s: %w", peer, err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		conn.Close()
		return nil, &AuthzError{Reason: fmt.Sprintf("peer %s presented no certificate", peer)}
	}
	if err := verifyPeerIdentity(peer, state.PeerCertificates[0], raw.RemoteAddr()); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// SendAndProcess opens a connection to peer, writes msg as the first
// frame, then loops reading response frames and handing each to handle
// until handle reports done, handle returns no further frames and the peer
// closes the connection, or ctx is done. Every response frame handle
// returns is written back on the same connection before the next read,
// which is how a peer's GetEvent-in-reply-to-NewEvent round trip (§4.3)
// plays out without a second dial.
func (t *Transport) SendAndProcess(ctx context.Context, peer *Peer, msg []byte, handle FrameHandler) error {
	conn, err := t.Dial(ctx, peer)
	if err != nil {
		return err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if err := writeFrame(conn, msg); err != nil {
		return err
	}
	metrics.GossipMessagesSent.Inc()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := readFrame(conn)
		if err != nil {
			return fmt.Errorf("gossip: reading from %s: %w", peer, err)
		}
		metrics.GossipMessagesRecv.Inc()

		responses, done := handle(Request{PeerName: peer.Name, Body: frame})
		for _, r := range responses {
			if err := writeFrame(conn, r); err != nil {
				return err
			}
			metrics.GossipMessagesSent.Inc()
		}
		if done {
			return nil
		}
	}
}

// Propagate sends msg to a random subset of up to fanout enabled peers,
// concurrently, logging but not failing on individual peer errors (§4.1).
// handle processes whatever that peer sends back, same as SendAndProcess.
func (t *Transport) Propagate(ctx context.Context, msg []byte, handle FrameHandler) {
	candidates := t.enabledPeers()
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	n := t.fanout
	if n > len(candidates) {
		n = len(candidates)
	}

	var wg sync.WaitGroup
	for _, p := range candidates[:n] {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.SendAndProcess(ctx, p, msg, handle); err != nil {
				logging.Warn("gossip: propagate to %s failed: %v", p, err)
			}
		}()
	}
	wg.Wait()
}

func (t *Transport) enabledPeers() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Listen accepts inbound TLS connections on addr and, for each, identifies
// the dialing peer by its certificate CN (validated against the matching
// configured peer's pinned fingerprint and address), then loops handing
// every inbound frame to handle and writing back whatever it returns,
// until handle reports done or the peer disconnects. Listen blocks until
// ctx is cancelled or the listener errors.
func (t *Transport) Listen(ctx context.Context, addr string, handle FrameHandler) error {
	ln, err := tls.Listen("tcp", addr, t.tlsConfig)
	if err != nil {
		return fmt.Errorf("gossip: listen %s: %w", addr, err)
	}
	t.listener = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logging.Info("gossip: listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("gossip: accept: %w", err)
			}
		}
		go t.serveConn(conn, handle)
	}
}

func (t *Transport) serveConn(conn net.Conn, handle FrameHandler) {
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		logging.Warn("gossip: non-TLS connection from %s, dropping", conn.RemoteAddr())
		return
	}
	if err := tlsConn.Handshake(); err != nil {
		logging.Warn("gossip: handshake from %s failed: %v", conn.RemoteAddr(), err)
		return
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		logging.Warn("gossip: connection from %s presented no certificate", conn.RemoteAddr())
		return
	}
	cn := state.PeerCertificates[0].Subject.CommonName

	t.mu.RLock()
	peer, known := findPeerByCN(t.peers, cn)
	t.mu.RUnlock()
	if !known {
		logging.Warn("gossip: connection from unconfigured peer CN %q", cn)
		return
	}
	if err := verifyPeerIdentity(peer, state.PeerCertificates[0], conn.RemoteAddr()); err != nil {
		logging.Warn("gossip: %v", err)
		return
	}

	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		metrics.GossipMessagesRecv.Inc()
		responses, done := handle(Request{PeerName: peer.Name, Body: frame})
		for _, r := range responses {
			if err := writeFrame(conn, r); err != nil {
				logging.Warn("gossip: writing to %s: %v", peer, err)
				return
			}
			metrics.GossipMessagesSent.Inc()
		}
		if done {
			return
		}
	}
}

// Close stops accepting new inbound connections.
func (t *Transport) Close() error {
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}
