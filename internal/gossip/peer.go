package gossip

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
)

// PeerConfig is the on-disk/wire shape of a configured peer entry (§6):
// name, dial address, and the pinned SHA-1 fingerprint of its certificate.
type PeerConfig struct {
	Name        string `yaml:"name" json:"name"`
	Address     string `yaml:"address" json:"address"`
	Fingerprint string `yaml:"fingerprint" json:"fingerprint"` // hex sha1
}

// Peer is a configured peer plus its runtime enable/disable flag. Only
// enabled peers are candidates for Propagate and outbound sync; inbound
// traffic is accepted from any configured peer regardless of flag,
// subject to tombstoning at the ReplicatedEventLog layer.
type Peer struct {
	Name        string
	Address     string
	Fingerprint string // lowercase hex sha1, pinned

	enabled atomic.Bool
}

// NewPeer constructs a Peer from configuration, enabled by default.
func NewPeer(cfg PeerConfig) *Peer {
	p := &Peer{Name: cfg.Name, Address: cfg.Address, Fingerprint: strings.ToLower(cfg.Fingerprint)}
	p.enabled.Store(true)
	return p
}

func (p *Peer) Enabled() bool { return p.enabled.Load() }
func (p *Peer) Enable()       { p.enabled.Store(true) }
func (p *Peer) Disable()      { p.enabled.Store(false) }

func (p *Peer) String() string { return fmt.Sprintf("%s@%s", p.Name, p.Address) }

// AuthzError signals a failed mutual-TLS handshake: wrong CN, source-IP
// mismatch, or a fingerprint that doesn't match the pinned value for the
// peer the connection claims to be. Per §4.1 this fails the handshake and
// the connection is closed; it is never fatal to the node.
type AuthzError struct {
	Reason string
}

func (e *AuthzError) Error() string { return "gossip: authorization failed: " + e.Reason }

// fingerprintOf returns the lowercase hex SHA-1 fingerprint of a certificate.
func fingerprintOf(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// verifyPeerIdentity checks that a presented certificate belongs to the
// named peer: CN equals the peer's configured name, the connection's
// source IP matches the peer's configured address, and the certificate's
// SHA-1 fingerprint matches the pinned value (§4.1).
func verifyPeerIdentity(peer *Peer, cert *x509.Certificate, remoteAddr net.Addr) error {
	if cert.Subject.CommonName != peer.Name {
		return &AuthzError{Reason: fmt.Sprintf("CN %q does not match configured peer %q", cert.Subject.CommonName, peer.Name)}
	}
	if host, _, err := net.SplitHostPort(remoteAddr.String()); err == nil {
		if expectedHost, _, err2 := net.SplitHostPort(peer.Address); err2 == nil && host != expectedHost {
			return &AuthzError{Reason: fmt.Sprintf("source IP %q does not match configured address for peer %q", host, peer.Name)}
		}
	}
	if got := fingerprintOf(cert); got != peer.Fingerprint {
		return &AuthzError{Reason: fmt.Sprintf("fingerprint %s does not match pinned fingerprint for peer %q", got, peer.Name)}
	}
	return nil
}

// findPeerByCN looks up the configured peer matching a presented
// certificate's CommonName, used on the accept side where the transport
// does not yet know which configured peer is dialing in.
func findPeerByCN(peers map[string]*Peer, cn string) (*Peer, bool) {
	p, ok := peers[cn]
	return p, ok
}
