// Package config holds the configuration values shared by the CLIs and the
// transports. Everything is passed explicitly; there is no global state.
package config

import (
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/protocol"
)

// TransportKind selects the wire used for one request/response exchange.
type TransportKind string

const (
	TransportStream    TransportKind = "tcp"
	TransportReliable  TransportKind = "udp"
	TransportWebSocket TransportKind = "ws"
)

// ErrInvalidConfig is the cause of every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Protocol tunes the reliable datagram transport.
type Protocol struct {
	WindowSize       int           // sender and receiver window, in packets
	PacketTimeout    time.Duration // wait before a retransmission round
	MaxRetries       int           // consecutive timeouts before giving up
	MaxPayload       int           // bytes per fragment
	HandshakeRetries int           // server-side timeouts to wait for the handshake ACK
	DrainRounds      int           // idle timeouts a client keeps acking stragglers for
	InboxSize        int           // per-session inbox capacity on the server
}

// Config stores every parameter gathered from the command line.
type Config struct {
	Protocol

	Transport      TransportKind
	Port           int           // server listen port
	RouterAddr     string        // optional datagram router, "host:port"
	RequestTimeout time.Duration // client-side bound on one request/response
	Workers        int           // concurrent server sessions
	TombstoneTTL   time.Duration // how long a finished peer ignores stale SYNs
	Directory      string        // file server root
	MetricsAddr    string        // optional /metrics and /healthz listener
	Verbose        bool
}

// DefaultProtocol returns the reliable transport defaults.
func DefaultProtocol() Protocol {
	return Protocol{
		WindowSize:       5,
		PacketTimeout:    500 * time.Millisecond,
		MaxRetries:       20,
		MaxPayload:       protocol.MaxPayloadSize,
		HandshakeRetries: 3,
		DrainRounds:      2,
		InboxSize:        64,
	}
}

// Default returns a Config with every field set to its default.
func Default() Config {
	return Config{
		Protocol:       DefaultProtocol(),
		Transport:      TransportStream,
		Port:           8080,
		RequestTimeout: 60 * time.Second,
		Workers:        8,
		TombstoneTTL:   5 * time.Second,
		Directory:      ".",
	}
}

// ParseTransport maps a flag value to a TransportKind.
func ParseTransport(s string) (TransportKind, error) {
	switch k := TransportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TransportStream, TransportReliable, TransportWebSocket:
		return k, nil
	case "stream":
		return TransportStream, nil
	case "reliable":
		return TransportReliable, nil
	case "websocket":
		return TransportWebSocket, nil
	default:
		return "", errors.Wrapf(ErrInvalidConfig, "unknown transport %q", s)
	}
}

// Validate checks the protocol tuning values.
func (p Protocol) Validate() error {
	switch {
	case p.WindowSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "window size must be positive, got %d", p.WindowSize)
	case p.PacketTimeout <= 0:
		return errors.Wrapf(ErrInvalidConfig, "packet timeout must be positive, got %s", p.PacketTimeout)
	case p.MaxRetries < 1:
		return errors.Wrapf(ErrInvalidConfig, "max retries must be positive, got %d", p.MaxRetries)
	case p.MaxPayload < 1 || p.MaxPayload > protocol.MaxPayloadSize:
		return errors.Wrapf(ErrInvalidConfig, "max payload must be in 1..%d, got %d", protocol.MaxPayloadSize, p.MaxPayload)
	case p.HandshakeRetries < 0 || p.DrainRounds < 0:
		return errors.Wrap(ErrInvalidConfig, "handshake retries and drain rounds cannot be negative")
	case p.InboxSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "inbox size must be positive, got %d", p.InboxSize)
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if _, err := ParseTransport(string(c.Transport)); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Wrapf(ErrInvalidConfig, "port out of range: %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.Workers < 1 {
		return errors.Wrapf(ErrInvalidConfig, "workers must be positive, got %d", c.Workers)
	}
	if c.RouterAddr != "" {
		if _, err := c.Router(); err != nil {
			return err
		}
	}
	return c.Protocol.Validate()
}

// Router resolves the router endpoint. The zero AddrPort means datagrams go
// straight to the peer.
func (c Config) Router() (netip.AddrPort, error) {
	if c.RouterAddr == "" {
		return netip.AddrPort{}, nil
	}
	addr, err := net.ResolveUDPAddr("udp4", c.RouterAddr)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(ErrInvalidConfig, "router address %q: %v", c.RouterAddr, err)
	}
	return protocol.NormalizePeer(addr.AddrPort()), nil
}
