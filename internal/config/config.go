// Package config holds the CLI configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/mowzhja/harpocrates/internal/transport"
)

// Role is the part this process plays.
type Role string

const (
	RoleServer Role = "server" // accept loop, responds to many initiators
	RoleClient Role = "client" // dials a server and authenticates
	RoleHost   Role = "host"   // WebRTC peer that waits for a joiner and responds
	RoleJoin   Role = "join"   // WebRTC peer that joins a host and authenticates
)

// TransportKind selects the stream a server or client runs over.
type TransportKind string

const (
	TransportTCP       TransportKind = "tcp"
	TransportWebSocket TransportKind = "ws"
)

const (
	DefaultListen           = "127.0.0.1:9001"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultResponseTimeout  = 5 * time.Second
	DefaultMaxAttempts      = 3
	DefaultStatsInterval    = 10 * time.Second
)

// Config stores every parameter gathered from flags or interactive prompts.
type Config struct {
	Role      Role
	Transport TransportKind

	Listen string // server: listen address; host: signaling listen address
	Dial   string // client: host:port for tcp, URL for ws; join: signaling URL

	CredentialFile string // server, host
	Identity       string // client, join

	HandshakeTimeout   time.Duration
	ResponseTimeout    time.Duration
	MaxAttempts        int
	RequireServerProof bool

	StatsInterval time.Duration
	Debug         bool
}

// Default returns a Config with every default filled in.
func Default() Config {
	return Config{
		Transport:        TransportTCP,
		Listen:           DefaultListen,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ResponseTimeout:  DefaultResponseTimeout,
		MaxAttempts:      DefaultMaxAttempts,
		StatsInterval:    DefaultStatsInterval,
	}
}

// Responds reports whether the role plays the responder side of a session.
func (c *Config) Responds() bool {
	return c.Role == RoleServer || c.Role == RoleHost
}

// Validate checks the fields the role needs. All problems are reported at
// once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleServer, RoleClient, RoleHost, RoleJoin:
	case "":
		errs = append(errs, errors.New("missing role"))
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be server, client, host or join", c.Role))
	}

	if c.Role == RoleServer || c.Role == RoleClient {
		switch c.Transport {
		case TransportTCP, TransportWebSocket:
		default:
			errs = append(errs, fmt.Errorf("invalid transport %q: must be tcp or ws", c.Transport))
		}
	}

	if c.Role == RoleServer || c.Role == RoleHost {
		if c.CredentialFile == "" {
			errs = append(errs, errors.New("missing credential file"))
		}
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			errs = append(errs, fmt.Errorf("invalid listen address %q: %w", c.Listen, err))
		}
	}

	if c.Role == RoleClient || c.Role == RoleJoin {
		if c.Identity == "" {
			errs = append(errs, errors.New("missing identity"))
		}
		if err := c.validateDial(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("handshake timeout must not be negative"))
	}
	if c.ResponseTimeout < 0 || c.ResponseTimeout > time.Duration(1<<32-1)*time.Millisecond {
		errs = append(errs, errors.New("response timeout must fit in 32 bits of milliseconds"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}

	return errors.Join(errs...)
}

func (c *Config) validateDial() error {
	if c.Dial == "" {
		return errors.New("missing dial address")
	}
	if c.Role == RoleClient && c.Transport == TransportTCP {
		if _, _, err := net.SplitHostPort(c.Dial); err != nil {
			return fmt.Errorf("invalid dial address %q: %w", c.Dial, err)
		}
		return nil
	}
	if _, err := NormalizeWSURL(c.Dial); err != nil {
		return err
	}
	return nil
}

// NormalizeWSURL turns a host, host:port or URL into a ws(s) URL on the
// WebSocket path, keeping any query (the signaling PIN). Without a scheme,
// wss is assumed.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = transport.WebSocketPath
	return u.String(), nil
}
