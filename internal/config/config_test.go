package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		edit    func(c *Config)
		wantErr string // empty means valid
	}{
		{"server", func(c *Config) {
			c.Role = RoleServer
			c.CredentialFile = "users.csv"
		}, ""},
		{"server over websocket", func(c *Config) {
			c.Role = RoleServer
			c.Transport = TransportWebSocket
			c.CredentialFile = "users.csv"
		}, ""},
		{"client", func(c *Config) {
			c.Role = RoleClient
			c.Identity = "alice"
			c.Dial = "127.0.0.1:9001"
		}, ""},
		{"join", func(c *Config) {
			c.Role = RoleJoin
			c.Identity = "alice"
			c.Dial = "ws://127.0.0.1:4000/ws?pin=123456"
		}, ""},
		{"missing role", func(c *Config) {}, "missing role"},
		{"unknown role", func(c *Config) { c.Role = "relay" }, "invalid role"},
		{"server without credentials", func(c *Config) { c.Role = RoleServer }, "missing credential file"},
		{"bad listen address", func(c *Config) {
			c.Role = RoleHost
			c.CredentialFile = "users.csv"
			c.Listen = "9001"
		}, "invalid listen address"},
		{"client without identity", func(c *Config) {
			c.Role = RoleClient
			c.Dial = "127.0.0.1:9001"
		}, "missing identity"},
		{"client without address", func(c *Config) {
			c.Role = RoleClient
			c.Identity = "alice"
		}, "missing dial address"},
		{"unknown transport", func(c *Config) {
			c.Role = RoleClient
			c.Identity = "alice"
			c.Dial = "127.0.0.1:9001"
			c.Transport = "quic"
		}, "invalid transport"},
		{"zero attempts", func(c *Config) {
			c.Role = RoleServer
			c.CredentialFile = "users.csv"
			c.MaxAttempts = 0
		}, "max attempts"},
		{"timeout overflows the wire field", func(c *Config) {
			c.Role = RoleServer
			c.CredentialFile = "users.csv"
			c.ResponseTimeout = 60 * 24 * time.Hour
		}, "response timeout"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.edit(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := Default()
	c.Role = RoleClient
	c.MaxAttempts = 0
	err := c.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"missing identity", "missing dial address", "max attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("%q missing %q", err, want)
		}
	}
}

func TestNormalizeWSURL(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"example.devtunnels.ms", "wss://example.devtunnels.ms/ws"},
		{"ws://127.0.0.1:4000", "ws://127.0.0.1:4000/ws"},
		{"http://127.0.0.1:4000/", "ws://127.0.0.1:4000/ws"},
		{" wss://host/anything?pin=0042 ", "wss://host/ws?pin=0042"},
	}
	for _, tc := range testCases {
		got, err := NormalizeWSURL(tc.in)
		if err != nil {
			t.Errorf("NormalizeWSURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeWSURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := NormalizeWSURL("wss://"); err == nil {
		t.Error("empty host accepted")
	}
}

func TestResponds(t *testing.T) {
	for role, want := range map[Role]bool{RoleServer: true, RoleHost: true, RoleClient: false, RoleJoin: false} {
		c := Config{Role: role}
		if c.Responds() != want {
			t.Errorf("%s: Responds() = %v", role, !want)
		}
	}
}
