// Harpocrates CLI entry point.
//
// Two peers agree on a secret with an ephemeral X25519 exchange, the
// initiator proves a stored credential, and both then exchange
// authenticated messages. The server relays between authenticated clients
// over TCP or WebSocket; host and join run a single session over a WebRTC
// DataChannel after WebSocket signaling.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -listen, -dial, -users, -identity, ...).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mowzhja/harpocrates/internal/app"
	"github.com/mowzhja/harpocrates/internal/config"
	"github.com/mowzhja/harpocrates/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()
	role := flag.String("role", "", "Role: server, client, host or join")
	transportKind := flag.String("transport", string(cfg.Transport), "Stream for server and client: tcp or ws")
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address (server) or signaling listen address (host, \":0\" for a random port)")
	flag.StringVar(&cfg.Dial, "dial", "", "Server address (client) or signaling URL with ?pin= (join)")
	flag.StringVar(&cfg.CredentialFile, "users", "", "Credential CSV file (server, host)")
	flag.StringVar(&cfg.Identity, "identity", "", "Identity to authenticate as (client, join)")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Time allowed from connect to authentication, 0 disables")
	flag.DurationVar(&cfg.ResponseTimeout, "response-timeout", cfg.ResponseTimeout, "Response timeout advertised to the peer")
	flag.IntVar(&cfg.MaxAttempts, "attempts", cfg.MaxAttempts, "Authentication attempts allowed per session (server, host)")
	flag.BoolVar(&cfg.RequireServerProof, "require-proof", false, "Fail unless the responder proves it holds the credential (client, join)")
	flag.DurationVar(&cfg.StatsInterval, "stats", cfg.StatsInterval, "Statistics reporting interval, 0 disables")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Harpocrates v%s", version))
	pterm.Println()

	cfg.Role = config.Role(*role)
	cfg.Transport = config.TransportKind(*transportKind)
	if cfg.Role == "" {
		// No -role flag, ask.
		askConfig(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(2)
	}

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("bye")
}

func run(ctx context.Context, cfg config.Config) error {
	switch cfg.Role {
	case config.RoleServer:
		return app.RunServer(ctx, cfg)
	case config.RoleClient:
		return app.RunClient(ctx, cfg, passwordSource(cfg.Identity), os.Stdin, os.Stdout)
	case config.RoleHost:
		return app.RunHost(ctx, cfg, os.Stdin, os.Stdout)
	case config.RoleJoin:
		return app.RunJoin(ctx, cfg, passwordSource(cfg.Identity), os.Stdin, os.Stdout)
	}
	return fmt.Errorf("unknown role %q", cfg.Role)
}

// askConfig fills cfg from interactive prompts.
func askConfig(cfg *config.Config) {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Server: Relay between authenticated clients",
			"Client: Connect to a server",
			"Host:   Wait for a peer over WebRTC",
			"Join:   Connect to a host over WebRTC",
		}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	switch {
	case strings.HasPrefix(choice, "Server"):
		cfg.Role = config.RoleServer
		cfg.CredentialFile = ask("Credential file", "users.csv")
		cfg.Listen = ask("Listen address", cfg.Listen)
	case strings.HasPrefix(choice, "Client"):
		cfg.Role = config.RoleClient
		cfg.Dial = ask("Server address", config.DefaultListen)
		cfg.Identity = ask("Identity", "")
	case strings.HasPrefix(choice, "Host"):
		cfg.Role = config.RoleHost
		cfg.CredentialFile = ask("Credential file", "users.csv")
		cfg.Listen = ":0"
	default:
		cfg.Role = config.RoleJoin
		cfg.Dial = ask("Signaling URL (e.g. wss://***.devtunnels.ms/ws?pin=123456)", "")
		cfg.Identity = ask("Identity", "")
	}
}

// ask prompts for a value until a non-empty one is entered. An empty answer
// takes def when there is one.
func ask(prompt, def string) string {
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]", prompt, def)
	}
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()

		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
		if def != "" {
			return def
		}
		util.LogWarning("a value is required")
	}
}
