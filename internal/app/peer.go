package app

import (
	"context"
	"fmt"
	"io"

	"github.com/mowzhja/harpocrates/internal/auth"
	"github.com/mowzhja/harpocrates/internal/config"
	"github.com/mowzhja/harpocrates/internal/credential"
	"github.com/mowzhja/harpocrates/internal/driver"
	"github.com/mowzhja/harpocrates/internal/session"
	"github.com/mowzhja/harpocrates/internal/signaling"
	"github.com/mowzhja/harpocrates/internal/util"
)

// RunHost waits for a joiner through WebSocket signaling, then responds to
// its authentication over the WebRTC DataChannel and chats with it.
func RunHost(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	store, err := credential.Load(cfg.CredentialFile)
	if err != nil {
		return err
	}

	peer, err := signaling.EstablishAsHost(ctx, cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to establish peer connection: %w", err)
	}
	util.LogSuccess("P2P connection established, waiting for authentication")

	sess, err := session.New(session.Responder, responderConfig(cfg, store))
	if err != nil {
		peer.Close()
		return err
	}
	return chat(ctx, peer.Stream(), sess, in, out, driver.WithHandshakeTimeout(cfg.HandshakeTimeout))
}

// RunJoin joins a host through the signaling URL in cfg.Dial, then
// authenticates as cfg.Identity over the DataChannel and chats.
func RunJoin(ctx context.Context, cfg config.Config, password auth.PasswordFunc, in io.Reader, out io.Writer) error {
	wsURL, err := config.NormalizeWSURL(cfg.Dial)
	if err != nil {
		return err
	}

	peer, err := signaling.EstablishAsJoiner(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("failed to establish peer connection: %w", err)
	}
	util.LogSuccess("P2P connection established, authenticating as %q", cfg.Identity)

	sess, err := session.New(session.Initiator, initiatorConfig(cfg, password))
	if err != nil {
		peer.Close()
		return err
	}
	return chat(ctx, peer.Stream(), sess, in, out, driver.WithHandshakeTimeout(cfg.HandshakeTimeout))
}
