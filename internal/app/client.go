package app

import (
	"context"
	"fmt"
	"io"

	"github.com/mowzhja/harpocrates/internal/auth"
	"github.com/mowzhja/harpocrates/internal/config"
	"github.com/mowzhja/harpocrates/internal/driver"
	"github.com/mowzhja/harpocrates/internal/session"
	"github.com/mowzhja/harpocrates/internal/transport"
	"github.com/mowzhja/harpocrates/internal/util"
)

// RunClient dials cfg.Dial, authenticates as cfg.Identity and chats until in
// ends, the server closes the session or ctx is cancelled.
func RunClient(ctx context.Context, cfg config.Config, password auth.PasswordFunc, in io.Reader, out io.Writer) error {
	stream, err := dial(ctx, cfg)
	if err != nil {
		return err
	}

	sess, err := session.New(session.Initiator, initiatorConfig(cfg, password))
	if err != nil {
		stream.Close()
		return err
	}
	util.LogInfo("connected to %s, authenticating as %q", cfg.Dial, cfg.Identity)

	return chat(ctx, stream, sess, in, out, driver.WithHandshakeTimeout(cfg.HandshakeTimeout))
}

func dial(ctx context.Context, cfg config.Config) (io.ReadWriteCloser, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		wsURL, err := config.NormalizeWSURL(cfg.Dial)
		if err != nil {
			return nil, err
		}
		conn, err := transport.DialWebSocket(ctx, wsURL)
		if err != nil {
			return nil, err
		}
		return transport.NewWebSocketStream(conn), nil

	case config.TransportTCP:
		return transport.DialTCP(ctx, cfg.Dial)

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
