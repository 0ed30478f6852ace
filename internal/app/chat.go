package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mowzhja/harpocrates/internal/driver"
	"github.com/mowzhja/harpocrates/internal/fault"
	"github.com/mowzhja/harpocrates/internal/session"
	"github.com/mowzhja/harpocrates/internal/util"
)

// chat runs sess over stream, sending every line read from in and writing
// every message received to out. The end of in closes the session in an
// orderly way, as does cancelling ctx.
func chat(ctx context.Context, stream io.ReadWriteCloser, sess *session.Session, in io.Reader, out io.Writer, opts ...driver.Option) error {
	chatCtx, stop := context.WithCancel(ctx)
	defer stop()

	opts = append(opts, driver.WithMessageHandler(func(msg []byte) []byte {
		fmt.Fprintf(out, "%s\n", msg)
		return nil
	}))
	d := driver.New(stream, sess, opts...)

	// Input is read only once authenticated, so password prompts during the
	// handshake have the terminal to themselves.
	go func() {
		select {
		case <-d.Established():
			util.LogSuccess("session established as %q, type a message and press enter", d.Identity())
		case <-d.Done():
			return
		}

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line == "" {
				continue
			}
			err := d.Send(chatCtx, []byte(line))
			switch {
			case err == nil:
			case fault.Is(err, fault.Malformed):
				util.LogWarning("message not sent: %v", err)
			default:
				return
			}
		}
		// end of input, say goodbye
		stop()
	}()

	err := d.Run(chatCtx)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return nil
	}
	return err
}
