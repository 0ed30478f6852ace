package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/mowzhja/harpocrates/internal/util"
)

const outboxSize = 64 // per-member queue of relayed messages

// member is one authenticated session in the relay. Its outbox is drained
// by a goroutine of its own so a slow peer never stalls another session's
// driver loop.
type member struct {
	id       uint32 // connection id, for logging only
	identity string
	outbox   chan []byte
}

// relay forwards each message an authenticated session sends to every other
// member, prefixed with the sender's identity.
type relay struct {
	mu      sync.Mutex
	members map[*member]struct{}
}

func newRelay() *relay {
	return &relay{members: make(map[*member]struct{})}
}

// join adds a member and removes it again when ctx is done. Members are
// distinct even when their connection ids collide.
func (r *relay) join(ctx context.Context, id uint32, identity string) *member {
	m := &member{id: id, identity: identity, outbox: make(chan []byte, outboxSize)}

	r.mu.Lock()
	r.members[m] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.members, m)
		r.mu.Unlock()
	}()
	return m
}

// publish queues msg for every member except the sender. Members with a
// full outbox miss the message.
func (r *relay) publish(from *member, msg []byte) int {
	line := []byte(fmt.Sprintf("%s: %s", from.identity, msg))

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for m := range r.members {
		if m == from {
			continue
		}
		select {
		case m.outbox <- line:
			delivered++
		default:
			util.ConnLog(m.id).Warn("outbox full, dropping relayed message")
		}
	}
	return delivered
}

// size returns the number of members.
func (r *relay) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
