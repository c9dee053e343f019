package redisstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/backend"
	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/redisstore"
	"github.com/roach88/revsync/internal/textop"
)

var _ backend.Driver = (*redisstore.Store)(nil)

// Two engines sharing one Redis converge and contested slots resolve.
func TestRedisDriver_EnginesConverge(t *testing.T) {
	mr := miniredis.RunT(t)
	s := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })

	run := func(author string) (*engine.Engine, *acks) {
		r := backend.NewRemote(s, "doc")
		e, err := engine.New(r, textop.Codec{}, engine.WithAuthor(author))
		require.NoError(t, err)
		a := &acks{}
		e.OnEvent(a.on)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = e.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
			e.Dispose()
			r.Close()
		})
		require.Eventually(t, func() bool { return e.State() == engine.StateReady }, 5*time.Second, 5*time.Millisecond)
		return e, a
	}

	alice, aliceAcks := run("alice")
	bob, _ := run("bob")

	require.NoError(t, alice.Submit(textop.FromText("redis"), nil))
	require.Eventually(t, aliceAcks.seen, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		txt, _ := textop.DocumentText(bob.Document())
		return txt == "redis"
	}, 5*time.Second, 5*time.Millisecond)
}

type acks struct {
	mu sync.Mutex
	n  int
}

func (a *acks) on(ev engine.Event) {
	if ev.Type != engine.EventAck {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
}

func (a *acks) seen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n > 0
}
