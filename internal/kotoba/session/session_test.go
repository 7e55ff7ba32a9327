package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/dispatch"
	"github.com/bdobrica/Kotoba/internal/kotoba/handler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoDispatcher struct {
	calls atomic.Int32
	block bool
	seen  []handler.Conversation
	mu    sync.Mutex
}

func (d *echoDispatcher) Process(ctx context.Context, text string, conv handler.Conversation, _ bool) dispatch.Outcome {
	d.calls.Add(1)
	d.mu.Lock()
	d.seen = append(d.seen, conv)
	d.mu.Unlock()
	if d.block {
		<-ctx.Done()
	}
	return dispatch.Outcome{Success: true, Response: "reply:" + text}
}

type recordingArchiver struct {
	mu      sync.Mutex
	snaps   []archive.Snapshot
	reasons []string
}

func (a *recordingArchiver) ArchiveAsync(snap archive.Snapshot, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
	a.reasons = append(a.reasons, reason)
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reasons)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	m     *Manager
	d     *echoDispatcher
	arch  *recordingArchiver
	clock *clock
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		d:     &echoDispatcher{},
		arch:  &recordingArchiver{},
		clock: &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.m = NewManager(cfg, f.d, Options{
		Archiver: f.arch,
		Model:    func() (string, string) { return "mock", "mock-1" },
		Now:      f.clock.now,
	})
	t.Cleanup(f.m.Close)
	return f
}

func requireInvalid(t *testing.T, err error) *InvalidInputError {
	t.Helper()
	var inv *InvalidInputError
	require.True(t, errors.As(err, &inv), "want InvalidInputError, got %v", err)
	return inv
}

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"  小明  ", "小明", true},
		{"Alice Smith", "Alice Smith", true},
		{"R2-D2", "R2-D2", true},
		{"", "", false},
		{"   ", "", false},
		{strings.Repeat("名字", 10) + "x", "", false},
		{strings.Repeat("名字", 10), strings.Repeat("名字", 10), true},
		{"a!b@c#", "", false},
		{"12345", "", false},
		{"１２３", "", false},
		{"TEST", "", false},
		{"你好", "", false},
		{"admin", "", false},
		{"aaaa", "", false},
		{"aaa", "", false},
		{"zzz", "zzz", true},
	}
	for _, tt := range tests {
		got, err := ValidateIdentity(tt.in)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("ValidateIdentity(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
			continue
		}
		var inv *InvalidInputError
		if !errors.As(err, &inv) || inv.Message == "" {
			t.Errorf("ValidateIdentity(%q) err = %v, want a message", tt.in, err)
		}
	}
}

func TestIsGoodbye(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"bye", true},
		{"Goodbye!", true},
		{"好的，再见", true},
		{"我要睡觉了", true},
		{"ok 886", true},
		{"what about this weekend", false},
		{"今天天气怎么样", false},
		{"in 1988", false},
	}
	for _, tt := range tests {
		if got := IsGoodbye(tt.in); got != tt.want {
			t.Errorf("IsGoodbye(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestManager_IdentityGate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st := f.m.Status("s1")
	assert.Equal(t, AwaitingIdentity, st.State)
	assert.NotEmpty(t, st.Prompt)
	assert.False(t, f.m.Len() > 0, "Status must not create a session")

	_, err := f.m.Chat(ctx, "s1", "   ")
	assert.Equal(t, emptyMessage, requireInvalid(t, err).Message)

	_, err = f.m.Chat(ctx, "s1", "admin")
	requireInvalid(t, err)
	assert.Empty(t, f.m.History("s1"))

	reply, err := f.m.Chat(ctx, "s1", "小明")
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, f.m.Config().Persona.Welcome("小明"), reply.Text)
	assert.Equal(t, Active, reply.Status.State)
	assert.True(t, reply.Status.IdentityVerified)
	assert.Equal(t, "小明", reply.Status.Identity)
	assert.Equal(t, int32(0), f.d.calls.Load())
	require.Len(t, f.m.History("s1"), 1)

	reply, err = f.m.Chat(ctx, "s1", "今天怎么样")
	require.NoError(t, err)
	assert.Equal(t, "reply:今天怎么样", reply.Text)
	assert.Equal(t, 2, reply.Status.TurnCount)
	require.Len(t, f.d.seen, 1)
	assert.Equal(t, "小明", f.d.seen[0].Identity)
	assert.Len(t, f.d.seen[0].Turns, 1)
}

func TestManager_GoodbyeArchivesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.m.SetMeta("s1", archive.Meta{Browser: "firefox", IP: "10.0.0.1"})
	_, err := f.m.Chat(ctx, "s1", "小明")
	require.NoError(t, err)

	reply, err := f.m.Chat(ctx, "s1", "bye")
	require.NoError(t, err)
	assert.Equal(t, "reply:bye", reply.Text)
	assert.True(t, reply.Status.Terminated)
	require.Equal(t, 1, f.arch.count())
	assert.Equal(t, archive.ReasonUserGoodbye, f.arch.reasons[0])

	snap := f.arch.snaps[0]
	assert.Equal(t, "s1", snap.SessionKey)
	assert.Equal(t, "小明", snap.Identity)
	assert.Equal(t, "mock", snap.Provider)
	assert.Equal(t, "mock-1", snap.Model)
	assert.Equal(t, "firefox", snap.Meta.Browser)
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, "bye", snap.Turns[1].User)

	calls := f.d.calls.Load()
	reply, err = f.m.Chat(ctx, "s1", "还在吗")
	require.NoError(t, err)
	assert.Equal(t, f.m.Config().Persona.Farewell(), reply.Text)
	assert.Equal(t, calls, f.d.calls.Load(), "a terminated session must not dispatch")

	_, archived := f.m.Clear(ctx, "s1", "")
	assert.False(t, archived)
	assert.Equal(t, 1, f.arch.count())
}

func TestManager_TurnLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.TurnLimit = 3 })
	ctx := context.Background()

	for _, msg := range []string{"小明", "one", "two"} {
		_, err := f.m.Chat(ctx, "s1", msg)
		require.NoError(t, err)
	}
	st := f.m.Status("s1")
	assert.Equal(t, Terminated, st.State)
	assert.Equal(t, 3, st.TurnCount)
	assert.Equal(t, 0, f.arch.count())

	reply, err := f.m.Chat(ctx, "s1", "three")
	require.NoError(t, err)
	assert.Equal(t, f.m.Config().Persona.LimitReached(3), reply.Text)
	assert.Equal(t, int32(2), f.d.calls.Load())

	st, archived := f.m.Clear(ctx, "s1", archive.ReasonUserClear)
	assert.True(t, archived)
	require.Equal(t, 1, f.arch.count())
	assert.Equal(t, archive.ReasonStorageFull, f.arch.reasons[0])
	assert.Equal(t, AwaitingIdentity, st.State)
	assert.Zero(t, st.TurnCount)
	assert.Empty(t, st.Identity)
}

func TestManager_ClearWithoutIdentity(t *testing.T) {
	t.Run("awaiting identity", func(t *testing.T) {
		f := newFixture(t, nil)
		f.m.Create("s1")
		_, archived := f.m.Clear(context.Background(), "s1", "")
		assert.False(t, archived)
		assert.Zero(t, f.arch.count())
	})

	t.Run("verification disabled", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.VerifyIdentity = false })
		ctx := context.Background()

		reply, err := f.m.Chat(ctx, "s1", "hello")
		require.NoError(t, err)
		assert.Equal(t, "reply:hello", reply.Text)

		st, archived := f.m.Clear(ctx, "s1", "")
		assert.False(t, archived)
		assert.Zero(t, f.arch.count())
		assert.Equal(t, Active, st.State)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, nil)
		_, archived := f.m.Clear(context.Background(), "nope", "")
		assert.False(t, archived)
		_, ok := f.m.Get("nope")
		assert.False(t, ok)
	})
}

func TestManager_RateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.VerifyIdentity = false
		c.RateLimit = 2
	})
	ctx := context.Background()

	for range 2 {
		_, err := f.m.Chat(ctx, "s1", "hi there")
		require.NoError(t, err)
	}
	_, err := f.m.Chat(ctx, "s1", "hi there")
	assert.Equal(t, f.m.Config().Persona.SlowDown(), requireInvalid(t, err).Message)
	assert.Len(t, f.m.History("s1"), 2)

	f.clock.advance(time.Minute + time.Second)
	_, err = f.m.Chat(ctx, "s1", "hi there")
	assert.NoError(t, err)
}

func TestManager_Timeout(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.VerifyIdentity = false
		c.RequestTimeout = 20 * time.Millisecond
	})
	f.d.block = true

	reply, err := f.m.Chat(context.Background(), "s1", "slow question")
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Equal(t, "the request timed out after 20ms", reply.Error)
	assert.Equal(t, f.m.Config().Persona.Apology(), reply.Text)

	hist := f.m.History("s1")
	require.Len(t, hist, 1)
	assert.Equal(t, "slow question", hist[0].User)
	assert.Equal(t, f.m.Config().Persona.Apology(), hist[0].Assistant)
	assert.Equal(t, Active, f.m.Status("s1").State)
}

func TestManager_MaxHistory(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.VerifyIdentity = false
		c.MaxHistory = 2
	})
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		_, err := f.m.Chat(ctx, "s1", msg)
		require.NoError(t, err)
	}
	hist := f.m.History("s1")
	require.Len(t, hist, 2)
	assert.Equal(t, "two", hist[0].User)
	assert.Equal(t, "three", hist[1].User)
	assert.Equal(t, 3, f.m.Status("s1").TurnCount)
}

func TestManager_ConfigureVerification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.m.Create("s1")

	cfg := f.m.Config()
	cfg.VerifyIdentity = false
	f.m.Configure(cfg)

	reply, err := f.m.Chat(ctx, "s1", "admin")
	require.NoError(t, err)
	assert.Equal(t, "reply:admin", reply.Text)
	assert.False(t, reply.Status.IdentityVerified)
}

func TestManager_Sweep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.m.Chat(ctx, "verified", "小明")
	require.NoError(t, err)
	f.m.Create("anonymous")

	f.clock.advance(time.Hour)
	_, err = f.m.Chat(ctx, "fresh", "小红")
	require.NoError(t, err)

	f.clock.advance(90 * time.Minute)
	assert.Equal(t, 2, f.m.Sweep(2*time.Hour))
	assert.Equal(t, 1, f.m.Len())
	_, ok := f.m.Get("fresh")
	assert.True(t, ok)

	require.Equal(t, 1, f.arch.count())
	assert.Equal(t, archive.ReasonIdleTimeout, f.arch.reasons[0])
	assert.Equal(t, "verified", f.arch.snaps[0].SessionKey)
}

func TestManager_RunSweeperStops(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.m.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not stop")
	}
}

func TestManager_ConcurrentSessions(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.VerifyIdentity = false })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := []string{"a", "b"}[i%2]
			_, err := f.m.Chat(ctx, id, "message")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, f.m.Status("a").TurnCount)
	assert.Equal(t, 4, f.m.Status("b").TurnCount)
}

func TestRateLimiter_Remaining(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	r := NewRateLimiter(3, time.Minute)
	r.now = c.now

	assert.Equal(t, 3, r.Remaining("k"))
	assert.True(t, r.Allow("k"))
	assert.True(t, r.Allow("k"))
	assert.Equal(t, 1, r.Remaining("k"))

	r.SetLimit(1)
	assert.False(t, r.Allow("k"))
	r.Forget("k")
	assert.True(t, r.Allow("k"))
}
