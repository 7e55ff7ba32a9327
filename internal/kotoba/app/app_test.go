package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/config"
	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.HTTP.Addr = ""
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := New(context.Background(), config.NewHolder(&cfg), "", nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNew_ChatThroughMockProvider(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Session.VerifyIdentity = false })

	reply, err := a.Sessions().Chat(context.Background(), "s1", "我最近有点累")
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.NotEmpty(t, reply.Text)
	assert.Equal(t, session.Active, reply.Status.State)
	assert.Equal(t, 1, reply.Status.TurnCount)
	assert.Equal(t, llm.ProviderMock, a.LLM().Current())
}

func TestGoodbyeIsArchived(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	for _, msg := range []string{"小明", "我最近有点累", "再见"} {
		_, err := a.Sessions().Chat(ctx, "s1", msg)
		require.NoError(t, err, msg)
	}
	a.archiver.Wait()

	history, err := a.Archive().SessionHistory(ctx, "小明", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, archive.ReasonUserGoodbye, history[0].EndReason)

	detail, err := a.Archive().SessionDetail(ctx, history[0].ID)
	require.NoError(t, err)
	assert.Equal(t, history[0].TotalMessages, len(detail.Messages))
}

func TestApply_UpdatesRunningComponents(t *testing.T) {
	a := newTestApp(t, nil)
	prev := a.Config()

	next := config.Default()
	next.Database.Path = ":memory:"
	next.HTTP.Addr = ""
	next.Session.TurnLimit = 5
	next.Session.VerifyIdentity = false
	a.apply(context.Background(), prev, &next)

	cfg := a.Sessions().Config()
	assert.Equal(t, 5, cfg.TurnLimit)
	assert.False(t, cfg.VerifyIdentity)

	reply, err := a.Sessions().Chat(context.Background(), "s2", "hello there")
	require.NoError(t, err)
	assert.Equal(t, session.Active, reply.Status.State, "verification switched off by the reload")
}

func TestApply_BadProviderKeepsCurrent(t *testing.T) {
	a := newTestApp(t, nil)
	prev := a.Config()

	next := *prev
	next.LLM.Current = llm.ProviderAnthropic
	next.LLM.Providers = map[llm.Provider]llm.Config{
		llm.ProviderAnthropic: {Provider: llm.ProviderAnthropic},
	}
	a.apply(context.Background(), prev, &next)

	assert.Equal(t, llm.ProviderMock, a.LLM().Current())
}
