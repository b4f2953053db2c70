package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
)

type closingClient struct {
	stubLLMClient
	closed bool
}

func (c *closingClient) Close() error {
	c.closed = true
	return nil
}

func TestRegistry_GeminiUsesTenantKeyAndCaches(t *testing.T) {
	var keys []string
	created := map[string]*closingClient{}
	reg := NewRegistry(nil,
		WithGemini("platform-key", "gemini-2.5-flash"),
		WithGeminiFactory(func(_ context.Context, apiKey, _ string) (LLMClient, error) {
			keys = append(keys, apiKey)
			c := &closingClient{stubLLMClient: stubLLMClient{resp: LLMResponse{Text: "ok"}}}
			created[apiKey] = c
			return c, nil
		}),
	)

	cfg := &agent.Config{TenantID: "t", Model: agent.Model{Provider: agent.ProviderGemini}, Credentials: agent.Credentials{APIKey: "tenant-key"}}
	cfg.Normalize()

	for i := 0; i < 2; i++ {
		client, err := reg.ClientFor(context.Background(), cfg)
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"tenant-key"}, keys)
	require.Equal(t, "gemini-2.5-flash", created["tenant-key"].last.Model)

	cfg.Credentials.APIKey = ""
	_, err := reg.ClientFor(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"tenant-key", "platform-key"}, keys)

	require.NoError(t, reg.Close())
	require.True(t, created["tenant-key"].closed)
}

func TestRegistry_MissingCredentials(t *testing.T) {
	reg := NewRegistry(nil)

	_, err := reg.ClientFor(context.Background(), &agent.Config{Model: agent.Model{Provider: agent.ProviderGemini}})
	require.ErrorIs(t, err, ErrMissingCredentials)

	_, err = reg.ClientFor(context.Background(), &agent.Config{Model: agent.Model{Provider: agent.ProviderBedrock}})
	require.ErrorIs(t, err, ErrMissingCredentials)

	reg = NewRegistry(nil, WithBedrock(&stubLLMClient{}, ""))
	_, err = reg.ClientFor(context.Background(), &agent.Config{Model: agent.Model{Provider: agent.ProviderBedrock}})
	require.ErrorIs(t, err, ErrMissingCredentials)

	_, err = reg.ClientFor(context.Background(), &agent.Config{Model: agent.Model{Provider: "openai"}})
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = reg.ClientFor(context.Background(), nil)
	require.ErrorIs(t, err, agent.ErrConfigNotFound)
}

func TestRegistry_FallbackProvider(t *testing.T) {
	primary := &stubLLMClient{err: errors.New("bedrock throttled")}
	fallback := &stubLLMClient{resp: LLMResponse{Text: "resposta"}}
	reg := NewRegistry(nil,
		WithBedrock(primary, "anthropic.claude-3-haiku"),
		WithGemini("platform-key", ""),
		WithGeminiFactory(func(context.Context, string, string) (LLMClient, error) { return fallback, nil }),
	)

	cfg := &agent.Config{Model: agent.Model{Provider: agent.ProviderBedrock, FallbackProvider: agent.ProviderGemini, FallbackModelID: "gemini-2.0-flash"}}
	cfg.Normalize()
	client, err := reg.ClientFor(context.Background(), cfg)
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}})
	require.NoError(t, err)
	require.Equal(t, "resposta", resp.Text)
	require.Equal(t, "anthropic.claude-3-haiku", primary.last.Model)
	require.Equal(t, "gemini-2.0-flash", fallback.last.Model)
}

func TestFallbackLLMClient(t *testing.T) {
	ok := &stubLLMClient{resp: LLMResponse{Text: "primary"}}
	resp, err := NewFallbackLLMClient(ok, nil, nil).Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	require.Equal(t, "primary", resp.Text)

	boom := errors.New("boom")
	_, err = NewFallbackLLMClient(&stubLLMClient{err: boom}, nil, nil).Complete(context.Background(), LLMRequest{})
	require.ErrorIs(t, err, boom)

	second := errors.New("second")
	_, err = NewFallbackLLMClient(&stubLLMClient{err: boom}, &stubLLMClient{err: second}, nil).Complete(context.Background(), LLMRequest{})
	require.ErrorIs(t, err, second)
	require.ErrorIs(t, err, boom)
}

func TestFallbackLLMClient_SkipsFallbackAfterDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fallback := &stubLLMClient{resp: LLMResponse{Text: "late"}}

	_, err := NewFallbackLLMClient(&stubLLMClient{err: context.Canceled}, fallback, nil).Complete(ctx, LLMRequest{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, fallback.calls)
}

func TestBuildSystemPrompt(t *testing.T) {
	blocks := BuildSystemPrompt(&agent.Config{
		Persona:       agent.Persona{Company: "Clínica Sol", Role: "recepcionista"},
		KnowledgeBase: []agent.KnowledgeEntry{{Question: "", Answer: "ignored"}},
		Language:      "en-US",
	})
	require.Len(t, blocks, 2)
	require.Equal(t, "You are an assistant representing Clínica Sol. Your role: recepcionista.", blocks[0])
	require.Contains(t, blocks[1], "Always reply in en-US.")
	require.Contains(t, blocks[1], "ask a short clarifying question")

	require.Len(t, BuildSystemPrompt(nil), 1)
}
