package inference

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
)

type stubLLMClient struct {
	resp  LLMResponse
	err   error
	delay time.Duration
	calls int
	last  LLMRequest
}

func (s *stubLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.calls++
	s.last = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return LLMResponse{}, ctx.Err()
		}
	}
	return s.resp, s.err
}

func testConfig() *agent.Config {
	cfg := &agent.Config{
		TenantID: "tenant-1",
		Persona:  agent.Persona{Name: "Ana", Company: "Clínica Sol", Tone: "amigável"},
		KnowledgeBase: []agent.KnowledgeEntry{
			{Question: "Qual o horário?", Answer: "Das 9h às 18h."},
		},
		Rules: []string{"Nunca prometa descontos."},
	}
	cfg.Normalize()
	return cfg
}

func TestInvoker_ReplySuccess(t *testing.T) {
	llm := &stubLLMClient{resp: LLMResponse{Text: "Olá! Funcionamos das 9h às 18h."}}
	reg := NewRegistry(nil, WithBedrock(llm, "anthropic.claude-3-haiku"))
	inv := NewInvoker(reg, nil, nil)

	reply, ok := inv.Reply(context.Background(), testConfig(), "Oi\n\nqual o horário?")
	require.True(t, ok)
	require.Equal(t, "Olá! Funcionamos das 9h às 18h.", reply)
	require.Equal(t, "anthropic.claude-3-haiku", llm.last.Model)
	require.Len(t, llm.last.Messages, 1)
	require.Equal(t, "Oi\n\nqual o horário?", llm.last.Messages[0].Content)
	require.Equal(t, int32(512), llm.last.MaxTokens)

	system := strings.Join(llm.last.System, "\n")
	require.Contains(t, system, "Ana")
	require.Contains(t, system, "Q: Qual o horário?")
	require.Contains(t, system, "Nunca prometa descontos.")
	require.Contains(t, system, "Always reply in pt-BR.")
}

func TestInvoker_FailuresReturnNotOK(t *testing.T) {
	cases := []struct {
		name string
		llm  *stubLLMClient
	}{
		{"engine error", &stubLLMClient{err: errors.New("boom")}},
		{"empty text", &stubLLMClient{resp: LLMResponse{Text: "   "}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := NewInvoker(NewRegistry(nil, WithBedrock(tc.llm, "m")), nil, nil)
			reply, ok := inv.Reply(context.Background(), testConfig(), "Oi")
			require.False(t, ok)
			require.Empty(t, reply)
		})
	}
}

func TestInvoker_Timeout(t *testing.T) {
	llm := &stubLLMClient{resp: LLMResponse{Text: "tarde demais"}, delay: time.Second}
	inv := NewInvoker(NewRegistry(nil, WithBedrock(llm, "m")), nil, nil)
	cfg := testConfig()
	cfg.Model.TimeoutMs = 20

	_, ok := inv.Reply(context.Background(), cfg, "Oi")
	require.False(t, ok)
}

func TestInvoker_MissingCredentialsSkipsEngine(t *testing.T) {
	inv := NewInvoker(NewRegistry(nil), nil, nil)
	cfg := testConfig()
	cfg.Model.Provider = agent.ProviderGemini

	_, ok := inv.Reply(context.Background(), cfg, "Oi")
	require.False(t, ok)

	_, ok = inv.Reply(context.Background(), nil, "Oi")
	require.False(t, ok)
}

func TestInvoker_EmptyContextSkipsEngine(t *testing.T) {
	llm := &stubLLMClient{resp: LLMResponse{Text: "x"}}
	inv := NewInvoker(NewRegistry(nil, WithBedrock(llm, "m")), nil, nil)
	_, ok := inv.Reply(context.Background(), testConfig(), "  \n ")
	require.False(t, ok)
	require.Zero(t, llm.calls)
}
