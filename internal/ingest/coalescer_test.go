package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/internal/buffer"
	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/flush"
	"github.com/wolfman30/inbound-coalescer/internal/session"
)

type armCall struct {
	key         string
	tenant      string
	quietMillis int64
}

type fakeArming struct {
	mu       sync.Mutex
	arms     []armCall
	canceled []string
	err      error
}

func (f *fakeArming) ArmOrExtend(_ context.Context, key, tenant string, quietMillis int64) (debounce.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return debounce.Task{}, f.err
	}
	f.arms = append(f.arms, armCall{key: key, tenant: tenant, quietMillis: quietMillis})
	return debounce.Task{ID: debounce.TaskID(key), SessionKey: key}, nil
}

func (f *fakeArming) Cancel(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, key)
	return nil
}

type fakeImmediate struct {
	msgs []buffer.Message
}

func (f *fakeImmediate) ProcessImmediate(_ context.Context, _ *agent.Config, msg buffer.Message) flush.Outcome {
	f.msgs = append(f.msgs, msg)
	return flush.OutcomeDelivered
}

type ttlStore struct {
	*buffer.MemoryStore
	ttls []time.Duration
	err  error
}

func (s *ttlStore) Append(ctx context.Context, key string, msg buffer.Message, ttl time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.ttls = append(s.ttls, ttl)
	return s.MemoryStore.Append(ctx, key, msg, ttl)
}

type coalescerFixture struct {
	store     *ttlStore
	arming    *fakeArming
	immediate *fakeImmediate
	coalescer *Coalescer
	now       time.Time
}

func newCoalescerFixture(t *testing.T, opts ...Option) *coalescerFixture {
	t.Helper()
	f := &coalescerFixture{
		store:     &ttlStore{MemoryStore: buffer.NewMemoryStore()},
		arming:    &fakeArming{},
		immediate: &fakeImmediate{},
		now:       time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	agents := agent.NewStaticProvider(
		agent.Config{TenantID: "clinic", QuietPeriodMs: 30000},
		agent.Config{TenantID: "instant", DebounceDisabled: true},
	)
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.coalescer = NewCoalescer(agents, f.store, f.arming, f.immediate, nil, opts...)
	return f
}

func TestOnMessage_BuffersAndArms(t *testing.T) {
	f := newCoalescerFixture(t)
	ctx := context.Background()

	out, err := f.coalescer.OnMessage(ctx, InboundEvent{
		Hints:    session.Hints{ChatID: "5511999990000", MessageID: "wamid.1"},
		Text:     "Oi",
		TenantID: "clinic",
		ChatID:   "5511999990000",
	})
	require.NoError(t, err)
	require.Equal(t, Outcome{SessionKey: "chat:5511999990000", Mode: ModeBuffered}, out)

	msgs, err := f.store.ReadAll(ctx, out.SessionKey)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "wamid.1", msgs[0].ID)
	require.Equal(t, buffer.KindText, msgs[0].Kind)
	require.Equal(t, f.now, msgs[0].BufferedAt)
	require.Equal(t, f.now, msgs[0].Timestamp)

	require.Equal(t, []time.Duration{90 * time.Second}, f.store.ttls)
	require.Equal(t, []armCall{{key: "chat:5511999990000", tenant: "clinic", quietMillis: 30000}}, f.arming.arms)
}

func TestOnMessage_MediaFields(t *testing.T) {
	f := newCoalescerFixture(t)
	sent := f.now.Add(-time.Minute)
	out, err := f.coalescer.OnMessage(context.Background(), InboundEvent{
		Hints:      session.Hints{Phone: "+5511"},
		Kind:       buffer.KindImage,
		Text:       "olha isso",
		MediaURL:   "s3://media/1.jpg",
		MediaMIME:  "image/jpeg",
		TenantID:   "clinic",
		ChatID:     "5511",
		ReceivedAt: sent,
	})
	require.NoError(t, err)
	require.Equal(t, "phone:+5511", out.SessionKey)

	msgs, _ := f.store.ReadAll(context.Background(), out.SessionKey)
	require.Len(t, msgs, 1)
	require.Equal(t, sent, msgs[0].Timestamp)
	require.NotEmpty(t, msgs[0].ID)
	require.Equal(t, &buffer.Media{MIME: "image/jpeg", Locator: "s3://media/1.jpg"}, msgs[0].Media)
}

func TestOnMessage_DefaultsKeyToChatID(t *testing.T) {
	f := newCoalescerFixture(t)
	out, err := f.coalescer.OnMessage(context.Background(), InboundEvent{TenantID: "clinic", ChatID: "42", Text: "a"})
	require.NoError(t, err)
	require.Equal(t, "chat:42", out.SessionKey)
}

func TestOnMessage_Validation(t *testing.T) {
	f := newCoalescerFixture(t)
	cases := []InboundEvent{
		{ChatID: "1", Text: "no tenant"},
		{TenantID: "clinic", Text: "no chat"},
		{TenantID: "clinic", ChatID: "1", Kind: "sticker"},
	}
	for _, evt := range cases {
		_, err := f.coalescer.OnMessage(context.Background(), evt)
		require.ErrorIs(t, err, ErrInvalidEvent)
	}
	require.Empty(t, f.arming.arms)
}

func TestOnMessage_UnknownTenant(t *testing.T) {
	f := newCoalescerFixture(t)
	_, err := f.coalescer.OnMessage(context.Background(), InboundEvent{TenantID: "nobody", ChatID: "1", Text: "oi"})
	require.ErrorIs(t, err, agent.ErrConfigNotFound)
}

func TestOnMessage_DebounceDisabledRepliesImmediately(t *testing.T) {
	f := newCoalescerFixture(t)
	out, err := f.coalescer.OnMessage(context.Background(), InboundEvent{TenantID: "instant", ChatID: "7", Text: "oi"})
	require.NoError(t, err)
	require.Equal(t, ModeImmediate, out.Mode)
	require.Len(t, f.immediate.msgs, 1)
	require.Empty(t, f.arming.arms)

	msgs, _ := f.store.ReadAll(context.Background(), out.SessionKey)
	require.Empty(t, msgs)
}

func TestOnMessage_AppendFailurePropagates(t *testing.T) {
	f := newCoalescerFixture(t)
	f.store.err = errors.New("redis down")
	_, err := f.coalescer.OnMessage(context.Background(), InboundEvent{TenantID: "clinic", ChatID: "1", Text: "oi"})
	require.ErrorIs(t, err, ErrBufferUnavailable)
	require.Empty(t, f.arming.arms)
}

func TestOnMessage_DuplicateGuard(t *testing.T) {
	f := newCoalescerFixture(t, WithDuplicateGuard(NewMemoryProcessedStore()))
	evt := InboundEvent{Hints: session.Hints{ChatID: "1", MessageID: "wamid.9"}, TenantID: "clinic", ChatID: "1", Text: "oi"}

	out, err := f.coalescer.OnMessage(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, ModeBuffered, out.Mode)

	out, err = f.coalescer.OnMessage(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, ModeDuplicate, out.Mode)

	msgs, _ := f.store.ReadAll(context.Background(), out.SessionKey)
	require.Len(t, msgs, 1)
	require.Len(t, f.arming.arms, 1)
}

func TestCloseSession(t *testing.T) {
	f := newCoalescerFixture(t)
	ctx := context.Background()
	out, err := f.coalescer.OnMessage(ctx, InboundEvent{TenantID: "clinic", ChatID: "1", Text: "oi"})
	require.NoError(t, err)

	require.NoError(t, f.coalescer.CloseSession(ctx, out.SessionKey))
	require.Equal(t, []string{out.SessionKey}, f.arming.canceled)
	msgs, _ := f.store.ReadAll(ctx, out.SessionKey)
	require.Empty(t, msgs)

	require.ErrorIs(t, f.coalescer.CloseSession(ctx, " "), ErrInvalidEvent)
}
