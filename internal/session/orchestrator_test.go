package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/recovery"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      [][]byte
	onMessage func([]byte)

	establishErr   error
	establishCalls int
	restartCalls   int
	recreateCalls  int
	recreateDC     *webrtc.DataChannel
	reconnectCalls int
	reconnectErr   error
	closed         bool
	cred           core.Credential
}

func (f *fakeTransport) Establish(_ context.Context, cred core.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.establishCalls++
	f.cred = cred
	return f.establishErr
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) SendMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) SetOnMessage(fn func([]byte)) { f.onMessage = fn }
func (f *fakeTransport) SetOnFailure(func(error))     {}

func (f *fakeTransport) RestartMedia(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCalls++
	return nil
}

func (f *fakeTransport) RecreateChannel(context.Context) *webrtc.DataChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recreateCalls++
	return f.recreateDC
}

func (f *fakeTransport) FullReconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnectCalls++
	return f.reconnectErr
}

func (f *fakeTransport) UpdateCredential(cred core.Credential) {
	f.mu.Lock()
	f.cred = cred
	f.mu.Unlock()
}

func (f *fakeTransport) Stats() core.ConnectionStats { return core.ConnectionStats{} }
func (f *fakeTransport) State() core.ConnectionState { return core.StateConnected }

func (f *fakeTransport) sentTypes(t *testing.T) []MessageType {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MessageType, len(f.sent))
	for i, raw := range f.sent {
		var env envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out[i] = env.Type
	}
	return out
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestOrchestrator(tr *fakeTransport) (*Orchestrator, *core.Bus) {
	bus := core.NewBus()
	router := recovery.NewRouter(bus, 3, recovery.BackoffPolicy{Base: 0, Cap: time.Second, Multiplier: 2})
	creds := &StaticCredentialProvider{Token: "tok"}
	return NewOrchestrator(tr, nil, router, creds, bus), bus
}

func TestConnectEstablishesAndQueuesSessionConfig(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.NoError(t, o.Connect(context.Background()))
	require.Equal(t, 1, tr.establishCalls)
	require.Equal(t, "tok", tr.cred.Token)
	require.Equal(t, []MessageType{MsgSessionUpdate}, tr.sentTypes(t))
}

func TestConnectCredentialFailure(t *testing.T) {
	tr := &fakeTransport{}
	bus := core.NewBus()
	router := recovery.NewRouter(bus, 3, recovery.DefaultBackoffPolicy())
	o := NewOrchestrator(tr, nil, router, &StaticCredentialProvider{}, bus)

	err := o.Connect(context.Background())
	var fault *core.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, core.FaultAuthenticationFailed, fault.Code)
	require.Zero(t, tr.establishCalls)
}

func TestSendTextDispatchesItemAndResponse(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.NoError(t, o.SendText("hello there"))
	require.Equal(t, []MessageType{MsgConversationItemCreate, MsgResponseCreate}, tr.sentTypes(t))

	var item conversationItemCreate
	require.NoError(t, json.Unmarshal(tr.sent[0], &item))
	require.Equal(t, "user", item.Item.Role)
	require.Equal(t, "hello there", item.Item.Content[0].Text)
}

// A second turn while a response is outstanding fails locally with no
// extra wire traffic.
func TestSendTextRejectedWhilePending(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.NoError(t, o.SendText("first"))
	before := tr.sentCount()

	require.ErrorIs(t, o.SendText("second"), ErrResponsePending)
	require.Equal(t, before, tr.sentCount())
}

func TestResponseLifecycleClearsGuard(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.NoError(t, o.SendText("first"))
	tr.onMessage([]byte(`{"type":"response.created","response":{"id":"resp_1"}}`))

	pending, id := o.PendingResponse()
	require.True(t, pending)
	require.Equal(t, "resp_1", id)

	// A done event for an unrelated response changes nothing.
	tr.onMessage([]byte(`{"type":"response.done","response":{"id":"resp_other"}}`))
	pending, _ = o.PendingResponse()
	require.True(t, pending)

	tr.onMessage([]byte(`{"type":"response.done","response":{"id":"resp_1"}}`))
	pending, _ = o.PendingResponse()
	require.False(t, pending)

	require.NoError(t, o.SendText("second"))
}

func TestSpeechStartedBargeInResetsGuard(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.NoError(t, o.SendText("first"))
	tr.onMessage([]byte(`{"type":"response.created","response":{"id":"resp_1"}}`))
	tr.onMessage([]byte(`{"type":"input_audio_buffer.speech_started"}`))

	pending, _ := o.PendingResponse()
	require.False(t, pending)
}

func TestTranscriptDeltasForwarded(t *testing.T) {
	tr := &fakeTransport{}
	_, bus := newTestOrchestrator(tr)

	var mu sync.Mutex
	var deltas []core.TranscriptPayload
	bus.Subscribe(func(ev core.Event) {
		if ev.Type == core.EventTranscriptDelta || ev.Type == core.EventTranscriptDone {
			mu.Lock()
			deltas = append(deltas, ev.Payload.(core.TranscriptPayload))
			mu.Unlock()
		}
	})

	tr.onMessage([]byte(`{"type":"response.text.delta","response_id":"resp_1","delta":"hel"}`))
	tr.onMessage([]byte(`{"type":"response.text.delta","response_id":"resp_1","delta":"lo"}`))
	tr.onMessage([]byte(`{"type":"response.text.done","response_id":"resp_1"}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deltas, 3)
	require.Equal(t, "hel", deltas[0].Text)
	require.Equal(t, "lo", deltas[1].Text)
	require.True(t, deltas[2].Final)
}

func TestFaultRoutingRestartsMedia(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	out := o.HandleFault(context.Background(), core.NewFault(core.FaultMediaConnection, "ice dropped"))
	require.Equal(t, recovery.OutcomeRecovered, out)
	require.Equal(t, 1, tr.restartCalls)
	require.Zero(t, tr.reconnectCalls)
}

func TestFaultRoutingRecreatesChannel(t *testing.T) {
	tr := &fakeTransport{recreateDC: &webrtc.DataChannel{}}
	o, _ := newTestOrchestrator(tr)

	out := o.HandleFault(context.Background(), core.NewFault(core.FaultChannelFailed, "dc closed"))
	require.Equal(t, recovery.OutcomeRecovered, out)
	require.Equal(t, 1, tr.recreateCalls)
}

// A reconnect strategy abandons any outstanding response.
func TestFullReconnectClearsPendingResponse(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.NoError(t, o.SendText("first"))
	out := o.HandleFault(context.Background(), core.NewFault(core.FaultNetworkTimeout, "stalled"))
	require.Equal(t, recovery.OutcomeRecovered, out)
	require.Equal(t, 1, tr.reconnectCalls)

	pending, _ := o.PendingResponse()
	require.False(t, pending)
}

func TestStatusAccessorsMirrorTransport(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.Equal(t, core.StateConnected, o.State())
	require.Equal(t, core.ConnectionStats{}, o.Stats())
}

func TestCloseTearsDownTransport(t *testing.T) {
	tr := &fakeTransport{}
	o, _ := newTestOrchestrator(tr)

	require.NoError(t, o.SendText("first"))
	o.Close()
	require.True(t, tr.closed)

	pending, _ := o.PendingResponse()
	require.False(t, pending)
}

func TestStaticCredentialProvider(t *testing.T) {
	p := &StaticCredentialProvider{Token: "tok", TTL: time.Minute}
	cred, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", cred.Token)
	require.NotEmpty(t, cred.SessionID)
	require.WithinDuration(t, time.Now().Add(time.Minute), cred.ExpiresAt, 5*time.Second)

	_, err = (&StaticCredentialProvider{}).Refresh(context.Background())
	var fault *core.Fault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, core.FaultAuthenticationFailed, fault.Code)
}
