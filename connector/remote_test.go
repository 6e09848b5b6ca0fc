package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/pkg/jsoncodec"
)

type capturingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *capturingPublisher) Publish(_ context.Context, subj string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subj)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestRemotePublishesOperationSubjects(t *testing.T) {
	pub := &capturingPublisher{}
	r := NewRemote("cytu.be", "lounge", pub)
	ctx := context.Background()

	require.NoError(t, r.SendChat(ctx, ChatParams{Message: "hi"}))
	require.NoError(t, r.AddVideo(ctx, AddVideoParams{URL: "yt:abc", Position: "end"}))
	require.NoError(t, r.Pause(ctx))
	require.NoError(t, r.KickUser(ctx, KickUserParams{Username: "bob", Reason: "spam"}))

	assert.Equal(t, []string{
		"origin.do.cytu.be.lounge.chat",
		"origin.do.cytu.be.lounge.add_video",
		"origin.do.cytu.be.lounge.pause",
		"origin.do.cytu.be.lounge.kick_user",
	}, pub.subjects)

	var chat ChatParams
	require.NoError(t, jsoncodec.Unmarshal(pub.payloads[0], &chat))
	assert.Equal(t, "hi", chat.Message)
}

func TestRemoteCommandPrefixOverride(t *testing.T) {
	pub := &capturingPublisher{}
	r := NewRemote("cytu.be", "lounge", pub, WithCommandPrefix("session.ops"))

	require.NoError(t, r.Play(context.Background()))
	assert.Equal(t, []string{"session.ops.cytu.be.lounge.play"}, pub.subjects)
}

func TestRemotePublishFailureWrapped(t *testing.T) {
	pub := &capturingPublisher{err: assert.AnError}
	r := NewRemote("cytu.be", "lounge", pub)

	err := r.VoteSkip(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

type capturingSubscriber struct {
	subject     string
	handler     func(context.Context, natsclient.Msg)
	unsubCalled int
}

func (s *capturingSubscriber) SubscribeMsg(_ context.Context, subj string, handler func(context.Context, natsclient.Msg)) (func() error, error) {
	s.subject = subj
	s.handler = handler
	return func() error {
		s.unsubCalled++
		return nil
	}, nil
}

func TestRemoteSourceDeliversEvents(t *testing.T) {
	sub := &capturingSubscriber{}
	src := NewRemoteSource("cytu.be", "lounge", sub)
	require.NoError(t, src.Start(context.Background()))

	assert.Equal(t, "origin.events.cytu.be.lounge.>", sub.subject)

	sub.handler(context.Background(), natsclient.Msg{
		Subject: "origin.events.cytu.be.lounge.chatmsg",
		Data:    []byte(`{"username":"alice","msg":"hi"}`),
	})

	ev := <-src.Events()
	assert.Equal(t, "cytu.be", ev.Domain)
	assert.Equal(t, "lounge", ev.Channel)
	assert.Equal(t, "chatmsg", ev.Name)
	assert.JSONEq(t, `{"username":"alice","msg":"hi"}`, string(ev.Data))
}

func TestRemoteSourceDropsUnparseableSubjects(t *testing.T) {
	sub := &capturingSubscriber{}
	src := NewRemoteSource("cytu.be", "lounge", sub)
	require.NoError(t, src.Start(context.Background()))

	sub.handler(context.Background(), natsclient.Msg{Subject: "elsewhere.topic", Data: []byte(`{}`)})

	select {
	case ev := <-src.Events():
		t.Fatalf("unexpected event delivered: %+v", ev)
	default:
	}
}

func TestRemoteSourceStopClosesChannel(t *testing.T) {
	sub := &capturingSubscriber{}
	src := NewRemoteSource("cytu.be", "lounge", sub)
	require.NoError(t, src.Start(context.Background()))

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())
	assert.Equal(t, 1, sub.unsubCalled)

	_, open := <-src.Events()
	assert.False(t, open)
}

func TestRemoteSourceLateDeliveryAfterStop(t *testing.T) {
	sub := &capturingSubscriber{}
	src := NewRemoteSource("cytu.be", "lounge", sub)
	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Stop())

	// A message already dispatched by the delivery goroutine can land after
	// the unsubscribe. It must be dropped, not sent on the closed channel.
	assert.NotPanics(t, func() {
		sub.handler(context.Background(), natsclient.Msg{
			Subject: "origin.events.cytu.be.lounge.chatmsg",
			Data:    []byte(`{"msg":"late"}`),
		})
	})

	_, open := <-src.Events()
	assert.False(t, open)
}

func TestRemoteSourceNoRestartAfterStop(t *testing.T) {
	sub := &capturingSubscriber{}
	src := NewRemoteSource("cytu.be", "lounge", sub)
	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Stop())

	err := src.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestRemoteSourceBufferFullDrops(t *testing.T) {
	sub := &capturingSubscriber{}
	src := NewRemoteSource("cytu.be", "lounge", sub, WithBuffer(1))
	require.NoError(t, src.Start(context.Background()))

	for i := 0; i < 3; i++ {
		sub.handler(context.Background(), natsclient.Msg{
			Subject: "origin.events.cytu.be.lounge.chatmsg",
			Data:    []byte(`{}`),
		})
	}

	// Only the first fits; the rest are dropped without blocking.
	assert.Len(t, src.Events(), 1)
}
