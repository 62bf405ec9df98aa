package visualiser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type mockSceneStream struct {
	ctx  context.Context
	mu   sync.Mutex
	sent []*structpb.Struct
}

func (m *mockSceneStream) Send(msg *structpb.Struct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSceneStream) Context() context.Context      { return m.ctx }
func (m *mockSceneStream) SetHeader(metadata.MD) error   { return nil }
func (m *mockSceneStream) SendHeader(metadata.MD) error  { return nil }
func (m *mockSceneStream) SetTrailer(metadata.MD)        {}
func (m *mockSceneStream) SendMsg(msg interface{}) error { return nil }
func (m *mockSceneStream) RecvMsg(msg interface{}) error { return nil }

func startPublisher(t *testing.T) *Publisher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	pub := NewPublisher(cfg)
	require.NoError(t, pub.Start())
	t.Cleanup(pub.Stop)
	return pub
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestStreamScenes_EndToEnd(t *testing.T) {
	pub := startPublisher(t)
	client := dial(t, pub.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := sampleFrame()
	first.Seq = 1
	pub.Publish(first)

	all, err := client.StreamScenes(ctx, "")
	require.NoError(t, err)
	got, err := all.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Seq, "late joiner gets the newest frame")
	assert.Len(t, got.Objects, 2)

	second := sampleFrame()
	second.Seq = 2
	pub.Publish(second)
	got, err = all.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)

	couch, err := client.StreamScenes(ctx, "CouchDB")
	require.NoError(t, err)
	got, err = couch.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)
	require.Len(t, got.Objects, 1)
	assert.Equal(t, "ghost", got.Objects[0].Key)

	assert.Eventually(t, func() bool { return pub.Stats().ClientCount == 2 },
		5*time.Second, 10*time.Millisecond)
}

func TestStreamScenes_ClientLimit(t *testing.T) {
	pub := NewPublisher(Config{MaxClients: 1})
	_, _, err := pub.addClient("busy")
	require.NoError(t, err)

	err = NewServer(pub).StreamScenes(&structpb.Struct{}, &mockSceneStream{ctx: context.Background()})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestStreamScenes_ContextCancelled(t *testing.T) {
	pub := NewPublisher(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	stream := &mockSceneStream{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- NewServer(pub).StreamScenes(nil, stream) }()

	assert.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 },
		5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
	assert.Equal(t, int32(0), pub.Stats().ClientCount)
	assert.Empty(t, stream.sent)
}

func TestStreamScenes_EndsOnStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	pub := NewPublisher(cfg)
	require.NoError(t, pub.Start())

	pub.Publish(sampleFrame())
	stream := &mockSceneStream{ctx: context.Background()}
	done := make(chan error, 1)
	go func() { done <- NewServer(pub).StreamScenes(&structpb.Struct{}, stream) }()

	assert.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.sent) == 1
	}, 5*time.Second, 10*time.Millisecond)

	pub.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
}
