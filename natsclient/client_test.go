package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, int32(5), c.circuitThreshold)
	assert.Equal(t, time.Minute, c.maxBackoff)
	assert.Equal(t, time.Second, c.Backoff())
	assert.Equal(t, int32(0), c.Failures())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(10),
		WithReconnectWait(time.Second),
		WithCircuitBreakerThreshold(3),
		WithMaxBackoff(10*time.Second),
		WithName("bridge-test"),
		WithMessageTimeout(time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, 10, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, int32(3), c.circuitThreshold)
	assert.Equal(t, 10*time.Second, c.maxBackoff)
	assert.Equal(t, "bridge-test", c.clientName)
	assert.Equal(t, time.Second, c.msgTimeout)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, int32(3), c.Failures())
}

func TestCircuitBreaker_BackoffGrows(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(1),
		WithMaxBackoff(4*time.Second),
	)
	require.NoError(t, err)

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())

	c.recordFailure()
	assert.Equal(t, 4*time.Second, c.Backoff())

	// Capped at maxBackoff
	c.recordFailure()
	assert.Equal(t, 4*time.Second, c.Backoff())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.resetCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(0), c.Failures())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestCircuitBreaker_TestCircuit(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.testCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnect_CircuitOpenRejects(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	c.setStatus(StatusCircuitOpen)

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestOperations_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx := context.Background()

	err = c.Publish(ctx, "bridge.events.test", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Request(ctx, "bridge.service.command", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Subscribe(ctx, "bridge.commands.>", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.SubscribeMsg(ctx, "bridge.commands.>", func(context.Context, Msg) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.GetKeyValueBucket(ctx, "bridge_lounge_emotes")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCredentials("user", "pass"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	// Credentials are wiped on close
	assert.Empty(t, c.username)
	assert.Empty(t, c.password)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = c.WaitForConnection(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUptime_ZeroWhenDisconnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), c.Uptime())
	assert.Equal(t, int32(0), c.Reconnects())
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.False(t, isAlreadyExistsError(assert.AnError))
	assert.True(t, isAlreadyExistsError(errBucketInUse{}))
}

type errBucketInUse struct{}

func (errBucketInUse) Error() string { return "bucket name already in use" }
