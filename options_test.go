package ratelimit

import (
	"testing"
	"time"

	"github.com/driftbucket/ratelimit/backends/memory"
	"github.com/stretchr/testify/require"
)

func TestWithBackend_RejectsNil(t *testing.T) {
	_, err := New(WithBackend(nil))
	require.Error(t, err)
}

func TestWithBackendType_UsesRegistry(t *testing.T) {
	l, err := New(WithBackendType("memory", nil))
	require.NoError(t, err)
	defer l.Close()
	require.NotNil(t, l.GetBackend())
}

func TestWithBackendType_UnknownName(t *testing.T) {
	_, err := New(WithBackendType("made-up", nil))
	require.Error(t, err)
}

func TestWithBuckets_MergesIntoExisting(t *testing.T) {
	l, err := New(
		WithBackend(memory.New()),
		WithBucket("a", perSecondBucket(1)),
		WithBuckets(map[string]TypeDef{"b": perSecondBucket(2)}),
	)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.typeDescriptor("a")
	require.NoError(t, err)
	_, err = l.typeDescriptor("b")
	require.NoError(t, err)
}

func TestWithGlobalTTL_RejectsNonPositive(t *testing.T) {
	_, err := New(WithBackend(memory.New()), WithGlobalTTL(0))
	require.Error(t, err)
}

func TestWithPrefix_AppliedToStoreKeys(t *testing.T) {
	l, err := New(WithBackend(memory.New()), WithBucket("api", perSecondBucket(3)), WithPrefix("tenant1"))
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, "tenant1:api:k1", l.buildKey("api", "k1"))
}

func TestWithPingInterval_RecordedInPolicyNotActedOn(t *testing.T) {
	l, err := New(
		WithBackend(memory.New()),
		WithPingInterval(10*time.Millisecond),
		WithPingRetryPolicy(3, false, 0),
	)
	require.NoError(t, err)
	defer l.Close()

	policy := l.PingPolicy()
	require.Equal(t, 10*time.Millisecond, policy.Interval)
	require.Equal(t, 3, policy.MaxFailedAttempts)

	<-l.Events() // ready
	select {
	case ev := <-l.Events():
		t.Fatalf("expected no further events without a caller-owned prober, got %v", ev)
	default:
	}
}
