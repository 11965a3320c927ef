package coordination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T, opts QueueOptions) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := Dial(Config{Address: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewQueue(rdb, "gantry", opts), mr
}

func TestQueueDeliversInOrder(t *testing.T) {
	q, _ := testQueue(t, QueueOptions{Workers: 1, EmptyBackoff: 10 * time.Millisecond})
	ctx := context.Background()

	for _, id := range []string{"deploy-1", "deploy-2", "deploy-3"} {
		_, err := q.Enqueue(ctx, KindDeploy, id)
		require.NoError(t, err)
	}

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)

	var mu sync.Mutex
	var got []string
	q.Start(func(ctx context.Context, msg Message) error {
		mu.Lock()
		got = append(got, msg.DeploymentID)
		mu.Unlock()
		return nil
	})
	defer q.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"deploy-1", "deploy-2", "deploy-3"}, got)
	mu.Unlock()

	// Everything acknowledged
	require.Eventually(t, func() bool {
		n, err := q.ProcessingLength(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueCarriesKind(t *testing.T) {
	q, _ := testQueue(t, QueueOptions{Workers: 1, EmptyBackoff: 10 * time.Millisecond})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, KindResume, "deploy-9")
	require.NoError(t, err)

	received := make(chan Message, 1)
	q.Start(func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	})
	defer q.Stop()

	select {
	case msg := <-received:
		assert.Equal(t, KindResume, msg.Kind)
		assert.Equal(t, "deploy-9", msg.DeploymentID)
		assert.NotEmpty(t, msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestFailedMessageIsRedelivered(t *testing.T) {
	lease := 100 * time.Millisecond
	q, mr := testQueue(t, QueueOptions{
		Workers:      1,
		LockDuration: lease,
		EmptyBackoff: 10 * time.Millisecond,
		ReapInterval: 20 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, KindDeploy, "deploy-1")
	require.NoError(t, err)

	var mu sync.Mutex
	attempts := 0
	firstFailed := make(chan struct{})
	q.Start(func(ctx context.Context, msg Message) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			close(firstFailed)
			return assert.AnError
		}
		return nil
	})
	defer q.Stop()

	select {
	case <-firstFailed:
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery never happened")
	}

	// The message sits on the processing list until its lock lapses
	n, err := q.ProcessingLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Let the lock expire; the reaper returns the message to the queue and
	// the worker picks it up again
	mr.FastForward(2 * lease)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := q.ProcessingLength(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnparseableMessageIsDiscarded(t *testing.T) {
	q, mr := testQueue(t, QueueOptions{Workers: 1, EmptyBackoff: 10 * time.Millisecond})
	ctx := context.Background()

	// Inject garbage directly, bypassing Enqueue
	mr.Lpush(q.queueKey(), "not json")
	_, err := q.Enqueue(ctx, KindDeploy, "deploy-1")
	require.NoError(t, err)

	received := make(chan Message, 1)
	q.Start(func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	})
	defer q.Stop()

	// The garbage never reaches the handler; the real message does
	select {
	case msg := <-received:
		assert.Equal(t, "deploy-1", msg.DeploymentID)
	case <-time.After(5 * time.Second):
		t.Fatal("valid message not delivered")
	}

	require.Eventually(t, func() bool {
		n, err := q.ProcessingLength(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReapOnlyTouchesAbandonedMessages(t *testing.T) {
	q, _ := testQueue(t, QueueOptions{
		Workers:      1,
		LockDuration: time.Minute,
		EmptyBackoff: 10 * time.Millisecond,
		ReapInterval: time.Minute,
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, KindDeploy, "deploy-1")
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	q.Start(func(ctx context.Context, msg Message) error {
		close(started)
		<-release
		return nil
	})
	defer q.Stop()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	// The in-flight message holds its lock, so the reaper leaves it alone
	q.reapOnce()
	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	n, err = q.ProcessingLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	close(release)
	require.Eventually(t, func() bool {
		n, err := q.ProcessingLength(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}
