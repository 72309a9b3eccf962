package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(i))
	}
	for i := 0; i < 10; i++ {
		v, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()

	done := make(chan string)
	go func() {
		v, err := q.Pop(context.Background())
		if err != nil {
			done <- "err:" + err.Error()
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push("hello"))

	select {
	case v := <-done:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("pop never woke up")
	}
}

func TestPopContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error)
	go func() {
		_, err := q.Pop(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pop never returned after cancel")
	}
}

func TestCloseDrainsThenFails(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	q.Close()

	// Items queued before close are still delivered.
	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Push(3), ErrClosed)
}

func TestCloseWakesBlockedPop(t *testing.T) {
	q := New[int]()

	errCh := make(chan error)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pop never returned after close")
	}
}

func TestCloseIdempotent(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}

func TestTryPop(t *testing.T) {
	q := New[int]()
	_, ok := q.TryPop()
	assert.False(t, ok)

	require.NoError(t, q.Push(7))
	v, ok := q.TryPop()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestConcurrentProducersPreservePerItemDelivery(t *testing.T) {
	q := New[int]()
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(base + i)
			}
		}(p * perProducer)
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	seen := make(map[int]bool)
	for {
		v, err := q.Pop(context.Background())
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)
		assert.False(t, seen[v], "item %d delivered twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
