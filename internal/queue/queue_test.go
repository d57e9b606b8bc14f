package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *clockwork.FakeClock, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fc := clockwork.NewFakeClock()
	return New(rdb, fc), fc, rdb
}

func testJob(gameID string) Job {
	return Job{
		GameID:      gameID,
		FEN:         "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		Provider:    "Stockfish",
		Difficulty:  "beginner",
		MoveHistory: []string{},
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	accepted, err := q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)
	require.True(t, accepted)

	job, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "g1", job.GameID)
	assert.Equal(t, 1, job.Attempt)
	assert.NotEmpty(t, job.ID)
}

func TestEnqueueSuppressesDuplicates(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	accepted, err := q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)
	assert.False(t, accepted)

	outstanding, err := q.HasOutstanding(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, outstanding)

	// A different game is unaffected.
	accepted, err = q.Enqueue(ctx, testJob("g2"))
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestEnqueueReleasesSlotWhenPushFails(t *testing.T) {
	q, _, rdb := newTestQueue(t)
	ctx := context.Background()

	// Occupy the pending key with the wrong type so the list push fails
	// after the outstanding marker was set.
	require.NoError(t, rdb.Set(ctx, keyPending, "wedge", 0).Err())

	_, err := q.Enqueue(ctx, testJob("g1"))
	require.Error(t, err)

	outstanding, err := q.HasOutstanding(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, outstanding)

	// Once the broker recovers the game is not wedged.
	require.NoError(t, rdb.Del(ctx, keyPending).Err())
	accepted, err := q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)
	assert.True(t, accepted)

	job, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "g1", job.GameID)
}

func TestPublishResultStillPublishesWithWedgedSlot(t *testing.T) {
	q, _, rdb := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, stop := q.SubscribeResults(ctx)
	defer stop()
	time.Sleep(50 * time.Millisecond)

	// SRem against a wrong-typed key errors; the result must reach the
	// gateway regardless.
	require.NoError(t, rdb.Set(ctx, keyOutstanding, "wedge", 0).Err())

	want := Result{JobID: "j1", GameID: "g1", From: "e2", To: "e4"}
	require.NoError(t, q.PublishResult(ctx, want))

	select {
	case got := <-results:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("result never delivered")
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q, _, _ := newTestQueue(t)

	job, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetrySchedulesWithBackoff(t *testing.T) {
	q, fc, rdb := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)

	again, err := q.Retry(ctx, *job, errors.New("provider down"))
	require.NoError(t, err)
	require.True(t, again)

	delayed, err := rdb.ZCard(ctx, keyDelayed).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)

	// Not due yet.
	got, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)

	fc.Advance(2 * time.Second)
	got, err = q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, "g1", got.GameID)
}

func TestRetryExhaustionReleasesSlot(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	job.Attempt = maxAttempts

	again, err := q.Retry(ctx, *job, errors.New("still down"))
	require.NoError(t, err)
	assert.False(t, again)

	outstanding, err := q.HasOutstanding(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, outstanding)

	// The slot is free again.
	accepted, err := q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestPublishResultReleasesSlot(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("g1"))
	require.NoError(t, err)

	err = q.PublishResult(ctx, Result{JobID: "j1", GameID: "g1", From: "e2", To: "e4"})
	require.NoError(t, err)

	outstanding, err := q.HasOutstanding(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, outstanding)
}

func TestResultsPubSubRoundTrip(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, stop := q.SubscribeResults(ctx)
	defer stop()
	// Give the subscriber a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	want := Result{JobID: "j1", GameID: "g1", From: "g8", To: "f6"}
	require.NoError(t, q.PublishResult(ctx, want))

	select {
	case got := <-results:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("result never delivered")
	}
}

func TestEventsPubSubRoundTrip(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop := q.SubscribeEvents(ctx)
	defer stop()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, q.PublishSkip(ctx, "g1", "game is completed"))

	select {
	case got := <-events:
		assert.Equal(t, Event{Type: "skipped", GameID: "g1", Reason: "game is completed"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestPushGameRecord(t *testing.T) {
	q, _, rdb := newTestQueue(t)
	ctx := context.Background()

	rec := GameRecord{GameID: "g1", Winner: "white", Reason: "checkmate", MoveCount: 7}
	require.NoError(t, q.PushGameRecord(ctx, rec))

	count, err := rdb.LLen(ctx, keyGameRecords).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
