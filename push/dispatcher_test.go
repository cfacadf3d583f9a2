package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pushrelay/server/push"
	"github.com/pushrelay/server/store"
	"github.com/pushrelay/server/types"
)

// MockSender is a mock implementation of push.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, sub webpush.Subscription, payload []byte) error {
	args := m.Called(ctx, sub, payload)
	return args.Error(0)
}

func endpoint(id string) webpush.Subscription {
	return webpush.Subscription{
		Endpoint: "https://push.example.com/" + id,
		Keys:     webpush.Keys{P256dh: "p256dh-" + id, Auth: "auth-" + id},
	}
}

func setupStore(t *testing.T, ids ...string) (*store.SubscriptionStore, *store.MemoryPersistence) {
	t.Helper()
	mem := store.NewMemory()
	subs := store.NewSubscriptionStore(mem, zerolog.Nop())
	for _, id := range ids {
		require.NoError(t, subs.Subscribe(id, endpoint(id), ""))
	}
	return subs, mem
}

func TestPushAll_EmptyStore(t *testing.T) {
	subs, _ := setupStore(t)
	sender := new(MockSender)
	d := push.NewDispatcher(subs, sender, 0, zerolog.Nop())

	result, err := d.PushAll(context.Background(), types.Notification{Title: "hi"})
	require.NoError(t, err)
	assert.Equal(t, types.PushResult{}, result)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestPushAll_CountsAndPrunes(t *testing.T) {
	subs, mem := setupStore(t, "ok1", "ok2", "gone410", "gone404", "ratelimited", "broken", "offline")
	writesBefore := mem.Writes()

	sender := new(MockSender)
	sender.On("Send", mock.Anything, endpoint("ok1"), mock.Anything).Return(nil)
	sender.On("Send", mock.Anything, endpoint("ok2"), mock.Anything).Return(nil)
	sender.On("Send", mock.Anything, endpoint("gone410"), mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusGone})
	sender.On("Send", mock.Anything, endpoint("gone404"), mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusNotFound})
	sender.On("Send", mock.Anything, endpoint("ratelimited"), mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusTooManyRequests})
	sender.On("Send", mock.Anything, endpoint("broken"), mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusBadGateway})
	sender.On("Send", mock.Anything, endpoint("offline"), mock.Anything).Return(&push.DeliveryError{Err: errors.New("connection refused")})

	d := push.NewDispatcher(subs, sender, 0, zerolog.Nop())
	result, err := d.PushAll(context.Background(), types.Notification{Title: "Door", Body: "Someone rang"})
	require.NoError(t, err)

	assert.Equal(t, types.PushResult{Success: 2, Failed: 5}, result)
	sender.AssertNumberOfCalls(t, "Send", 7)

	remaining := subs.List()
	assert.Len(t, remaining, 5)
	assert.NotContains(t, remaining, "gone410")
	assert.NotContains(t, remaining, "gone404")
	for _, id := range []string{"ok1", "ok2", "ratelimited", "broken", "offline"} {
		assert.Contains(t, remaining, id)
	}
	assert.Equal(t, writesBefore+1, mem.Writes(), "pruning is a single write")
}

func TestPushAll_NoPruneNoWrite(t *testing.T) {
	subs, mem := setupStore(t, "a", "b")
	writesBefore := mem.Writes()

	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusInternalServerError})

	d := push.NewDispatcher(subs, sender, 0, zerolog.Nop())
	result, err := d.PushAll(context.Background(), types.Notification{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.PushResult{Success: 0, Failed: 2}, result)
	assert.Equal(t, writesBefore, mem.Writes())
}

func TestPushAll_Payload(t *testing.T) {
	subs, _ := setupStore(t, "a")

	var got map[string]any
	sender := new(MockSender)
	sender.On("Send", mock.Anything, endpoint("a"), mock.MatchedBy(func(p []byte) bool {
		got = nil
		return json.Unmarshal(p, &got) == nil
	})).Return(nil)

	d := push.NewDispatcher(subs, sender, 0, zerolog.Nop())
	_, err := d.PushAll(context.Background(), types.Notification{Title: "T", Body: "B", URL: "https://home.example/cam"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "T", "body": "B", "url": "https://home.example/cam"}, got)

	_, err = d.PushAll(context.Background(), types.Notification{Title: "T", Body: "B"})
	require.NoError(t, err)
	assert.NotContains(t, got, "url")
}

func TestPushAll_PruneWriteFailureStillReports(t *testing.T) {
	subs, mem := setupStore(t, "gone")
	mem.SetWriteErr(errors.New("disk full"))

	sender := new(MockSender)
	sender.On("Send", mock.Anything, endpoint("gone"), mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusGone})

	d := push.NewDispatcher(subs, sender, 0, zerolog.Nop())
	result, err := d.PushAll(context.Background(), types.Notification{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.PushResult{Failed: 1}, result)
	assert.Contains(t, subs.List(), "gone", "rolled back with the failed write")
}

// barrierSender blocks every Send until n calls are in flight.
type barrierSender struct {
	wg       sync.WaitGroup
	released chan struct{}
	once     sync.Once
}

func newBarrierSender(n int) *barrierSender {
	b := &barrierSender{released: make(chan struct{})}
	b.wg.Add(n)
	go func() {
		b.wg.Wait()
		b.once.Do(func() { close(b.released) })
	}()
	return b
}

func (b *barrierSender) Send(ctx context.Context, sub webpush.Subscription, payload []byte) error {
	b.wg.Done()
	select {
	case <-b.released:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("deliveries were not issued concurrently")
	}
}

func TestPushAll_DeliversConcurrently(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("sub-%d", i)
	}
	subs, _ := setupStore(t, ids...)

	d := push.NewDispatcher(subs, newBarrierSender(len(ids)), 0, zerolog.Nop())
	result, err := d.PushAll(context.Background(), types.Notification{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.PushResult{Success: 20}, result)
}

func TestPushAll_ConcurrencyLimit(t *testing.T) {
	subs, _ := setupStore(t, "a", "b", "c", "d", "e")

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}).Return(nil)

	d := push.NewDispatcher(subs, sender, 2, zerolog.Nop())
	result, err := d.PushAll(context.Background(), types.Notification{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Success)
	assert.LessOrEqual(t, peak, 2)
}

func TestPushOne(t *testing.T) {
	subs, mem := setupStore(t, "ok", "gone", "flaky")

	sender := new(MockSender)
	sender.On("Send", mock.Anything, endpoint("ok"), mock.Anything).Return(nil)
	sender.On("Send", mock.Anything, endpoint("gone"), mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusGone})
	sender.On("Send", mock.Anything, endpoint("flaky"), mock.Anything).Return(&push.DeliveryError{StatusCode: http.StatusServiceUnavailable})
	d := push.NewDispatcher(subs, sender, 0, zerolog.Nop())
	ctx := context.Background()
	n := types.Notification{Title: "x"}

	ok, err := d.PushOne(ctx, "ok", n)
	require.NoError(t, err)
	assert.True(t, ok)

	writes := mem.Writes()
	ok, err = d.PushOne(ctx, "gone", n)
	require.NoError(t, err)
	assert.False(t, ok)
	_, present := subs.Get("gone")
	assert.False(t, present)
	assert.Equal(t, writes+1, mem.Writes())

	ok, err = d.PushOne(ctx, "flaky", n)
	require.NoError(t, err)
	assert.False(t, ok)
	_, present = subs.Get("flaky")
	assert.True(t, present)

	sender.AssertNumberOfCalls(t, "Send", 3)
}

func TestPushOne_UnknownID(t *testing.T) {
	subs, _ := setupStore(t, "known")
	sender := new(MockSender)
	d := push.NewDispatcher(subs, sender, 0, zerolog.Nop())

	ok, err := d.PushOne(context.Background(), "unknown", types.Notification{Title: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}
