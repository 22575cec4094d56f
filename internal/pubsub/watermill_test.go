package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	Seq int `json:"seq"`
}

func TestWatermillBridge_DeliversInPublishOrder(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := NewEvent[ping]("pings")

	var mu sync.Mutex
	var got []int
	var keys []string
	err := bridge.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		p, err := Decode(event, msg)
		if err != nil {
			return err
		}
		mu.Lock()
		got = append(got, p.Seq)
		keys = append(keys, msg.Key)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, Publish(ctx, bridge, event, "room-1", ping{Seq: i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range got {
		assert.Equal(t, i, seq)
	}
	assert.Equal(t, "room-1", keys[0])
}

func TestWatermillBridge_MetadataRoundTrip(t *testing.T) {
	msg := Message{Topic: "t", Key: "k", Payload: []byte("x"), Metadata: map[string]string{"op": "insert"}}

	back := mapToPubSubMessage(mapToWatermillMessage(msg))

	assert.Equal(t, msg, back)
}

func TestWatermillBridge_CancelStopsDelivery(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	count := 0
	require.NoError(t, bridge.Subscribe(ctx, "t", func(ctx context.Context, msg Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	require.NoError(t, bridge.Publish(context.Background(), Message{Topic: "t", Payload: []byte("{}")}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- bridge.Publish(context.Background(), Message{Topic: "t", Payload: []byte("{}")}) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a cancelled subscriber")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestSetupTracing_Disabled(t *testing.T) {
	tracer, cleanup, err := SetupTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)
	defer cleanup()

	bridge := NewWatermillBridge(WithTracer(tracer))
	defer bridge.Close()
	assert.NoError(t, bridge.Publish(context.Background(), Message{Topic: "nobody-listens"}))
}

func TestDecode_BadPayload(t *testing.T) {
	_, err := Decode(NewEvent[ping]("pings"), Message{Payload: []byte("not json")})
	assert.ErrorContains(t, err, "decode pings payload")
}
