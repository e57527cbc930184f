package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservd/reservd/internal/model"
)

func TestRedisNotifierPublishes(t *testing.T) {
	mr := miniredis.RunT(t)

	n, err := NewRedisNotifier(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = sub.Close() })

	ctx := context.Background()
	pubsub := sub.Subscribe(ctx, "lease.create", "lease.delete")
	t.Cleanup(func() { _ = pubsub.Close() })
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	lease := &model.Lease{
		ID:        "lease-1",
		Name:      "alpha",
		ProjectID: "project-1",
		StartDate: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
		Status:    model.LeasePending,
	}
	n.Send(ctx, lease, "create", "delete")

	ch := pubsub.Channel()
	seen := map[string]Payload{}
	for len(seen) < 2 {
		select {
		case msg := <-ch:
			var p Payload
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &p))
			seen[msg.Channel] = p
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d of 2 notifications", len(seen))
		}
	}

	require.Contains(t, seen, "lease.create")
	require.Contains(t, seen, "lease.delete")
	assert.Equal(t, "lease-1", seen["lease.create"].LeaseID)
	assert.Equal(t, "alpha", seen["lease.create"].Name)
	assert.Equal(t, string(model.LeasePending), seen["lease.create"].Status)
}

func TestRedisNotifierConnectFailure(t *testing.T) {
	_, err := NewRedisNotifier(RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Send(context.Background(), &model.Lease{ID: "lease-1"}, "create", "event.start_lease")
	assert.Equal(t, []string{"lease.create", "lease.event.start_lease"}, r.Sent())
}
