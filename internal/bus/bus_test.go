package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) EventPublished(eventType string, replay bool) {
	m.Called(eventType, replay)
}

func (m *mockRecorder) HandlerFailed(eventType string) {
	m.Called(eventType)
}

func tenantCreated(id string) event.Event {
	return event.New(id, event.TenantCreatedEvent{TenantID: id, Name: id, Slug: id, Status: "ACTIVE"})
}

func TestPublishRoutesByTypeInSubscriptionOrder(t *testing.T) {
	b := New()

	var calls []string
	b.SubscribeAll(HandlerFunc(func(ctx context.Context, ev event.Event) error {
		calls = append(calls, "all:"+string(ev.Type()))
		return nil
	}))
	b.Subscribe(event.TenantCreated, HandlerFunc(func(ctx context.Context, ev event.Event) error {
		calls = append(calls, "tenant")
		return nil
	}))
	b.Subscribe(event.UserCreated, HandlerFunc(func(ctx context.Context, ev event.Event) error {
		calls = append(calls, "user")
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), tenantCreated("t-1")))
	assert.Equal(t, []string{"all:V1_TENANT_CREATED", "tenant"}, calls)
}

func TestPublishRunsEveryHandlerAndJoinsErrors(t *testing.T) {
	rec := &mockRecorder{}
	rec.On("EventPublished", "V1_TENANT_CREATED", false).Once()
	rec.On("HandlerFailed", "V1_TENANT_CREATED").Once()

	b := New(WithRecorder(rec))
	boom := errors.New("boom")
	ran := false

	b.Subscribe(event.TenantCreated, HandlerFunc(func(ctx context.Context, ev event.Event) error {
		return boom
	}))
	b.Subscribe(event.TenantCreated, HandlerFunc(func(ctx context.Context, ev event.Event) error {
		ran = true
		return nil
	}))

	err := b.Publish(context.Background(), tenantCreated("t-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	var herr *HandlerError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, event.TenantCreated, herr.EventType)
	assert.True(t, ran)
	rec.AssertExpectations(t)
}

func TestPublishHonoursCancellation(t *testing.T) {
	b := New()
	b.SubscribeAll(HandlerFunc(func(ctx context.Context, ev event.Event) error {
		t.Fatal("handler must not run")
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Publish(ctx, tenantCreated("t-1")), context.Canceled)
}

func TestAsyncDispatcherPreservesOrderAndDrains(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var seen []string
	b.SubscribeAll(HandlerFunc(func(ctx context.Context, ev event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.AggregateID())
		return nil
	}))

	d := NewAsyncDispatcher(b, 4, nil)
	d.Start(context.Background())

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range want {
		d.Dispatch(context.Background(), tenantCreated(id))
	}
	d.Close()

	assert.Equal(t, want, seen)
}

func TestAsyncDispatcherSwallowsHandlerErrors(t *testing.T) {
	b := New()
	b.SubscribeAll(HandlerFunc(func(ctx context.Context, ev event.Event) error {
		return errors.New("projection failed")
	}))

	d := NewAsyncDispatcher(b, 1, nil)
	d.Start(context.Background())
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), tenantCreated("t-1"))
		d.Close()
	})
}

func TestAsyncDispatcherAfterCloseDeliversInline(t *testing.T) {
	b := New()
	count := 0
	b.SubscribeAll(HandlerFunc(func(ctx context.Context, ev event.Event) error {
		count++
		return nil
	}))

	d := NewAsyncDispatcher(b, 2, nil)
	d.Close()
	d.Dispatch(context.Background(), tenantCreated("t-1"))
	assert.Equal(t, 1, count)
}
