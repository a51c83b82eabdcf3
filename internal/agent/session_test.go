package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/madcadaver/dbot/internal/models"
)

// blockingModel parks every call until release is closed.
type blockingModel struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingModel() *blockingModel {
	return &blockingModel{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (m *blockingModel) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	m.started <- struct{}{}
	select {
	case <-m.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return textResponse("ok"), nil
}

func (m *blockingModel) GenerateContentStream(ctx context.Context, req *models.GenerateContentRequest) (<-chan *models.GenerateContentResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *blockingModel) Release() {
	m.once.Do(func() { close(m.release) })
}

func TestCoordinatorQueueSerializesThread(t *testing.T) {
	model := &scriptedModel{responses: []*models.GenerateContentResponse{textResponse("ok")}}
	loop, _ := newTestLoop(t, model)
	coord := NewCoordinator(loop, SessionModeQueue, nil)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Handle(context.Background(), inboundMsg("msg"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("turn %d failed: %v", i, err)
		}
	}
	if model.calls != n {
		t.Errorf("model called %d times, want %d", model.calls, n)
	}
}

func TestCoordinatorRejectModeReturnsBusy(t *testing.T) {
	model := newBlockingModel()
	loop, _ := newTestLoop(t, model)
	coord := NewCoordinator(loop, SessionModeReject, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := coord.Handle(context.Background(), inboundMsg("first")); err != nil {
			t.Errorf("first turn failed: %v", err)
		}
	}()

	// Wait for the first turn to reach the model and hold the lease.
	select {
	case <-model.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never started")
	}

	_, err := coord.Handle(context.Background(), inboundMsg("second"))
	if !errors.Is(err, models.ErrThreadBusy) {
		t.Fatalf("expected ErrThreadBusy, got %v", err)
	}

	model.Release()
	<-done
}

func TestCoordinatorDifferentThreadsRunConcurrently(t *testing.T) {
	model := newBlockingModel()
	loop, _ := newTestLoop(t, model)
	coord := NewCoordinator(loop, SessionModeQueue, nil)

	var wg sync.WaitGroup
	for _, channel := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			msg := inboundMsg("hello")
			msg.ChannelID = channel
			if _, err := coord.Handle(context.Background(), msg); err != nil {
				t.Errorf("turn on %s failed: %v", channel, err)
			}
		}(channel)
	}

	// Both threads must reach the model before either finishes.
	for i := 0; i < 2; i++ {
		select {
		case <-model.started:
		case <-time.After(2 * time.Second):
			t.Fatal("threads did not run concurrently")
		}
	}
	model.Release()
	wg.Wait()
}
