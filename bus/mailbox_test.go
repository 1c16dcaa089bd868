package bus

import (
	"context"
	"testing"
	"time"

	"github.com/meshworks/actorbus/message"
)

func TestMailboxPriorityOrder(t *testing.T) {
	mb := newMailbox(16)

	mb.Enqueue(message.New("a", "b", message.TypeRequest, map[string]any{"n": 1}, message.WithPriority(message.PriorityLow)))
	mb.Enqueue(message.New("a", "b", message.TypeRequest, map[string]any{"n": 2}, message.WithPriority(message.PriorityEmergency)))
	mb.Enqueue(message.New("a", "b", message.TypeRequest, map[string]any{"n": 3}, message.WithPriority(message.PriorityNormal)))
	mb.Enqueue(message.New("a", "b", message.TypeRequest, map[string]any{"n": 4}, message.WithPriority(message.PriorityCritical)))

	ctx := context.Background()
	want := []int{2, 4, 3, 1}
	for i, n := range want {
		msg, err := mb.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if msg.Payload["n"] != n {
			t.Errorf("position %d: got n=%v, want %d", i, msg.Payload["n"], n)
		}
	}
}

func TestMailboxFIFOWithinPriority(t *testing.T) {
	mb := newMailbox(64)

	for i := 0; i < 10; i++ {
		mb.Enqueue(message.New("a", "b", message.TypeRequest, map[string]any{"n": i}))
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		msg, err := mb.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if msg.Payload["n"] != i {
			t.Errorf("position %d: got n=%v, want %d (FIFO violated)", i, msg.Payload["n"], i)
		}
	}
}

func TestMailboxReceiveBlocks(t *testing.T) {
	mb := newMailbox(16)

	done := make(chan message.Message, 1)
	go func() {
		msg, err := mb.Receive(context.Background())
		if err != nil {
			return
		}
		done <- msg
	}()

	// Give the receiver time to block, then enqueue.
	time.Sleep(20 * time.Millisecond)
	mb.Enqueue(message.New("a", "b", message.TypeNotification, map[string]any{"k": "v"}))

	select {
	case msg := <-done:
		if msg.Payload["k"] != "v" {
			t.Errorf("payload = %v, want k=v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver never woke up")
	}
}

func TestMailboxReceiveContextCancel(t *testing.T) {
	mb := newMailbox(16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mb.Receive(ctx)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMailboxFull(t *testing.T) {
	mb := newMailbox(2)

	if err := mb.Enqueue(message.New("a", "b", message.TypeRequest, nil)); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := mb.Enqueue(message.New("a", "b", message.TypeRequest, nil)); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := mb.Enqueue(message.New("a", "b", message.TypeRequest, nil)); err != ErrMailboxFull {
		t.Errorf("enqueue 3: err = %v, want ErrMailboxFull", err)
	}
}

func TestMailboxClose(t *testing.T) {
	mb := newMailbox(16)
	mb.Enqueue(message.New("a", "b", message.TypeRequest, nil))
	mb.Close()

	if err := mb.Enqueue(message.New("a", "b", message.TypeRequest, nil)); err != ErrMailboxClosed {
		t.Errorf("enqueue after close: err = %v, want ErrMailboxClosed", err)
	}
	if _, err := mb.Receive(context.Background()); err != ErrMailboxClosed {
		t.Errorf("receive after close: err = %v, want ErrMailboxClosed", err)
	}

	// Close is idempotent.
	mb.Close()
}

func TestMailboxCloseWakesReceiver(t *testing.T) {
	mb := newMailbox(16)

	errCh := make(chan error, 1)
	go func() {
		_, err := mb.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	mb.Close()

	select {
	case err := <-errCh:
		if err != ErrMailboxClosed {
			t.Errorf("err = %v, want ErrMailboxClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver not woken by close")
	}
}
