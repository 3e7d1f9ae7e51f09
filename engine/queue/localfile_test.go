package queue

import (
	"errors"
	"testing"
	"time"
)

func TestLocalFileQueueEnqueueAndAck(t *testing.T) {
	q := NewLocalFileQueue(Options{MaxRetriesBeforePoison: 20, PollDelayMsecs: 5})
	defer q.Close()

	received := make(chan Message, 1)
	if err := q.Subscribe(func(m Message) error {
		received <- m
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := q.Enqueue([]byte("hello")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case m := <-received:
		if string(m.Data) != "hello" {
			t.Errorf("got %q, want %q", m.Data, "hello")
		}
		if m.DequeueCount != 1 {
			t.Errorf("DequeueCount = %d, want 1", m.DequeueCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestLocalFileQueuePoisonsAfterMaxRetries(t *testing.T) {
	q := NewLocalFileQueue(Options{MaxRetriesBeforePoison: 3, PollDelayMsecs: 2})
	defer q.Close()

	attempts := make(chan int, 10)
	if err := q.Subscribe(func(m Message) error {
		attempts <- m.DequeueCount
		return errors.New("always fails")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := q.Enqueue([]byte("poison-me")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Failed deliveries become visible again after dequeue_count seconds
	// (1s, 2s, 3s), so the fourth pop, which poisons the message without
	// calling the handler, comes about 6s in; the poison list is therefore
	// polled rather than checked only after an attempt.
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-attempts:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for message to poison")
		}
		if len(q.Poison()) == 1 {
			return
		}
	}
}

func TestPoisonNameLengthLimit(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "a"
	}
	if _, err := PoisonName(long, "-poison"); err == nil {
		t.Fatal("expected error for poison name exceeding 60 bytes")
	}
}

func TestPoisonNameOK(t *testing.T) {
	got, err := PoisonName("ingest", "-poison")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ingest-poison" {
		t.Errorf("got %q", got)
	}
}
