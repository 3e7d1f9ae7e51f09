// Package queue implements the at-least-once message queue (C3): visibility
// timeout, redelivery counting, and poison-queue sinking on top of NATS
// JetStream, plus an in-memory driver for tests and the in-process
// orchestrator.
package queue

import (
	"time"

	"github.com/microsoft/kernel-memory/engine/domain"
)

// Options configures retry/TTL behavior shared by every driver. Field names
// and defaults follow the enumerated configuration options.
type Options struct {
	MaxRetriesBeforePoison int
	MessageTTL             time.Duration
	PoisonSuffix           string
	FetchLockSecs          int
	PollDelayMsecs         int
	FetchBatchSize         int
}

// DefaultOptions returns the spec-mandated defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetriesBeforePoison: 20,
		MessageTTL:             3600 * time.Second,
		PoisonSuffix:           "-poison",
		FetchLockSecs:          300,
		PollDelayMsecs:         100,
		FetchBatchSize:         3,
	}
}

// Message is a single delivery handed to a subscriber.
type Message struct {
	Data         []byte
	DequeueCount int
}

// Handler processes one message. A non-nil error nacks the message with a
// visibility delay of dequeue_count seconds; a nil error acks it.
type Handler func(msg Message) error

// Queue is the per-name message queue contract (C3).
type Queue interface {
	// Enqueue durably publishes payload; it returns only once the broker
	// acknowledges durability.
	Enqueue(payload []byte) error
	// Subscribe registers the single handler for this queue and begins
	// delivering messages. It returns immediately; delivery runs in the
	// background until Close.
	Subscribe(h Handler) error
	Close() error
}

// PoisonName returns name with the configured poison suffix applied, per
// the ≤60 UTF-8 byte limit on the suffixed name.
func PoisonName(name, suffix string) (string, error) {
	poisoned := name + suffix
	if len(poisoned) > 60 {
		return "", domain.NewValidationError("queue", poisoned, domain.ErrQueueNameTooLong)
	}
	return poisoned, nil
}
