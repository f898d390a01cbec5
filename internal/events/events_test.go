package events

import (
	"context"
	"testing"
	"time"
)

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher

	// Publish и Close на nil-публикаторе не должны паниковать.
	p.Publish(context.Background(), OrderEvent{
		Type:        TypeOrderCreated,
		OrderNumber: "SF-123456789ABC",
		OccurredAt:  time.Now().UTC(),
	})

	if err := p.Close(); err != nil {
		t.Fatalf("Close on nil publisher: %v", err)
	}
}
