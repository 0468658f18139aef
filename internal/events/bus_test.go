package events

import (
	"sync"
	"testing"
)

func TestBusTypedSubscription(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(JobSucceeded, func(e Event) {
		got = append(got, e)
	})

	bus.Publish(Event{Type: JobSucceeded, JobID: "job-1"})
	bus.Publish(Event{Type: JobFailed, JobID: "job-2"})

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].JobID != "job-1" {
		t.Errorf("unexpected event: %+v", got[0])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected publish to stamp the event")
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()

	var count int
	bus.SubscribeAll(func(e Event) { count++ })

	bus.Publish(Event{Type: JobProcessing, JobID: "job-1"})
	bus.Publish(Event{Type: JobTimeout, JobID: "job-1"})
	bus.Publish(Event{Type: JobDeadLettered, JobID: "job-1"})

	if count != 3 {
		t.Errorf("expected 3 deliveries, got %d", count)
	}
}

func TestBusMultipleHandlers(t *testing.T) {
	bus := NewBus()

	var a, b int
	bus.Subscribe(JobFailed, func(Event) { a++ })
	bus.Subscribe(JobFailed, func(Event) { b++ })

	bus.Publish(Event{Type: JobFailed, JobID: "job-1"})

	if a != 1 || b != 1 {
		t.Errorf("expected both handlers to fire, got a=%d b=%d", a, b)
	}
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(JobProcessing, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(Event{Type: JobProcessing, JobID: "job-1"})
			}
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("expected 1000 deliveries, got %d", count)
	}
}
