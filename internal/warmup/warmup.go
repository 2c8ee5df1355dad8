// Package warmup handles the scheduled warmup events that keep Lambda
// instances warm. Every entry point checks for them before anything else.
package warmup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// Source identifies warmup events from the scheduler
	Source = "warmup"

	// Delay ensures instances overlap to create true concurrency
	Delay = 75 * time.Millisecond

	// MaxConcurrency caps self-invocations per warmup event
	MaxConcurrency = 50
)

// Event represents the scheduler payload for warmup
type Event struct {
	Source      string `json:"source"`
	Concurrency int    `json:"concurrency"`
}

// Response is the response returned by warmup operations
type Response struct {
	Status          string `json:"status"`
	InstancesWarmed int    `json:"instancesWarmed"`
}

// Invoker queues asynchronous invocations of a function.
type Invoker interface {
	Async(ctx context.Context, functionName string, payload any) error
}

// Warmer answers warmup events for one function.
type Warmer struct {
	invoker      Invoker
	functionName string
	logger       *zap.Logger
	delay        time.Duration
}

// New creates a Warmer. invoker may be nil when self-invocation is not wanted.
func New(invoker Invoker, functionName string, logger *zap.Logger) *Warmer {
	return &Warmer{invoker: invoker, functionName: functionName, logger: logger, delay: Delay}
}

// Parse checks if the event is a warmup event
func Parse(event json.RawMessage) (*Event, bool) {
	var eventMap map[string]any
	if err := json.Unmarshal(event, &eventMap); err != nil {
		return nil, false
	}

	source, ok := eventMap["source"].(string)
	if !ok || source != Source {
		return nil, false
	}

	warmup := &Event{Source: source}

	// Parse concurrency (optional, defaults to 0)
	if concurrency, ok := eventMap["concurrency"].(float64); ok && concurrency > 0 {
		warmup.Concurrency = int(concurrency)
	}
	if warmup.Concurrency > MaxConcurrency {
		warmup.Concurrency = MaxConcurrency
	}

	return warmup, true
}

// Handle processes a warmup event and optionally self-invokes to maintain
// multiple warm instances.
func (w *Warmer) Handle(ctx context.Context, event *Event) (any, error) {
	instancesWarmed := 1 // This instance counts as 1

	if event.Concurrency > 0 && w.invoker != nil && w.functionName != "" {
		if err := w.selfInvoke(ctx, event.Concurrency); err != nil {
			w.logger.Warn("warmup self-invoke failed", zap.Error(err))
		} else {
			instancesWarmed += event.Concurrency
		}
	}

	// Brief delay to ensure instances overlap
	time.Sleep(w.delay)

	return map[string]any{
		"statusCode": 200,
		"body": Response{
			Status:          "warm",
			InstancesWarmed: instancesWarmed,
		},
	}, nil
}

// selfInvoke invokes this function count times asynchronously.
func (w *Warmer) selfInvoke(ctx context.Context, count int) error {
	// Child invocations carry concurrency=0 so they never fan out again
	payload := Event{Source: Source, Concurrency: 0}

	var wg sync.WaitGroup
	var invokeErr error
	var errMu sync.Mutex

	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := w.invoker.Async(ctx, w.functionName, payload); err != nil {
				errMu.Lock()
				if invokeErr == nil {
					invokeErr = err
				}
				errMu.Unlock()
			}
		}()
	}

	wg.Wait()
	return invokeErr
}
