// Package stream coordinates one streaming response: it pipes the provider's
// token stream through the sentence tokenizer and delivers completed
// sentences to a downstream consumer through a bounded queue.
//
// The queue is a single-producer single-consumer pattern: the token-ingest
// loop produces, one consumer goroutine drains and invokes the callback
// sequentially. The callback is never invoked concurrently for one stream.
// When the consumer is slower than token arrival the producer blocks on the
// full queue, which throttles further token reads.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/aide/internal/sentence"
	"github.com/MrWong99/aide/pkg/provider/llm"
	"github.com/MrWong99/aide/pkg/types"
)

// State is the coordinator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StatePaused
	StateInterrupted
	StateCompleted
	StateError
)

// String returns the state name for logs and status output.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateInterrupted:
		return "interrupted"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultQueueSize bounds the sentence queue between producer and consumer.
const DefaultQueueSize = 16

// Consumer receives sentence chunks in index order. The final call on every
// termination path delivers the end-of-stream sentinel (Index -1).
type Consumer func(chunk types.SentenceChunk)

// Coordinator drives a single stream. It is not reusable; create one per
// stream.
type Coordinator struct {
	log      *slog.Logger
	consumer Consumer
	tok      *sentence.Tokenizer
	queue    chan types.SentenceChunk

	state     atomic.Int32
	interrupt chan struct{}
	intOnce   sync.Once

	pauseMu sync.Mutex
	pause   *sync.Cond

	metricsMu sync.Mutex
	metrics   types.StreamMetrics

	// content accumulates the full response text for the caller.
	content strings.Builder

	nextIndex int
}

// config holds optional configuration collected from functional options.
type config struct {
	logger    *slog.Logger
	queueSize int
	minLen    int
}

// Option is a functional option for Coordinator.
type Option func(*config)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithQueueSize bounds the sentence queue.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithMinSentenceLen overrides the tokenizer's minimum sentence length.
func WithMinSentenceLen(n int) Option {
	return func(c *config) { c.minLen = n }
}

// New creates a Coordinator delivering sentences to consumer. A nil consumer
// is allowed; sentences are then only accumulated into the response text.
func New(consumer Consumer, opts ...Option) *Coordinator {
	cfg := &config{queueSize: DefaultQueueSize}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	var tokOpts []sentence.Option
	if cfg.minLen > 0 {
		tokOpts = append(tokOpts, sentence.WithMinSentenceLen(cfg.minLen))
	}

	c := &Coordinator{
		log:       cfg.logger,
		consumer:  consumer,
		tok:       sentence.NewTokenizer(tokOpts...),
		queue:     make(chan types.SentenceChunk, cfg.queueSize),
		interrupt: make(chan struct{}),
	}
	c.pause = sync.NewCond(&c.pauseMu)
	c.state.Store(int32(StateIdle))
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Metrics returns a snapshot of the stream metrics.
func (c *Coordinator) Metrics() types.StreamMetrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

// Interrupt requests cooperative termination. Queued, unconsumed sentences
// are dropped; the consumer still receives the end-of-stream sentinel.
// Safe to call from any goroutine, any number of times.
func (c *Coordinator) Interrupt() {
	c.intOnce.Do(func() {
		// The pause lock orders the state change against a producer that
		// is about to wait on the pause condition.
		c.pauseMu.Lock()
		c.state.Store(int32(StateInterrupted))
		c.pause.Broadcast()
		c.pauseMu.Unlock()
		close(c.interrupt)
	})
}

// Pause suspends token ingestion until Resume. Already-queued sentences
// still drain to the consumer.
func (c *Coordinator) Pause() {
	c.pauseMu.Lock()
	c.state.CompareAndSwap(int32(StateStreaming), int32(StatePaused))
	c.pauseMu.Unlock()
}

// Resume continues a paused stream.
func (c *Coordinator) Resume() {
	c.pauseMu.Lock()
	if c.state.CompareAndSwap(int32(StatePaused), int32(StateStreaming)) {
		c.pause.Broadcast()
	}
	c.pauseMu.Unlock()
}

// Run consumes the token stream until it closes, is interrupted, or fails.
// It returns the accumulated response text, the final terminal reason, and
// any mid-stream provider error. Run blocks until the consumer has observed
// the sentinel, so metrics are final when it returns.
func (c *Coordinator) Run(ctx context.Context, tokens <-chan llm.Chunk) (string, types.TerminalReason, error) {
	c.state.Store(int32(StateStreaming))
	c.metricsMu.Lock()
	c.metrics.StartedAt = time.Now()
	c.metricsMu.Unlock()

	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		c.consumeLoop()
	}()

	reason, err := c.ingest(ctx, tokens)

	// Tail of the stream: flush the tokenizer unless interrupted, then the
	// sentinel, on every termination path.
	if reason != types.ReasonInterrupted {
		if tail := c.tok.Flush(); tail != "" {
			c.enqueue(tail)
		}
	}
	c.queue <- types.SentinelChunk()
	close(c.queue)
	consumerWG.Wait()

	c.metricsMu.Lock()
	c.metrics.EndedAt = time.Now()
	c.metricsMu.Unlock()

	switch {
	case reason == types.ReasonInterrupted:
		// Covers both Interrupt and context cancellation.
		c.state.Store(int32(StateInterrupted))
	case err != nil || reason == types.ReasonError:
		c.state.Store(int32(StateError))
	default:
		c.state.Store(int32(StateCompleted))
	}
	return c.content.String(), reason, err
}

// ingest is the producer loop: it reads tokens, updates metrics, and feeds
// the tokenizer.
func (c *Coordinator) ingest(ctx context.Context, tokens <-chan llm.Chunk) (types.TerminalReason, error) {
	reason := types.ReasonComplete
	for {
		select {
		case chunk, ok := <-tokens:
			if !ok {
				return reason, nil
			}
			c.waitWhilePaused()
			if c.State() == StateInterrupted {
				return types.ReasonInterrupted, nil
			}
			if chunk.Err != nil {
				return types.ReasonError, chunk.Err
			}
			if chunk.Text != "" {
				c.observeToken(chunk.Text)
				for _, s := range c.tok.Feed(chunk.Text) {
					if !c.enqueue(s) {
						return types.ReasonInterrupted, nil
					}
				}
			}
			if chunk.FinishReason != "" {
				reason = chunk.FinishReason
			}
		case <-c.interrupt:
			return types.ReasonInterrupted, nil
		case <-ctx.Done():
			return types.ReasonInterrupted, ctx.Err()
		}
	}
}

// consumeLoop drains the queue and invokes the callback sequentially. After
// an interrupt, queued sentences are discarded; only the sentinel is
// delivered.
func (c *Coordinator) consumeLoop() {
	for chunk := range c.queue {
		if !chunk.IsSentinel() && c.State() == StateInterrupted {
			continue
		}
		c.deliver(chunk)
	}
}

// deliver invokes the consumer callback, catching panics so a faulty
// downstream cannot kill the stream.
func (c *Coordinator) deliver(chunk types.SentenceChunk) {
	if c.consumer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("sentence consumer panicked", "index", chunk.Index, "panic", r)
		}
	}()
	c.consumer(chunk)
}

// enqueue publishes one sentence chunk, blocking on a full queue. Returns
// false when the stream was interrupted while blocked.
func (c *Coordinator) enqueue(text string) bool {
	if c.State() == StateInterrupted {
		return false
	}
	chunk := types.SentenceChunk{
		Text:      text,
		Index:     c.nextIndex,
		Timestamp: time.Now(),
	}

	select {
	case c.queue <- chunk:
	case <-c.interrupt:
		return false
	}

	c.nextIndex++

	c.metricsMu.Lock()
	if c.metrics.FirstSentenceAt.IsZero() {
		c.metrics.FirstSentenceAt = chunk.Timestamp
	}
	c.metrics.TotalSentences++
	c.metricsMu.Unlock()
	return true
}

// observeToken accumulates the raw response text and updates token metrics.
func (c *Coordinator) observeToken(text string) {
	c.content.WriteString(text)

	c.metricsMu.Lock()
	if c.metrics.FirstTokenAt.IsZero() {
		c.metrics.FirstTokenAt = time.Now()
	}
	c.metrics.TotalTokens++
	c.metrics.TotalCharacters += len(text)
	c.metricsMu.Unlock()
}

// waitWhilePaused blocks the producer while the stream is paused.
func (c *Coordinator) waitWhilePaused() {
	c.pauseMu.Lock()
	for c.State() == StatePaused {
		c.pause.Wait()
	}
	c.pauseMu.Unlock()
}
