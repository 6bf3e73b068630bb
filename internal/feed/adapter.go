// Package feed consumes the ordered price tick stream, drives revaluation
// and liquidation per tick, and emits one outbound market update per
// processed tick. The transport on either side (NATS in, NATS out) is
// pluggable; the adapter itself only knows ticks and sinks.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marginledger/internal/observability"
	"marginledger/internal/sweep"
)

// Update is the flattened market/position update emitted once per processed
// tick for downstream broadcasters.
type Update struct {
	Type        string  `json:"type"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Bid         float64 `json:"bid,omitempty"`
	Ask         float64 `json:"ask,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
	Timestamp   int64   `json:"timestamp"`
	Revalued    int     `json:"revalued"`
	Liquidated  int     `json:"liquidated"`
	ProcessedAt int64   `json:"processedAt"`
}

// Sink receives one Update per processed tick. Publish failures are the
// sink's problem; the feed loop never stalls or dies on them.
type Sink interface {
	Publish(ctx context.Context, u Update) error
}

// Adapter routes ticks to one worker goroutine per asset. Within an asset
// ticks are processed strictly in arrival order with at most one sweep in
// flight; across assets sweeps run in parallel. The ledger underneath
// serializes all mutations, so cross-asset parallelism is safe.
type Adapter struct {
	sweeper *sweep.Sweeper
	sink    Sink
	log     zerolog.Logger
	metrics *observability.Metrics

	// mu guards the worker map and the closed flag. Senders hold the read
	// lock for the full duration of a channel send, so Close can only close
	// the worker channels once no send is in flight.
	mu      sync.RWMutex
	workers map[string]chan Tick
	closed  bool
	wg      sync.WaitGroup
}

func NewAdapter(s *sweep.Sweeper, sink Sink, log zerolog.Logger, metrics *observability.Metrics) *Adapter {
	return &Adapter{
		sweeper: s,
		sink:    sink,
		log:     log,
		metrics: metrics,
		workers: make(map[string]chan Tick),
	}
}

// HandleRaw parses one raw tick and dispatches it. Malformed ticks are
// logged and skipped; they never abort the feed loop.
func (a *Adapter) HandleRaw(ctx context.Context, data []byte) {
	tick, err := ParseTick(data)
	if err != nil {
		a.log.Warn().Err(err).Msg("skipping malformed tick")
		if a.metrics != nil {
			a.metrics.TicksMalformed.Inc()
		}
		return
	}
	a.Dispatch(ctx, tick)
}

// Dispatch hands a tick to its asset's worker, creating the worker on first
// sight of the asset. The send blocks, which is what preserves per-asset
// arrival order: the caller (the single consumption loop) cannot race ahead
// of a slow sweep for the same asset.
func (a *Adapter) Dispatch(ctx context.Context, tick Tick) {
	ch := a.worker(ctx, tick.Symbol)
	if ch == nil {
		return
	}

	// Hold the read lock across the send: a sender blocked on a full worker
	// channel keeps Close parked until the send lands, instead of having the
	// channel closed under it.
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case ch <- tick:
	case <-ctx.Done():
	}
}

// worker returns the asset's tick channel, starting the worker goroutine on
// first use. Returns nil once the adapter is closed.
func (a *Adapter) worker(ctx context.Context, asset string) chan Tick {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	ch, ok := a.workers[asset]
	if !ok {
		ch = make(chan Tick, 64)
		a.workers[asset] = ch
		a.wg.Add(1)
		go a.runWorker(ctx, asset, ch)
	}
	return ch
}

func (a *Adapter) runWorker(ctx context.Context, asset string, ch <-chan Tick) {
	defer a.wg.Done()

	for tick := range ch {
		a.process(ctx, asset, tick)
	}
}

// process runs Evaluator+Sweeper synchronously for one tick, then notifies
// the sink. One tick is fully applied before the next for the same asset is
// accepted.
func (a *Adapter) process(ctx context.Context, asset string, tick Tick) {
	start := time.Now()

	res := a.sweeper.Sweep(asset, tick.Price)

	if a.metrics != nil {
		a.metrics.TicksProcessed.WithLabelValues(asset).Inc()
		a.metrics.SweepDuration.WithLabelValues(asset).Observe(time.Since(start).Seconds())
		if tick.Timestamp > 0 {
			a.metrics.TickLag.WithLabelValues(asset).Observe(time.Since(time.UnixMilli(tick.Timestamp)).Seconds())
		}
	}

	if a.sink == nil {
		return
	}

	update := Update{
		Type:        "market_data",
		Symbol:      tick.Symbol,
		Price:       tick.Price,
		Bid:         tick.Bid,
		Ask:         tick.Ask,
		Volume:      tick.Volume,
		Timestamp:   tick.Timestamp,
		Revalued:    res.Revalued,
		Liquidated:  len(res.Liquidations),
		ProcessedAt: time.Now().UnixMilli(),
	}
	if err := a.sink.Publish(ctx, update); err != nil {
		a.log.Warn().Err(err).Str("asset", asset).Msg("outbound update publish failed")
		if a.metrics != nil {
			a.metrics.PublishDrops.Inc()
		}
	} else if a.metrics != nil {
		a.metrics.UpdatesPublished.Inc()
	}
}

// Close stops accepting ticks and waits for in-flight ones to finish, so no
// tick is left half-processed on shutdown. Taking the write lock first means
// any sender still inside Dispatch completes its send (or drops out) before
// the worker channels are closed.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	for _, ch := range a.workers {
		close(ch)
	}
	a.mu.Unlock()

	a.wg.Wait()
}
