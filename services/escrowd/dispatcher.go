package escrowd

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
	"github.com/Ayush1832/tg-escrow-bot-sub001/observability"
	"github.com/Ayush1832/tg-escrow-bot-sub001/services/escrowd/wallet"
)

// ResultReporter delivers a transfer outcome back to its trade.
type ResultReporter func(ctx context.Context, tradeID [32]byte, result escrow.TransferResult) error

// Dispatcher drains the engine outbox into the wallet. Transfers are queued
// in memory; a transfer lost on shutdown stays unacknowledged in the trade
// and can be resent with RetryPayout.
type Dispatcher struct {
	wallet        wallet.Wallet
	report        ResultReporter
	metrics       *observability.EscrowMetrics
	logger        *slog.Logger
	workers       int
	confirmations int
	waitInterval  time.Duration
	reportTimeout time.Duration
	now           func() time.Time

	mu        sync.Mutex
	paused    bool
	queue     []escrow.Transfer
	inFlight  map[string]struct{}
	delivered int
	bounced   int
	wake      chan struct{}
}

// DispatcherOption customises the dispatcher instance.
type DispatcherOption func(*Dispatcher)

// WithWallet supplies the disbursement wallet.
func WithWallet(w wallet.Wallet) DispatcherOption {
	return func(d *Dispatcher) { d.wallet = w }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.EscrowMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPollInterval configures the confirmation polling cadence.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.waitInterval = interval }
}

// WithConfirmations sets how many confirmations a transfer needs.
func WithConfirmations(n int) DispatcherOption {
	return func(d *Dispatcher) { d.confirmations = n }
}

// WithWorkers bounds the number of concurrent deliveries.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) { d.workers = n }
}

// WithReportTimeout bounds how long reporting a result may take.
func WithReportTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.reportTimeout = timeout }
}

// WithClock sets the function used to measure latency.
func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = clock }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher constructs a dispatcher reporting results through report.
func NewDispatcher(report ResultReporter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		report:        report,
		workers:       4,
		confirmations: 1,
		waitInterval:  3 * time.Second,
		reportTimeout: 10 * time.Second,
		now:           time.Now,
		inFlight:      make(map[string]struct{}),
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Enqueue implements escrow.Outbox. It never blocks.
func (d *Dispatcher) Enqueue(transfer escrow.Transfer) {
	d.mu.Lock()
	d.queue = append(d.queue, transfer)
	depth := len(d.queue)
	d.mu.Unlock()
	d.metrics.SetQueueDepth(depth)
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// next pops the first transfer whose token is not already being delivered.
func (d *Dispatcher) next() (escrow.Transfer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		return escrow.Transfer{}, false
	}
	for len(d.queue) > 0 {
		transfer := d.queue[0]
		d.queue = d.queue[1:]
		if _, busy := d.inFlight[transfer.Token]; busy {
			continue
		}
		d.inFlight[transfer.Token] = struct{}{}
		d.metrics.SetQueueDepth(len(d.queue))
		return transfer, true
	}
	return escrow.Transfer{}, false
}

// Run delivers queued transfers until ctx ends, then waits for deliveries
// already started.
func (d *Dispatcher) Run(ctx context.Context) error {
	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		for {
			transfer, ok := d.next()
			if !ok {
				break
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				d.requeue(transfer)
				return ctx.Err()
			}
			wg.Add(1)
			go func(transfer escrow.Transfer) {
				defer wg.Done()
				defer func() { <-sem }()
				d.deliver(ctx, transfer)
			}(transfer)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) requeue(transfer escrow.Transfer) {
	d.mu.Lock()
	delete(d.inFlight, transfer.Token)
	d.queue = append([]escrow.Transfer{transfer}, d.queue...)
	d.mu.Unlock()
}

func (d *Dispatcher) deliver(ctx context.Context, transfer escrow.Transfer) {
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, transfer.Token)
		d.mu.Unlock()
	}()
	start := d.now()
	err := d.send(ctx, transfer)
	if err != nil && ctx.Err() != nil {
		// shutting down: leave the leg unacknowledged rather than bounce it
		return
	}
	delivered := err == nil
	d.mu.Lock()
	if delivered {
		d.delivered++
	} else {
		d.bounced++
	}
	d.mu.Unlock()

	leg := escrow.LegName(transfer.Leg)
	result := "delivered"
	if !delivered {
		result = "bounced"
		d.logger.Warn("transfer bounced", "trade", tradeHex(transfer.TradeID), "leg", leg, "attempt", transfer.Attempt, "error", err)
	}
	d.metrics.RecordLeg(leg, result)
	d.metrics.ObserveDispatch(transfer.Asset, d.now().Sub(start))

	if d.report == nil {
		return
	}
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.reportTimeout)
	defer cancel()
	if err := d.report(reportCtx, transfer.TradeID, escrow.TransferResult{Token: transfer.Token, Delivered: delivered}); err != nil {
		d.logger.Error("report transfer result", "trade", tradeHex(transfer.TradeID), "leg", leg, "error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, transfer escrow.Transfer) error {
	if d.wallet == nil {
		return errors.New("escrowd: wallet not configured")
	}
	ref, err := d.wallet.Send(ctx, transfer)
	if err != nil {
		return err
	}
	interval := d.waitInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return d.wallet.WaitForConfirmations(ctx, ref, d.confirmations, interval)
}

// Pause holds queued transfers until Resume. Deliveries already started
// run to completion.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	d.metrics.SetPaused(true)
}

// Resume re-enables delivery.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.metrics.SetPaused(false)
	d.signal()
}

// DispatcherStatus summarises dispatcher state for administrative endpoints.
type DispatcherStatus struct {
	Paused    bool `json:"paused"`
	Queued    int  `json:"queued"`
	InFlight  int  `json:"in_flight"`
	Delivered int  `json:"delivered"`
	Bounced   int  `json:"bounced"`
}

// Status reports the current dispatcher snapshot.
func (d *Dispatcher) Status() DispatcherStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DispatcherStatus{
		Paused:    d.paused,
		Queued:    len(d.queue),
		InFlight:  len(d.inFlight),
		Delivered: d.delivered,
		Bounced:   d.bounced,
	}
}
