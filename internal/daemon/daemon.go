// Package daemon runs the selfheal background loops: the poll loop that
// hands actionable tickets to the automation handler, and the cron-driven
// sweep that escalates tickets stuck past their wait bound.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marcus-qen/selfheal/internal/config"
	"github.com/marcus-qen/selfheal/internal/engine"
	"github.com/marcus-qen/selfheal/internal/mapper"
	"github.com/marcus-qen/selfheal/internal/metrics"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

// StepHandler is the automation boundary. Given an actionable ticket it
// runs the stage the ticket is waiting for (analysis, fix generation,
// PR creation, deploy, verification) and requests the resulting
// transition through the engine. The daemon never advances a ticket
// itself except for timeout escalation.
type StepHandler interface {
	HandleTicket(ctx context.Context, t *mapper.Ticket) error
}

type workSource interface {
	FindActionable(ctx context.Context, max int) ([]*mapper.Ticket, error)
	FindTimedOut(ctx context.Context, states ...workflow.State) ([]*mapper.Ticket, error)
}

type transitioner interface {
	RequestTransition(ctx context.Context, key string, to workflow.State, trigger string, delta map[string]any) (*engine.Result, error)
}

// Daemon owns the poll and sweep loops.
type Daemon struct {
	cfg     config.DaemonConfig
	source  workSource
	engine  transitioner
	handler StepHandler
	log     *zap.Logger

	escSpec cron.Schedule

	mu        sync.Mutex
	cancel    context.CancelFunc
	ticker    *time.Ticker
	inFlight  map[string]struct{} // ticket keys being handled
	lastSweep time.Time
	wg        sync.WaitGroup

	now func() time.Time
}

// New builds a Daemon. A nil handler is allowed: the daemon still polls
// and sweeps, it just reports actionable work without dispatching it.
func New(cfg config.DaemonConfig, source workSource, eng transitioner, handler StepHandler, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	spec, err := cron.ParseStandard(cfg.EscalationSchedule)
	if err != nil {
		return nil, fmt.Errorf("parse escalation schedule %q: %w", cfg.EscalationSchedule, err)
	}
	return &Daemon{
		cfg:      cfg,
		source:   source,
		engine:   eng,
		handler:  handler,
		log:      log.Named("daemon"),
		escSpec:  spec,
		inFlight: make(map[string]struct{}),
		now:      time.Now,
	}, nil
}

// Start starts the background loops. It is safe to call Start multiple times.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	if d.ticker != nil {
		d.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.ticker = time.NewTicker(d.cfg.PollInterval)
	ticker := d.ticker
	d.lastSweep = d.now().UTC()
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runOnce(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				d.runOnce(loopCtx)
			}
		}
	}()
}

// Stop stops background work and waits for in-flight handlers.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.ticker == nil {
		d.mu.Unlock()
		return
	}
	d.ticker.Stop()
	d.ticker = nil
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Daemon) runOnce(ctx context.Context) {
	d.pollOnce(ctx)
	d.maybeSweep(ctx)
}

// pollOnce scans for actionable tickets and dispatches each to the
// handler, one goroutine per ticket. A ticket already being handled is
// skipped until its handler returns.
func (d *Daemon) pollOnce(ctx context.Context) {
	start := d.now()
	tickets, err := d.source.FindActionable(ctx, d.cfg.MaxBatch)
	if err != nil {
		d.log.Error("poll failed", zap.Error(err))
		return
	}
	metrics.RecordPoll(len(tickets), d.now().Sub(start))

	if d.handler == nil {
		if len(tickets) > 0 {
			d.log.Info("actionable tickets waiting, no handler configured",
				zap.Int("count", len(tickets)))
		}
		return
	}

	for _, t := range tickets {
		d.mu.Lock()
		if _, busy := d.inFlight[t.Key]; busy {
			d.mu.Unlock()
			continue
		}
		d.inFlight[t.Key] = struct{}{}
		d.mu.Unlock()

		d.wg.Add(1)
		go func(t *mapper.Ticket) {
			defer d.wg.Done()
			defer func() {
				d.mu.Lock()
				delete(d.inFlight, t.Key)
				d.mu.Unlock()
			}()

			if err := d.handler.HandleTicket(ctx, t); err != nil {
				d.log.Error("handler failed",
					zap.String("key", t.Key),
					zap.String("state", string(t.State)),
					zap.Error(err))
				return
			}
			d.log.Debug("handled ticket",
				zap.String("key", t.Key),
				zap.String("state", string(t.State)))
		}(t)
	}
}

// maybeSweep runs the escalation sweep when the cron schedule says one
// is due since the last sweep.
func (d *Daemon) maybeSweep(ctx context.Context) {
	now := d.now().UTC()
	d.mu.Lock()
	due := !d.escSpec.Next(d.lastSweep).After(now)
	if due {
		d.lastSweep = now
	}
	d.mu.Unlock()
	if !due {
		return
	}
	d.Sweep(ctx)
}

// Sweep escalates every ticket sitting past its wait bound to
// IncidentRequiresHuman. Exported so operators can trigger it on demand.
func (d *Daemon) Sweep(ctx context.Context) {
	tickets, err := d.source.FindTimedOut(ctx)
	if err != nil {
		d.log.Error("timeout sweep failed", zap.Error(err))
		return
	}
	metrics.RecordSweep(len(tickets))

	for _, t := range tickets {
		delta := map[string]any{
			"escalation_reason": fmt.Sprintf("no progress in state %s since deadline %s", t.State, t.Deadline.UTC().Format(time.RFC3339)),
		}
		if _, err := d.engine.RequestTransition(ctx, t.Key, workflow.IncidentRequiresHuman, "timeout-sweep", delta); err != nil {
			d.log.Error("escalation failed",
				zap.String("key", t.Key),
				zap.String("state", string(t.State)),
				zap.Error(err))
			continue
		}
		d.log.Warn("escalated stuck ticket",
			zap.String("key", t.Key),
			zap.String("state", string(t.State)),
			zap.Time("deadline", t.Deadline))
	}
}
