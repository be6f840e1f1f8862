// Package supervisor keeps a bounded pool of session runners alive, replacing
// runners whose sessions ended with the next proxy from the supply.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"proxy-keepalive/pkg/config"
	"proxy-keepalive/pkg/executor"
	"proxy-keepalive/pkg/proxy"
	"proxy-keepalive/pkg/session"
	"proxy-keepalive/pkg/store"
)

// ErrEmptySupply is returned when Supervise is started without proxies.
var ErrEmptySupply = fmt.Errorf("proxy supply is empty: %w", config.ErrNoProxies)

const (
	defaultConcurrency = 10
	defaultIdleDelay   = 3 * time.Second
)

// Runner sustains the session of one proxy until it ends or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, proxyID string) session.Outcome
}

type Config struct {
	Concurrency int
	// IdleDelay is the pause between supervision cycles.
	IdleDelay time.Duration
	// PruneDead removes proxies whose channel failed from ProxyFile and from the store.
	PruneDead bool
	ProxyFile string
}

// Report lists what happened during one Supervise call.
type Report struct {
	Started []string
	Results []session.Outcome
}

type Supervisor struct {
	runner Runner
	store  store.Store
	config Config
	logger *slog.Logger
}

// New builds a supervisor. st is only used to drop records of pruned proxies
// and may be nil.
func New(runner Runner, st store.Store, config Config, logger *slog.Logger) *Supervisor {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.IdleDelay <= 0 {
		config.IdleDelay = defaultIdleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		runner: runner,
		store:  st,
		config: config,
		logger: logger,
	}
}

// pool is the state owned by the control loop. Only Supervise touches it.
type pool struct {
	supply *proxy.Supply
	active map[string]struct{}
	done   chan session.Outcome
	report Report
}

// Supervise runs sessions for the proxies in supply, at most Concurrency at a
// time, until the supply is used up and every runner has ended. On
// cancellation it stops every runner, waits for them, and returns ctx.Err().
func (s *Supervisor) Supervise(ctx context.Context, supply *proxy.Supply) (Report, error) {
	if supply == nil || supply.Len() == 0 {
		return Report{}, &config.ConfigurationError{Key: "proxies.file", Err: ErrEmptySupply}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &pool{
		supply: supply,
		active: make(map[string]struct{}, s.config.Concurrency),
		// Never more than Concurrency runners, so sends never block.
		done: make(chan session.Outcome, s.config.Concurrency),
	}

	s.logger.Info("Starting supervisor",
		"proxies", supply.Len(),
		"concurrency", s.config.Concurrency)

	s.fill(runCtx, p)
	for len(p.active) > 0 {
		select {
		case <-ctx.Done():
			return s.shutdown(cancel, p, ctx.Err())
		case out := <-p.done:
			s.finish(ctx, p, out)
		}

	drain:
		for {
			select {
			case out := <-p.done:
				s.finish(ctx, p, out)
			default:
				break drain
			}
		}

		if ctx.Err() != nil {
			return s.shutdown(cancel, p, ctx.Err())
		}
		s.fill(runCtx, p)

		if len(p.active) > 0 && !wait(ctx, s.config.IdleDelay) {
			return s.shutdown(cancel, p, ctx.Err())
		}
	}

	s.logger.Info("Proxy supply exhausted and no sessions active",
		"started", len(p.report.Started))
	return p.report, nil
}

// fill starts runners until the pool is at its limit or the supply is empty.
func (s *Supervisor) fill(ctx context.Context, p *pool) {
	for len(p.active) < s.config.Concurrency {
		proxyID, ok := p.supply.Pop()
		if !ok {
			return
		}
		if _, running := p.active[proxyID]; running {
			s.logger.Warn("Skipping proxy that already has a runner", "proxy", proxy.Redact(proxyID))
			continue
		}

		p.active[proxyID] = struct{}{}
		p.report.Started = append(p.report.Started, proxyID)
		s.logger.Debug("Starting session runner",
			"proxy", proxy.Redact(proxyID),
			"active", len(p.active),
			"remaining", p.supply.Len())

		go func(proxyID string) {
			p.done <- s.runner.Run(ctx, proxyID)
		}(proxyID)
	}
}

func (s *Supervisor) finish(ctx context.Context, p *pool, out session.Outcome) {
	delete(p.active, out.ProxyID)
	p.report.Results = append(p.report.Results, out)

	if !out.Terminated() {
		s.logger.Debug("Session runner stopped", "proxy", proxy.Redact(out.ProxyID))
		return
	}

	s.logger.Info("Session ended",
		"proxy", proxy.Redact(out.ProxyID),
		"reason", out.Reason,
		"error", out.Err,
		"remaining", p.supply.Len())

	if s.config.PruneDead && proxyDead(out) {
		s.prune(ctx, out.ProxyID)
	}
}

func (s *Supervisor) shutdown(cancel context.CancelFunc, p *pool, err error) (Report, error) {
	cancel()
	s.logger.Info("Stopping session runners", "active", len(p.active))
	for len(p.active) > 0 {
		out := <-p.done
		delete(p.active, out.ProxyID)
		p.report.Results = append(p.report.Results, out)
	}
	return p.report, err
}

func (s *Supervisor) prune(ctx context.Context, proxyID string) {
	logger := s.logger.With("proxy", proxy.Redact(proxyID))

	if s.config.ProxyFile != "" {
		if err := proxy.RemoveFromFile(s.config.ProxyFile, proxyID); err != nil {
			logger.Warn("Failed to remove proxy from list", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Delete(context.WithoutCancel(ctx), proxyID); err != nil {
			logger.Warn("Failed to delete session record", "error", err)
		}
	}
	logger.Info("Pruned dead proxy")
}

func proxyDead(out session.Outcome) bool {
	if out.Reason == session.ReasonProxyDead {
		return true
	}
	failure, ok := executor.AsFailure(out.Err)
	return ok && failure.Kind == executor.ProxyUnusable
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
