// Package session drives one proxy's session through authentication and an
// indefinite keepalive loop.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"proxy-keepalive/pkg/executor"
	"proxy-keepalive/pkg/models"
	"proxy-keepalive/pkg/proxy"
	"proxy-keepalive/pkg/store"
)

// Caller issues one logical API call through a proxy.
type Caller interface {
	Execute(ctx context.Context, endpoint string, payload any, proxyID, credential string) (*executor.Response, error)
}

// StatusRecorder receives every status change, for observability only.
type StatusRecorder interface {
	Record(proxyID string, status models.Status) error
}

type Config struct {
	Credential   string
	SessionURL   string
	PingURL      string
	PingInterval time.Duration
	// UnauthorizedCode is the service code meaning the credential was rejected.
	UnauthorizedCode int
	// MaxPingFailures ends the runner once the failed-ping streak reaches it. 0 never gives up.
	MaxPingFailures int
}

type pingPayload struct {
	ID        any    `json:"id"`
	BrowserID string `json:"browser_id"`
	Timestamp int64  `json:"timestamp"`
}

type Runner struct {
	caller      Caller
	store       store.Store
	status      StatusRecorder
	config      Config
	logger      *slog.Logger
	now         func() time.Time
	newClientID func() string
}

// NewRunner builds a runner. status may be nil.
func NewRunner(caller Caller, st store.Store, status StatusRecorder, config Config, logger *slog.Logger) *Runner {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.UnauthorizedCode == 0 {
		config.UnauthorizedCode = 403
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		caller:      caller,
		store:       st,
		status:      status,
		config:      config,
		logger:      logger,
		now:         time.Now,
		newClientID: uuid.NewString,
	}
}

func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

func (r *Runner) WithClientIDs(next func() string) *Runner {
	r.newClientID = next
	return r
}

// Run sustains the session for proxyID until it can no longer be kept alive
// or ctx ends. Failures never escape as errors; they end up in the Outcome.
func (r *Runner) Run(ctx context.Context, proxyID string) Outcome {
	logger := r.logger.With("proxy", proxy.Redact(proxyID))

	s := r.restore(ctx, proxyID, logger)
	if s == nil {
		var outcome Outcome
		s, outcome = r.authenticate(ctx, proxyID, logger)
		if s == nil {
			return outcome
		}
	}

	return r.keepalive(ctx, s, logger)
}

func (r *Runner) restore(ctx context.Context, proxyID string, logger *slog.Logger) *models.Session {
	rec, err := r.store.Load(ctx, proxyID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Debug("Ignoring persisted session", "error", err)
		}
		return nil
	}

	s, err := rec.Restore(proxyID, r.config.Credential)
	if err != nil {
		logger.Debug("Ignoring persisted session", "error", err)
		return nil
	}

	logger.Info("Resumed persisted session",
		"status", s.Status,
		"retry_count", s.RetryCount,
		"age", r.now().Sub(rec.Timestamp.Time).Round(time.Second))
	r.commit(ctx, s, "", logger)
	return s
}

func (r *Runner) authenticate(ctx context.Context, proxyID string, logger *slog.Logger) (*models.Session, Outcome) {
	s := models.NewSession(proxyID, r.newClientID(), r.config.Credential)
	failed := func(err error) (*models.Session, Outcome) {
		s.Logout()
		r.commit(ctx, s, "", logger)
		logger.Warn("Authentication failed", "error", err)
		return nil, Outcome{ProxyID: proxyID, Reason: ReasonAuthFailed, Err: err}
	}

	if s.Credential == "" {
		return failed(models.ErrNoCredential)
	}

	resp, err := r.caller.Execute(ctx, r.config.SessionURL, struct{}{}, proxyID, s.Credential)
	if ctx.Err() != nil {
		return nil, Outcome{ProxyID: proxyID, Reason: ReasonCanceled}
	}
	if err != nil {
		return failed(err)
	}

	var info models.AccountInfo
	if err := resp.DecodeData(&info); err != nil {
		return failed(err)
	}
	if err := s.Authenticate(info); err != nil {
		return failed(err)
	}

	uid, _ := info.UID()
	logger.Info("Authenticated", "uid", uid)
	r.commit(ctx, s, "", logger)
	return s, Outcome{}
}

func (r *Runner) keepalive(ctx context.Context, s *models.Session, logger *slog.Logger) Outcome {
	for {
		if outcome, done := r.ping(ctx, s, logger); done {
			return outcome
		}
		if !wait(ctx, r.config.PingInterval) {
			return Outcome{ProxyID: s.ProxyID, Reason: ReasonCanceled}
		}
	}
}

// wait blocks for d and reports false if ctx ended first.
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

// ping sends one keepalive and applies the resulting transition. done is true
// when the runner must stop.
func (r *Runner) ping(ctx context.Context, s *models.Session, logger *slog.Logger) (Outcome, bool) {
	payload := pingPayload{
		ID:        s.AccountInfo["uid"],
		BrowserID: s.ClientID,
		Timestamp: r.now().Unix(),
	}

	resp, err := r.caller.Execute(ctx, r.config.PingURL, payload, s.ProxyID, s.Credential)
	if ctx.Err() != nil {
		return Outcome{ProxyID: s.ProxyID, Reason: ReasonCanceled}, true
	}

	prev := s.Status
	if err == nil {
		switch resp.Code {
		case 0:
			s.PingSucceeded()
			r.commit(ctx, s, prev, logger)
			logger.Debug("Ping succeeded")
			return Outcome{}, false
		case r.config.UnauthorizedCode:
			return r.logout(ctx, s, prev, logger, nil), true
		default:
			logger.Debug("Ping rejected", "code", resp.Code, "msg", resp.Msg)
			return r.pingFailed(ctx, s, prev, logger, nil)
		}
	}

	failure, ok := executor.AsFailure(err)
	if !ok {
		logger.Warn("Ping failed", "error", err)
		return r.pingFailed(ctx, s, prev, logger, err)
	}

	switch failure.Kind {
	case executor.ProxyUnusable:
		logger.Warn("Proxy unusable, stopping session", "error", failure)
		return Outcome{ProxyID: s.ProxyID, Reason: ReasonProxyDead, Err: failure}, true
	case executor.ApplicationRejected:
		if code, hasCode := failure.Code(); hasCode && code == r.config.UnauthorizedCode {
			return r.logout(ctx, s, prev, logger, failure), true
		}
	}

	logger.Debug("Ping failed", "kind", failure.Kind, "error", failure.Err)
	return r.pingFailed(ctx, s, prev, logger, failure)
}

func (r *Runner) pingFailed(ctx context.Context, s *models.Session, prev models.Status, logger *slog.Logger, cause error) (Outcome, bool) {
	s.PingFailed()
	r.commit(ctx, s, prev, logger)

	if r.config.MaxPingFailures > 0 && s.RetryCount >= r.config.MaxPingFailures {
		logger.Warn("Abandoning session after repeated ping failures", "retry_count", s.RetryCount)
		return Outcome{ProxyID: s.ProxyID, Reason: ReasonAbandoned, Err: cause}, true
	}
	return Outcome{}, false
}

func (r *Runner) logout(ctx context.Context, s *models.Session, prev models.Status, logger *slog.Logger, cause error) Outcome {
	s.Logout()
	r.commit(ctx, s, prev, logger)
	logger.Warn("Credential rejected, logged out")
	return Outcome{ProxyID: s.ProxyID, Reason: ReasonLoggedOut, Err: cause}
}

// commit persists s after a transition. The write is not cancelled with ctx,
// so the last completed transition is what survives a shutdown.
func (r *Runner) commit(ctx context.Context, s *models.Session, prev models.Status, logger *slog.Logger) {
	now := r.now()
	if err := r.store.Save(context.WithoutCancel(ctx), s.ProxyID, models.NewRecord(s, now)); err != nil {
		logger.Warn("Failed to persist session", "error", err)
	} else {
		s.LastPersistedAt = now
	}

	if s.Status == prev {
		return
	}
	if prev != "" {
		logger.Info("Session status changed", "from", prev, "to", s.Status, "retry_count", s.RetryCount)
	}
	if r.status != nil {
		if err := r.status.Record(s.ProxyID, s.Status); err != nil {
			logger.Warn("Failed to record status", "error", err)
		}
	}
}
