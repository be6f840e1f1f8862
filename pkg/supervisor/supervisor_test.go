package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxy-keepalive/pkg/config"
	"proxy-keepalive/pkg/executor"
	"proxy-keepalive/pkg/models"
	"proxy-keepalive/pkg/proxy"
	"proxy-keepalive/pkg/session"
	"proxy-keepalive/pkg/store"
)

// fakeRunner runs behaviours[proxyID], or blocks until cancellation when none is set.
type fakeRunner struct {
	mu         sync.Mutex
	behaviours map[string]func(ctx context.Context) session.Reason
	running    map[string]int
	started    []string
	maxActive  int
	duplicate  bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		behaviours: map[string]func(ctx context.Context) session.Reason{},
		running:    map[string]int{},
	}
}

func (f *fakeRunner) Run(ctx context.Context, proxyID string) session.Outcome {
	f.mu.Lock()
	f.running[proxyID]++
	if f.running[proxyID] > 1 {
		f.duplicate = true
	}
	f.started = append(f.started, proxyID)
	if n := f.activeLocked(); n > f.maxActive {
		f.maxActive = n
	}
	behaviour := f.behaviours[proxyID]
	f.mu.Unlock()

	reason := session.ReasonCanceled
	if behaviour != nil {
		reason = behaviour(ctx)
	} else {
		<-ctx.Done()
	}

	f.mu.Lock()
	f.running[proxyID]--
	f.mu.Unlock()

	out := session.Outcome{ProxyID: proxyID, Reason: reason}
	if reason == session.ReasonProxyDead {
		out.Err = &executor.Failure{Kind: executor.ProxyUnusable, Err: errors.New("proxyconnect refused")}
	}
	return out
}

func (f *fakeRunner) activeLocked() int {
	n := 0
	for _, c := range f.running {
		n += c
	}
	return n
}

func (f *fakeRunner) active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.running {
		if c > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeRunner) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func terminatesWith(reason session.Reason, after time.Duration) func(ctx context.Context) session.Reason {
	return func(ctx context.Context) session.Reason {
		select {
		case <-ctx.Done():
			return session.ReasonCanceled
		case <-time.After(after):
			return reason
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSuperviseEmptySupply(t *testing.T) {
	runner := newFakeRunner()
	sup := New(runner, nil, Config{Concurrency: 2, IdleDelay: time.Millisecond}, discardLogger())

	report, err := sup.Supervise(context.Background(), proxy.NewSupply(nil))

	require.ErrorIs(t, err, ErrEmptySupply)
	assert.ErrorIs(t, err, config.ErrNoProxies)
	var cfgErr *config.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, report.Started)
	assert.Equal(t, 0, runner.startedCount())
}

func TestSuperviseReplacesTerminatedRunner(t *testing.T) {
	runner := newFakeRunner()
	runner.behaviours["p1"] = terminatesWith(session.ReasonLoggedOut, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := New(runner, nil, Config{Concurrency: 2, IdleDelay: time.Millisecond}, discardLogger())
	type result struct {
		report Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := sup.Supervise(ctx, proxy.NewSupply([]string{"p1", "p2", "p3"}))
		done <- result{report, err}
	}()

	require.Eventually(t, func() bool { return runner.startedCount() == 3 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(runner.active()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"p2", "p3"}, runner.active())

	cancel()
	res := <-done

	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, []string{"p1", "p2", "p3"}, res.report.Started)
	require.Len(t, res.report.Results, 3)
	assert.Equal(t, session.Outcome{ProxyID: "p1", Reason: session.ReasonLoggedOut}, res.report.Results[0])
	assert.Empty(t, runner.active())
}

func TestSuperviseBoundsConcurrencyUntilExhausted(t *testing.T) {
	runner := newFakeRunner()
	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9", "p10"}
	for i, id := range ids {
		runner.behaviours[id] = terminatesWith(session.ReasonAuthFailed, time.Duration(i%3+1)*time.Millisecond)
	}

	sup := New(runner, nil, Config{Concurrency: 3, IdleDelay: time.Millisecond}, discardLogger())
	report, err := sup.Supervise(context.Background(), proxy.NewSupply(ids))

	require.NoError(t, err)
	assert.Equal(t, ids, report.Started)
	assert.Len(t, report.Results, len(ids))
	assert.LessOrEqual(t, runner.maxActive, 3)
	assert.False(t, runner.duplicate)
	for _, out := range report.Results {
		assert.Equal(t, session.ReasonAuthFailed, out.Reason)
	}
}

func TestSuperviseCancellationStopsReplenishment(t *testing.T) {
	runner := newFakeRunner()
	ctx, cancel := context.WithCancel(context.Background())

	sup := New(runner, nil, Config{Concurrency: 2, IdleDelay: time.Millisecond}, discardLogger())
	done := make(chan Report, 1)
	go func() {
		report, _ := sup.Supervise(ctx, proxy.NewSupply([]string{"p1", "p2", "p3", "p4", "p5"}))
		done <- report
	}()

	require.Eventually(t, func() bool { return len(runner.active()) == 2 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case report := <-done:
		assert.Equal(t, []string{"p1", "p2"}, report.Started)
		require.Len(t, report.Results, 2)
		for _, out := range report.Results {
			assert.False(t, out.Terminated())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return after cancellation")
	}
	assert.Empty(t, runner.active())
}

func TestSupervisePrunesDeadProxies(t *testing.T) {
	tests := []struct {
		name      string
		pruneDead bool
		wantFile  []string
		wantGone  bool
	}{
		{name: "prune enabled", pruneDead: true, wantFile: []string{"p2"}, wantGone: true},
		{name: "prune disabled", pruneDead: false, wantFile: []string{"p1", "p2"}, wantGone: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			proxyFile := filepath.Join(dir, "proxy.txt")
			require.NoError(t, os.WriteFile(proxyFile, []byte("p1\np2\n"), 0o644))

			now := time.Now()
			st := store.NewFileStore(filepath.Join(dir, "sessions"), 24*time.Hour)
			rec := models.Record{
				Timestamp: models.Timestamp{Time: now},
				Data: models.RecordData{
					AccountInfo: models.AccountInfo{"uid": "1"},
					BrowserID:   "b",
					Status:      models.StatusConnected,
				},
			}
			require.NoError(t, st.Save(context.Background(), "p1", rec))
			require.NoError(t, st.Save(context.Background(), "p2", rec))

			runner := newFakeRunner()
			runner.behaviours["p1"] = terminatesWith(session.ReasonProxyDead, 0)
			runner.behaviours["p2"] = terminatesWith(session.ReasonLoggedOut, 0)

			sup := New(runner, st, Config{
				Concurrency: 2,
				IdleDelay:   time.Millisecond,
				PruneDead:   tt.pruneDead,
				ProxyFile:   proxyFile,
			}, discardLogger())

			_, err := sup.Supervise(context.Background(), proxy.NewSupply([]string{"p1", "p2"}))
			require.NoError(t, err)

			remaining, err := proxy.LoadFile(proxyFile)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFile, remaining)

			_, err = st.Load(context.Background(), "p1")
			if tt.wantGone {
				assert.ErrorIs(t, err, store.ErrNotFound)
			} else {
				assert.NoError(t, err)
			}
			_, err = st.Load(context.Background(), "p2")
			assert.NoError(t, err)
		})
	}
}

func TestProxyDead(t *testing.T) {
	assert.True(t, proxyDead(session.Outcome{Reason: session.ReasonProxyDead}))
	assert.True(t, proxyDead(session.Outcome{
		Reason: session.ReasonAuthFailed,
		Err:    &executor.Failure{Kind: executor.ProxyUnusable},
	}))
	assert.False(t, proxyDead(session.Outcome{
		Reason: session.ReasonAuthFailed,
		Err:    &executor.Failure{Kind: executor.ConnectivityExhausted},
	}))
	assert.False(t, proxyDead(session.Outcome{Reason: session.ReasonLoggedOut}))
}
