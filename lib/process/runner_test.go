package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKim writes a shell script standing in for the kim binary.
func fakeKim(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kim")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func newTestRunner(t *testing.T, body string) *Runner {
	t.Helper()
	r, err := NewRunner(Config{Executable: fakeKim(t, body), WaitDelay: time.Second}, nil, nil, nil)
	require.NoError(t, err)
	return r
}

func TestRunSuccess(t *testing.T) {
	r := newTestRunner(t, `printf 'NAME TAG ID SIZE\n'; printf 'args:%s\n' "$*" >&2`)

	res, err := r.Run(context.Background(), []string{"images", "--all"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "NAME TAG ID SIZE\n", res.Stdout)
	assert.Equal(t, "args:images --all\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Signal)
}

func TestRunNonZeroExit(t *testing.T) {
	r := newTestRunner(t, `echo partial; echo boom >&2; exit 3`)

	res, err := r.Run(context.Background(), []string{"rmi", "abc123"})
	require.Error(t, err)
	require.Nil(t, res)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Empty(t, exitErr.Signal)
	assert.False(t, exitErr.TimedOut)
	assert.Equal(t, "partial\n", exitErr.Stdout)
	assert.Equal(t, "boom\n", exitErr.Stderr)
	assert.Equal(t, []string{"rmi", "abc123"}, exitErr.Args)
	assert.NotErrorIs(t, err, ErrKilledBySignal)
	assert.Equal(t, "kim rmi abc123: exit code 3", err.Error())
}

func TestRunKilledBySignal(t *testing.T) {
	r := newTestRunner(t, `echo dying >&2; kill -TERM $$; sleep 1`)

	_, err := r.Run(context.Background(), []string{"pull", "alpine", "--debug"})
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, -1, exitErr.ExitCode)
	assert.Equal(t, "SIGTERM", exitErr.Signal)
	assert.Equal(t, "dying\n", exitErr.Stderr)
	assert.ErrorIs(t, err, ErrKilledBySignal)
	assert.NotErrorIs(t, err, ErrWatchdogTimeout)
}

func TestRunWatchdogKillsHungProcess(t *testing.T) {
	r := newTestRunner(t, `echo started; exec sleep 30`)

	start := time.Now()
	_, err := r.Run(context.Background(), []string{"images", "--all"}, WithWatchdog(100*time.Millisecond))
	require.Less(t, time.Since(start), 10*time.Second)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.TimedOut)
	assert.Equal(t, -1, exitErr.ExitCode)
	assert.Equal(t, "SIGKILL", exitErr.Signal)
	assert.Equal(t, "started\n", exitErr.Stdout)
	assert.ErrorIs(t, err, ErrWatchdogTimeout)
	assert.ErrorIs(t, err, ErrKilledBySignal)
}

func TestRunWatchdogNotTriggeredForFastProcess(t *testing.T) {
	r := newTestRunner(t, `echo ok`)

	res, err := r.Run(context.Background(), []string{"images", "--all"}, WithWatchdog(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
}

func TestWatchdogDisarm(t *testing.T) {
	var kills atomic.Int32
	wd := newWatchdog(20*time.Millisecond, func() { kills.Add(1) })
	require.True(t, wd.pending())

	require.False(t, wd.disarm())
	require.False(t, wd.pending())

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, kills.Load())
}

func TestWatchdogFiresOnce(t *testing.T) {
	var kills atomic.Int32
	wd := newWatchdog(10*time.Millisecond, func() { kills.Add(1) })

	require.Eventually(t, func() bool { return kills.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, wd.disarm())
	require.False(t, wd.pending())
	require.Equal(t, int32(1), kills.Load())
}

func TestWatchdogDisabled(t *testing.T) {
	wd := newWatchdog(0, func() { t.Fatal("kill must not be called") })
	require.False(t, wd.pending())
	require.False(t, wd.disarm())
}

func TestRunStreamsOutput(t *testing.T) {
	r := newTestRunner(t, `echo one; echo warn >&2; echo two`)

	var (
		mu     sync.Mutex
		stdout strings.Builder
		stderr strings.Builder
	)
	onOutput := func(chunk string, isStderr bool) {
		mu.Lock()
		defer mu.Unlock()
		if isStderr {
			stderr.WriteString(chunk)
		} else {
			stdout.WriteString(chunk)
		}
	}

	res, err := r.Run(context.Background(), []string{"build", "."}, WithOutput(onOutput))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, res.Stdout, stdout.String())
	assert.Equal(t, res.Stderr, stderr.String())
	assert.Equal(t, "one\ntwo\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
}

func TestRunSpawnFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-kim")
	r, err := NewRunner(Config{Executable: missing}, nil, nil, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), []string{"images", "--all"})
	require.Nil(t, res)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, missing, spawnErr.Executable)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunContextCancelKillsChild(t *testing.T) {
	r := newTestRunner(t, `exec sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, []string{"push", "myimg:latest", "--debug"})
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "SIGKILL", exitErr.Signal)
	assert.False(t, exitErr.TimedOut)
}

func TestNewRunnerRequiresExecutable(t *testing.T) {
	_, err := NewRunner(Config{}, nil, nil, nil)
	require.Error(t, err)
}

func TestExitErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      *ExitError
		expected string
	}{
		{
			name:     "exit code",
			err:      &ExitError{Result: Result{ExitCode: 1}, Args: []string{"rmi", "x"}},
			expected: "kim rmi x: exit code 1",
		},
		{
			name:     "signal",
			err:      &ExitError{Result: Result{ExitCode: -1, Signal: "SIGTERM"}, Args: []string{"images", "--all"}},
			expected: "kim images --all: killed by SIGTERM",
		},
		{
			name:     "watchdog",
			err:      &ExitError{Result: Result{ExitCode: -1, Signal: "SIGKILL"}, Args: []string{"images", "--all"}, TimedOut: true},
			expected: "kim images --all: killed by SIGKILL after exceeding its maximum runtime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.err.Error())
		})
	}
}
