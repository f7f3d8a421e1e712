package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestHelperProcess is the command run by the tests below. It only does
// something when invoked with arguments after "--".
func TestHelperProcess(t *testing.T) {
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		return
	}

	switch args[1] {
	case "echo":
		fmt.Fprint(os.Stdout, args[2])
		os.Exit(0)
	case "fail":
		code, _ := strconv.Atoi(args[2])
		fmt.Fprint(os.Stderr, "boom\n")
		os.Exit(code)
	case "sleep":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

func helper(t *testing.T, args ...string) (string, []string) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe, append([]string{"-test.run=TestHelperProcess", "--"}, args...)
}

func TestExec_Run(t *testing.T) {
	r := NewExec(zaptest.NewLogger(t))
	name, args := helper(t, "echo", "hello")

	res, err := r.Run(context.Background(), name, args...)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
}

func TestExec_Run_NonZeroExit(t *testing.T) {
	r := NewExec(zaptest.NewLogger(t))
	name, args := helper(t, "fail", "3")

	res, err := r.Run(context.Background(), name, args...)
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "boom", exitErr.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "exited with status 3: boom")
}

func TestExec_Run_Timeout(t *testing.T) {
	r := NewExec(nil)
	name, args := helper(t, "sleep")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := r.Run(ctx, name, args...)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExec_Run_MissingCommand(t *testing.T) {
	r := NewExec(nil)

	_, err := r.Run(context.Background(), "pyenvcheck-no-such-command")
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestFunc(t *testing.T) {
	var got []string
	f := Func(func(_ context.Context, name string, args ...string) (Result, error) {
		got = append([]string{name}, args...)
		return Result{Stdout: []byte("ok")}, nil
	})

	res, err := f.Run(context.Background(), "conda", "--version")
	require.NoError(t, err)
	assert.Equal(t, []string{"conda", "--version"}, got)
	assert.Equal(t, "ok", string(res.Stdout))
}
