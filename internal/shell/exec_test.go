package shell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Success(t *testing.T) {
	out, err := Runner{}.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRun_NonZeroExitCarriesOutput(t *testing.T) {
	cmd := Cmd{Name: "sh", Args: []string{"-c", "echo partial; echo fatal: nope >&2; exit 128"}}
	_, err := Runner{}.Run(context.Background(), cmd)

	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 128, ee.Code)
	assert.Contains(t, ee.Output, "partial")
	assert.Contains(t, ee.Output, "fatal: nope")
	assert.Contains(t, err.Error(), "sh -c")
}

func TestRun_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	out, err := Runner{}.Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", `echo "$HOSTBUS_TEST_VAR:$(pwd)"`},
		Env:  []string{"HOSTBUS_TEST_VAR=x"},
		Dir:  dir,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "x:")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Runner{}.Run(ctx, Cmd{Name: "sleep", Args: []string{"5"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
