package prover_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/utils/unittest"
)

// script stands in for the prover binary: results are the concatenated
// inputs, verify accepts receipts starting with the image id.
const script = `#!/bin/sh
cmd=$1; shift
out=""; inputs=""; image=""; receipt=""
while [ $# -gt 0 ]; do
  case $1 in
    --out) out=$2; shift 2;;
    --segment|--left|--right) inputs="$inputs $2"; shift 2;;
    --receipt) receipt=$2; inputs="$inputs $2"; shift 2;;
    --image-id) image=$2; shift 2;;
    --po2) shift 2;;
    *) echo "unknown flag $1" >&2; exit 3;;
  esac
done
case $cmd in
  prove-and-lift|join|groth16)
    if grep -q crash $inputs; then echo "segment is corrupt" >&2; exit 2; fi
    if grep -q slow $inputs; then exec sleep 10; fi
    printf '%s:' "$cmd" > "$out"; cat $inputs >> "$out";;
  verify)
    if [ "$(head -c ${#image} "$receipt")" = "$image" ]; then exit 0; fi
    echo "image id mismatch" >&2; exit 1;;
  *) echo "unknown command $cmd" >&2; exit 3;;
esac
`

func newEngine(t *testing.T) *prover.ExecEngine {
	dir := t.TempDir()
	bin := filepath.Join(dir, "prover")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	engine, err := prover.NewExecEngine(unittest.Logger(), bin, dir)
	require.NoError(t, err)
	return engine
}

func TestExecEngine_Produce(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	receipt, err := engine.ProveAndLift(ctx, []byte("seg"), 20)
	require.NoError(t, err)
	assert.Equal(t, "prove-and-lift:seg", string(receipt))

	joined, err := engine.Join(ctx, []byte("l"), []byte("r"))
	require.NoError(t, err)
	assert.Equal(t, "join:lr", string(joined))

	snark, err := engine.Groth16(ctx, []byte("s"))
	require.NoError(t, err)
	assert.Equal(t, "groth16:s", string(snark))
}

func TestExecEngine_ExecutionFailure(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.ProveAndLift(context.Background(), []byte("crash"), 20)
	require.True(t, prover.IsExecutionError(err))
	assert.Contains(t, err.Error(), "segment is corrupt")
}

func TestExecEngine_Verify(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	imageID := []byte{0xab, 0xcd}

	require.NoError(t, engine.Verify(ctx, []byte("abcd-receipt"), imageID))

	err := engine.Verify(ctx, []byte("ffff-receipt"), imageID)
	require.True(t, prover.IsVerificationError(err))
	assert.False(t, prover.IsExecutionError(err))
	assert.Contains(t, err.Error(), "image id mismatch")
}

func TestExecEngine_Cancel(t *testing.T) {
	engine := newEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	unittest.RequireReturnsBefore(t, func() {
		_, err := engine.ProveAndLift(ctx, []byte("slow"), 20)
		require.True(t, prover.IsExecutionError(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}, 5*time.Second, "engine did not return after cancellation")
}

func TestNewExecEngine_MissingBinary(t *testing.T) {
	_, err := prover.NewExecEngine(unittest.Logger(), filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
}
