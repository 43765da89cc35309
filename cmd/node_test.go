package cmd_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/cmd"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/utils/unittest"
)

func builder(t *testing.T, dir string, args ...string) (*cmd.NodeBuilder, error) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cmd.InitializeFlags(flags)
	args = append([]string{
		"--datadir", dir,
		"--generate-key",
		"--storage", "memory",
		"--listen", "/ip4/127.0.0.1/tcp/0",
		"--mdns=false",
	}, args...)
	require.NoError(t, flags.Parse(args))
	return cmd.NewNodeBuilder("test", flags)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, cmd.ExitSuccess, cmd.ExitCode(nil))
	assert.Equal(t, cmd.ExitConfigError, cmd.ExitCode(errors.New("bad flag")))
	substrate := network.NewSubstrateError(network.TransportFailed, errors.New("no transport"))
	assert.Equal(t, cmd.ExitNetworkError, cmd.ExitCode(substrate))
	assert.Equal(t, cmd.ExitNetworkError, cmd.ExitCode(fmt.Errorf("startup: %w", substrate)))
}

func TestNodeBuilder_ConfigErrors(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		_, err := builder(t, dir, "--loglevel", "loud")
		assert.Error(t, err)

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		cmd.InitializeFlags(flags)
		require.NoError(t, flags.Parse([]string{"--key", filepath.Join(dir, "missing")}))
		_, err = cmd.NewNodeBuilder("test", flags)
		assert.Error(t, err, "missing key without --generate-key")
		assert.Equal(t, cmd.ExitConfigError, cmd.ExitCode(err))
	})
}

func TestNode_RunsUntilFinished(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		b, err := builder(t, dir)
		require.NoError(t, err)

		store, err := b.ContentStore(context.Background())
		require.NoError(t, err)
		c, err := store.Upload(context.Background(), []byte("data"))
		require.NoError(t, err)
		data, err := store.Fetch(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), data)

		require.NoError(t, b.BuildNetwork(false))
		_, err = b.Unicast()
		require.NoError(t, err)

		finished := make(chan struct{})
		node := b.Build()
		errs := make(chan error, 1)
		go func() {
			errs <- node.Run(finished)
		}()
		unittest.RequireCloseBefore(t, node.Ready(), 5*time.Second, "node did not start")

		close(finished)
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("node did not stop")
		}
	})
}
