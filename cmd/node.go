package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/network"
)

// Exit codes of every binary.
const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitNetworkError = 2
)

var _ component.Component = (*Node)(nil)

// Node runs the components of a binary until it is interrupted, one of them
// throws an irrecoverable error or the work of the node is finished.
type Node struct {
	*component.ComponentManager
	Logger       zerolog.Logger
	name         string
	postShutdown func() error
}

// Run starts all components and blocks until a SIGINT or SIGTERM is received,
// a component throws, or finished is closed. finished may be nil.
func (node *Node) Run(finished <-chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)
	go node.Start(signalerCtx)

	go func() {
		select {
		case <-node.Ready():
			node.Logger.Info().Msgf("%s node startup complete", node.name)
		case <-ctx.Done():
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case err := <-errChan:
		runErr = err
		node.Logger.Error().Err(err).Msg("unhandled irrecoverable error")
	case <-sigCtx.Done():
	case <-finished:
	}

	node.Logger.Info().Msgf("%s node shutting down", node.name)
	cancel()
	<-node.Done()

	if err := node.postShutdown(); err != nil {
		runErr = multierror.Append(runErr, err)
	}
	node.Logger.Info().Msgf("%s node shutdown complete", node.name)
	return runErr
}

// ExitCode maps the error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case network.IsSubstrateError(err):
		return ExitNetworkError
	default:
		return ExitConfigError
	}
}

// Execute runs the root command and returns the process exit code.
func Execute(root *cobra.Command) int {
	root.SilenceUsage = true
	return ExitCode(root.Execute())
}
