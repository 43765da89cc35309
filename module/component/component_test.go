package component_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/util"
)

func TestComponentManager_ReadyDone(t *testing.T) {
	cm := component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			ready()
			<-ctx.Done()
		}).
		AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			ready()
			<-ctx.Done()
		}).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(ctx)
	cm.Start(signalerCtx)

	require.Eventually(t, func() bool { return util.CheckClosed(cm.Ready()) }, time.Second, 10*time.Millisecond)
	assert.False(t, util.CheckClosed(cm.Done()))

	cancel()
	require.Eventually(t, func() bool { return util.CheckClosed(cm.Done()) }, time.Second, 10*time.Millisecond)
	assert.True(t, util.CheckClosed(cm.ShutdownSignal()))
}

func TestComponentManager_ThrowPropagates(t *testing.T) {
	expected := errors.New("fatal")
	cm := component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			ready()
			ctx.Throw(expected)
		}).
		AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			ready()
			<-ctx.Done()
		}).
		Build()

	signalerCtx, errChan := irrecoverable.WithSignaler(context.Background())
	cm.Start(signalerCtx)

	err := util.WaitError(errChan, cm.Done())
	require.ErrorIs(t, err, expected)
	require.Eventually(t, func() bool { return util.CheckClosed(cm.Done()) }, time.Second, 10*time.Millisecond)
}

func TestComponentManager_StartTwicePanics(t *testing.T) {
	cm := component.NewComponentManagerBuilder().Build()
	signalerCtx, _ := irrecoverable.WithSignaler(context.Background())
	cm.Start(signalerCtx)
	require.Panics(t, func() { cm.Start(signalerCtx) })
}
