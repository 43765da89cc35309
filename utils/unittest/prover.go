package unittest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/wholesum/bazaar/module/prover"
)

var _ prover.Engine = (*ProverEngine)(nil)

const fakeReceiptPrefix = "fake-receipt"

// ProverEngine is an in-memory prover. Receipts embed the image id they were
// produced for and a digest of their inputs, so Verify accepts exactly the
// receipts produced by an engine with the same image id.
type ProverEngine struct {
	mu       sync.Mutex
	imageID  []byte
	delay    time.Duration
	failures map[prover.Operation]int
	calls    map[prover.Operation]int
}

func NewProverEngine(imageID []byte) *ProverEngine {
	return &ProverEngine{
		imageID:  imageID,
		failures: make(map[prover.Operation]int),
		calls:    make(map[prover.Operation]int),
	}
}

// WithDelay makes every proving operation take d, or until its context is cancelled.
func (p *ProverEngine) WithDelay(d time.Duration) *ProverEngine {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// FailNext makes the next n calls of op return an ExecutionError.
func (p *ProverEngine) FailNext(op prover.Operation, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] += n
}

// Calls returns how many times op was invoked.
func (p *ProverEngine) Calls(op prover.Operation) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *ProverEngine) ProveAndLift(ctx context.Context, segment []byte, po2 uint8) ([]byte, error) {
	return p.produce(ctx, prover.OpProveAndLift, segment, []byte{po2})
}

func (p *ProverEngine) Join(ctx context.Context, left []byte, right []byte) ([]byte, error) {
	return p.produce(ctx, prover.OpJoin, left, right)
}

func (p *ProverEngine) Groth16(ctx context.Context, succinct []byte) ([]byte, error) {
	return p.produce(ctx, prover.OpGroth16, succinct)
}

func (p *ProverEngine) Verify(ctx context.Context, receipt []byte, imageID []byte) error {
	if err := p.begin(ctx, prover.OpVerify, false); err != nil {
		return err
	}
	parts := bytes.Split(receipt, []byte("|"))
	if len(parts) != 4 || string(parts[0]) != fakeReceiptPrefix {
		return prover.NewVerificationErrorf("not a receipt")
	}
	if string(parts[2]) != hex.EncodeToString(imageID) {
		return prover.NewVerificationErrorf("receipt is for image %s", parts[2])
	}
	return nil
}

// begin records a call and applies the configured failure and delay.
func (p *ProverEngine) begin(ctx context.Context, op prover.Operation, delayed bool) error {
	p.mu.Lock()
	p.calls[op]++
	fail := p.failures[op] > 0
	if fail {
		p.failures[op]--
	}
	delay := p.delay
	p.mu.Unlock()

	if fail {
		return prover.NewExecutionErrorf(op, "injected failure")
	}
	if !delayed || delay == 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return prover.NewExecutionError(op, "cancelled", ctx.Err())
	}
}

func (p *ProverEngine) produce(ctx context.Context, op prover.Operation, inputs ...[]byte) ([]byte, error) {
	if err := p.begin(ctx, op, true); err != nil {
		return nil, err
	}
	h := sha256.New()
	for _, in := range inputs {
		_, _ = h.Write(in)
	}
	return []byte(fmt.Sprintf("%s|%s|%s|%x", fakeReceiptPrefix, op, hex.EncodeToString(p.imageID), h.Sum(nil))), nil
}
