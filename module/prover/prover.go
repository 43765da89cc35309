// Package prover runs the zero knowledge proving pipeline on behalf of a
// server, and verifies receipts on behalf of a client. The proving itself
// happens in an external engine.
package prover

import (
	"context"
)

// Engine is the proving engine consumed by clients and servers. All methods
// block until the engine finishes or ctx is cancelled.
type Engine interface {
	// ProveAndLift proves a segment at the given po2 and lifts the result to
	// a succinct receipt.
	// Expected errors:
	//   - ExecutionError if the engine fails
	ProveAndLift(ctx context.Context, segment []byte, po2 uint8) ([]byte, error)

	// Join combines two succinct receipts of adjacent ranges into one.
	// Expected errors:
	//   - ExecutionError if the engine fails
	Join(ctx context.Context, left []byte, right []byte) ([]byte, error)

	// Groth16 compresses a succinct receipt into a SNARK.
	// Expected errors:
	//   - ExecutionError if the engine fails
	Groth16(ctx context.Context, succinct []byte) ([]byte, error)

	// Verify checks receipt against the guest image.
	// Expected errors:
	//   - VerificationError if the receipt does not verify
	//   - ExecutionError if the verifier could not run
	Verify(ctx context.Context, receipt []byte, imageID []byte) error
}

// Operation names an engine method, for errors and logs.
type Operation string

const (
	OpProveAndLift Operation = "prove_and_lift"
	OpJoin         Operation = "join"
	OpGroth16      Operation = "groth16"
	OpVerify       Operation = "verify"
)
