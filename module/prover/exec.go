package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// VerifyFailedExitCode is the exit code of the prover binary's verify command
// for a receipt that does not verify. Any other non-zero code is a failure to run.
const VerifyFailedExitCode = 1

// processWaitDelay bounds how long a killed process may hold its output open.
const processWaitDelay = time.Second

var _ Engine = (*ExecEngine)(nil)

// ExecEngine runs every operation as a process of an external prover binary.
// Inputs and outputs are exchanged as files in a scratch directory:
//
//	<bin> prove-and-lift --po2 <n> --segment <file> --out <file>
//	<bin> join --left <file> --right <file> --out <file>
//	<bin> groth16 --receipt <file> --out <file>
//	<bin> verify --receipt <file> --image-id <hex>
type ExecEngine struct {
	log     zerolog.Logger
	bin     string
	scratch string
}

// NewExecEngine returns an engine invoking bin. Scratch files are created
// under scratch, or the system temporary directory when empty.
func NewExecEngine(log zerolog.Logger, bin string, scratch string) (*ExecEngine, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("prover binary %q not found: %w", bin, err)
	}
	return &ExecEngine{
		log:     log.With().Str("component", "prover").Str("bin", path).Logger(),
		bin:     path,
		scratch: scratch,
	}, nil
}

func (e *ExecEngine) ProveAndLift(ctx context.Context, segment []byte, po2 uint8) ([]byte, error) {
	return e.produce(ctx, OpProveAndLift, func(dir string) ([]string, error) {
		in, err := writeInput(dir, "segment", segment)
		if err != nil {
			return nil, err
		}
		return []string{"prove-and-lift", "--po2", strconv.Itoa(int(po2)), "--segment", in}, nil
	})
}

func (e *ExecEngine) Join(ctx context.Context, left []byte, right []byte) ([]byte, error) {
	return e.produce(ctx, OpJoin, func(dir string) ([]string, error) {
		l, err := writeInput(dir, "left", left)
		if err != nil {
			return nil, err
		}
		r, err := writeInput(dir, "right", right)
		if err != nil {
			return nil, err
		}
		return []string{"join", "--left", l, "--right", r}, nil
	})
}

func (e *ExecEngine) Groth16(ctx context.Context, succinct []byte) ([]byte, error) {
	return e.produce(ctx, OpGroth16, func(dir string) ([]string, error) {
		in, err := writeInput(dir, "receipt", succinct)
		if err != nil {
			return nil, err
		}
		return []string{"groth16", "--receipt", in}, nil
	})
}

func (e *ExecEngine) Verify(ctx context.Context, receipt []byte, imageID []byte) error {
	dir, err := os.MkdirTemp(e.scratch, "verify-")
	if err != nil {
		return NewExecutionError(OpVerify, "could not create scratch directory", err)
	}
	defer os.RemoveAll(dir)

	in, err := writeInput(dir, "receipt", receipt)
	if err != nil {
		return NewExecutionError(OpVerify, "could not write receipt", err)
	}

	stderr, err := e.run(ctx, OpVerify, "verify", "--receipt", in, "--image-id", hex.EncodeToString(imageID))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == VerifyFailedExitCode {
		return NewVerificationErrorf("%s", lastLine(stderr))
	}
	if err != nil {
		return NewExecutionError(OpVerify, lastLine(stderr), err)
	}
	return nil
}

// produce runs an operation writing its result to an "out" file and returns
// the content of that file.
func (e *ExecEngine) produce(ctx context.Context, op Operation, args func(dir string) ([]string, error)) ([]byte, error) {
	dir, err := os.MkdirTemp(e.scratch, string(op)+"-")
	if err != nil {
		return nil, NewExecutionError(op, "could not create scratch directory", err)
	}
	defer os.RemoveAll(dir)

	argv, err := args(dir)
	if err != nil {
		return nil, NewExecutionError(op, "could not write inputs", err)
	}
	out := filepath.Join(dir, "out")
	argv = append(argv, "--out", out)

	stderr, err := e.run(ctx, op, argv...)
	if err != nil {
		return nil, NewExecutionError(op, lastLine(stderr), err)
	}

	result, err := os.ReadFile(out)
	if err != nil {
		return nil, NewExecutionError(op, "prover produced no output", err)
	}
	if len(result) == 0 {
		return nil, NewExecutionErrorf(op, "prover produced an empty output")
	}
	return result, nil
}

func (e *ExecEngine) run(ctx context.Context, op Operation, argv ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.bin, argv...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWaitDelay

	start := time.Now()
	err := cmd.Run()
	lg := e.log.With().Str("op", string(op)).Dur("duration", time.Since(start)).Logger()
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		lg.Debug().Err(err).Str("stderr", lastLine(stderr.String())).Msg("prover process failed")
		return stderr.String(), err
	}
	lg.Debug().Msg("prover process finished")
	return stderr.String(), nil
}

func writeInput(dir string, name string, data []byte) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	if s == "" {
		return "no diagnostic"
	}
	return s
}
