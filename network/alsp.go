package network

import (
	"fmt"
	"time"
)

// Misbehavior is a type of misbehavior that can be reported against a peer.
// The misbehavior is used to penalize the peer locally.
type Misbehavior string

const (
	// DecodeFailure is reported when a message from the peer could not be decoded.
	DecodeFailure Misbehavior = "misbehavior-decode-failure"

	// ProtocolViolation is reported when a message is well formed but semantically
	// forbidden, e.g. a proof for an item whose prerequisites are not done.
	ProtocolViolation Misbehavior = "misbehavior-protocol-violation"

	// VerificationFailure is reported when a proof announced by the peer fails
	// local verification or cannot be fetched.
	VerificationFailure Misbehavior = "misbehavior-verification-failure"

	// Unresponsive is reported when the peer claimed an item and missed its deadline.
	Unresponsive Misbehavior = "misbehavior-unresponsive"
)

// To give a summary with the default values:
//  1. A decode failure costs 1, an unresponsive peer 2, a protocol violation 10 and a
//     failed verification 25 penalty points.
//  2. The penalty recovers by the decay value each decay interval, 1 point per second.
//  3. When the penalty drops below the disallow-listing threshold the peer is disconnected
//     and refused until its penalty decays back to zero, and its decay speed is cut by 90%.
const (
	// MisbehaviorDisallowListingThreshold is the penalty under which a peer is disallow-listed.
	MisbehaviorDisallowListingThreshold = -100

	// MisbehaviorDecayHeartBeatInterval is the interval at which penalties decay.
	MisbehaviorDecayHeartBeatInterval = 1 * time.Second

	// DefaultDecayValue is added back to a negative penalty at each decay interval.
	DefaultDecayValue = 1

	// DecayValueSpeedPenalty multiplies the decay value each time a peer is disallow-listed.
	DecayValueSpeedPenalty = 0.1

	// MinimumDecayValue is the floor of the decay value.
	MinimumDecayValue = 0.01
)

var defaultPenalties = map[Misbehavior]float64{
	DecodeFailure:       -1,
	Unresponsive:        -2,
	ProtocolViolation:   -10,
	VerificationFailure: -25,
}

// MisbehaviorReport is a single penalty against a peer.
type MisbehaviorReport struct {
	reason  Misbehavior
	penalty float64
}

// Reason returns the misbehavior reported.
func (r *MisbehaviorReport) Reason() Misbehavior {
	return r.reason
}

// Penalty returns the (negative) penalty of the report.
func (r *MisbehaviorReport) Penalty() float64 {
	return r.penalty
}

// MisbehaviorReportOpt is an option that can be used to configure a misbehavior report.
type MisbehaviorReportOpt func(r *MisbehaviorReport) error

// WithPenaltyAmplification returns an option that multiplies the penalty value.
// The value should be between 1-100.
func WithPenaltyAmplification(v float64) MisbehaviorReportOpt {
	return func(r *MisbehaviorReport) error {
		if v < 1 || v > 100 {
			return fmt.Errorf("penalty amplification should be between 1-100: %v", v)
		}
		r.penalty *= v
		return nil
	}
}

// NewMisbehaviorReport creates a new misbehavior report with the given reason and options.
func NewMisbehaviorReport(reason Misbehavior, opts ...MisbehaviorReportOpt) (*MisbehaviorReport, error) {
	penalty, ok := defaultPenalties[reason]
	if !ok {
		return nil, fmt.Errorf("unknown misbehavior: %s", reason)
	}
	m := &MisbehaviorReport{
		reason:  reason,
		penalty: penalty,
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("failed to apply misbehavior report option: %w", err)
		}
	}

	return m, nil
}
