package messages

import (
	"fmt"

	"github.com/wholesum/bazaar/model/encoding"
)

const (
	// MaxIDLength bounds job ids and segment prefixes.
	MaxIDLength = 256
	// MaxCIDLength bounds every CID carried in a message.
	MaxCIDLength = 512
	// MaxReasonLength bounds failure reasons reported by servers.
	MaxReasonLength = 4096
	// MaxProgressMapLength bounds progress maps; 2^23 items.
	MaxProgressMapLength = 1 << 20
	// MaxUpdatesPerRequest bounds the batch size of an Update.
	MaxUpdatesPerRequest = 4096
)

var (
	_ encoding.Bounded = ComputeJob{}
	_ encoding.Bounded = Update{}
)

// CheckBounds returns a FieldTooLargeError for the first field exceeding its limit.
func (j ComputeJob) CheckBounds() error {
	if err := encoding.CheckLen("job_id", len(j.JobID), MaxIDLength); err != nil {
		return err
	}
	switch d := j.Type.(type) {
	case ProveAndLiftDetails:
		if err := encoding.CheckLen("segments_base_cid", len(d.SegmentsBaseCID), MaxCIDLength); err != nil {
			return err
		}
		if err := encoding.CheckLen("segment_prefix", len(d.SegmentPrefix), MaxIDLength); err != nil {
			return err
		}
		return encoding.CheckLen("progress_map", len(d.ProgressMap), MaxProgressMapLength)
	case JoinDetails:
		if err := encoding.CheckLen("progress_map", len(d.ProgressMap), MaxProgressMapLength); err != nil {
			return err
		}
		switch p := d.Pairs.(type) {
		case InlinePairs:
			for i, pair := range p {
				if err := checkPair(pair.Left, pair.Right); err != nil {
					return fmt.Errorf("pair %d: %w", i, err)
				}
			}
		case PairsCID:
			return encoding.CheckLen("pairs_cid", len(p), MaxCIDLength)
		}
		return nil
	case Groth16Details:
		return encoding.CheckLen("cid", len(d.CID), MaxCIDLength)
	}
	return nil
}

// CheckBounds returns a FieldTooLargeError for the first field exceeding its limit.
func (u Update) CheckBounds() error {
	if err := encoding.CheckLen("updates", len(u), MaxUpdatesPerRequest); err != nil {
		return err
	}
	for _, ju := range u {
		if err := encoding.CheckLen("job_id", len(ju.JobID), MaxIDLength); err != nil {
			return err
		}
		if j, ok := ju.Item.(JoinItem); ok {
			if err := checkPair(j.Left, j.Right); err != nil {
				return err
			}
		}
		switch s := ju.Status.(type) {
		case ExecutionSucceeded:
			if err := encoding.CheckLen("cid", len(s.CID), MaxCIDLength); err != nil {
				return err
			}
		case ExecutionFailed:
			if s.Reason != nil {
				if err := encoding.CheckLen("reason", len(*s.Reason), MaxReasonLength); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkPair(left, right string) error {
	if err := encoding.CheckLen("left_cid", len(left), MaxCIDLength); err != nil {
		return err
	}
	return encoding.CheckLen("right_cid", len(right), MaxCIDLength)
}
