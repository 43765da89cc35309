package job

import (
	"fmt"

	"github.com/wholesum/bazaar/model/messages"
)

// Snapshot returns the verified proofs of the job in confirmation order.
// Replaying them with Restore rebuilds the same pairs and progress maps.
func (j *Job) Snapshot() messages.Update {
	var proofs messages.Update
	for _, idx := range j.history {
		it := j.items[idx]
		proofs = append(proofs, messages.JobUpdate{
			JobID:  j.spec.ID,
			Item:   it.Identity(j),
			Status: messages.ExecutionSucceeded{CID: it.ProofCID},
		})
	}
	return proofs
}

// Restore replays verified proofs taken by Snapshot.
func (j *Job) Restore(proofs messages.Update) error {
	for _, u := range proofs {
		if u.JobID != j.spec.ID {
			return fmt.Errorf("snapshot proof belongs to job %s, not %s", u.JobID, j.spec.ID)
		}
		done, ok := u.Status.(messages.ExecutionSucceeded)
		if !ok {
			return fmt.Errorf("snapshot entry for %s is not a proof", u.Item)
		}
		outcome, c, err := j.RecordProof(u.Item, done.CID, "")
		if err != nil {
			return fmt.Errorf("could not restore proof of %s: %w", u.Item, err)
		}
		if outcome != Accepted {
			continue
		}
		if err := j.ConfirmProof(c); err != nil {
			return fmt.Errorf("could not confirm restored proof of %s: %w", u.Item, err)
		}
	}
	return nil
}
