package metrics

const (
	LabelMessage     = "message"
	LabelReason      = "reason"
	LabelMisbehavior = "misbehavior"
	LabelComputeType = "compute_type"
	LabelOutcome     = "outcome"
	LabelResult      = "result"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

func resultLabel(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
