package worker

// Decision is a processor's verdict on one delivery. Processors are modeled
// as functions from (payload, domain state) to a decision so they can be
// tested without a live queue; the asynq shim in worker.go translates the
// decision into ack/retry/dead-letter semantics.
type Decision int

const (
	// DecisionAck completes the job. Also used for terminal domain failures:
	// the failure is final, not a transport problem.
	DecisionAck Decision = iota
	// DecisionRetry redelivers with backoff until the attempt cap.
	DecisionRetry
	// DecisionDead dead-letters immediately: invariant violations that retry
	// can never fix.
	DecisionDead
)

type Result struct {
	Decision Decision
	Err      error
}

func Ack() Result {
	return Result{Decision: DecisionAck}
}

func Retry(err error) Result {
	return Result{Decision: DecisionRetry, Err: err}
}

func Dead(err error) Result {
	return Result{Decision: DecisionDead, Err: err}
}
