package verify

import (
	"context"
	"log/slog"
)

// Recorder persists a successful verification somewhere authoritative, such
// as the on-chain verification contract. It runs after the challenge has been
// consumed; its failure does not undo the verification.
type Recorder interface {
	Record(ctx context.Context, lg *slog.Logger, ch *Challenge) error
}

// LogRecorder only logs successful verifications.
//
// TODO: replace with a signer holding VERIFIER_ROLE that calls
// Verification.verify(agentId, domain, method) on Base.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, lg *slog.Logger, ch *Challenge) error {
	lg.Info("verification succeeded, on-chain record pending", "agent_id", ch.AgentID, "domain", ch.Domain, "method", ch.Method, "challenge_id", ch.ID)
	return nil
}
