package classify

import (
	"context"

	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

// SessionClassifier scores a whole session for user over-reliance.
type SessionClassifier struct {
	Oracle   Oracle
	Policy   SessionPolicy
	Recorder EventRecorder
	Model    string
	Logger   *zap.Logger
}

// Classify scores the session made of turns. Sessions without turns get
// Policy.Empty and never reach the oracle.
func (c *SessionClassifier) Classify(ctx context.Context, sessionName string, turns []dataset.Turn) (SessionScore, Outcome) {
	policy := c.Policy.orDefault()
	if len(turns) == 0 {
		return policy.Empty, OutcomeSkipped
	}
	if c.Oracle == nil {
		return policy.MissingCredential, OutcomeNoCredential
	}

	prompt := sessionPrompt(SessionText(turns))
	content, invokeErr := c.Oracle.Invoke(ctx, prompt)
	score, outcome, err := policy.Apply(content, invokeErr)

	logger := nopIfNil(c.Logger)
	if outcome == OutcomeFailed {
		logger.Warn("oracle_fallback",
			zap.String("unit", UnitSession),
			zap.String("session", sessionName),
			zap.Error(err),
		)
	}
	record(ctx, c.Recorder, logger, Event{
		SessionName:  sessionName,
		Unit:         UnitSession,
		Model:        c.Model,
		RequestText:  prompt.User,
		ResponseJSON: content,
		ParseOK:      outcome != OutcomeFailed,
		ValidationOK: outcome == OutcomeAccepted,
		ErrorMessage: errorMessage(err),
	})
	return score, outcome
}
