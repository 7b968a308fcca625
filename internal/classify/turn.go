package classify

import (
	"context"

	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

// TurnClassifier scores one turn for hallucination and purpose. A nil
// Oracle means no credential was supplied.
type TurnClassifier struct {
	Oracle   Oracle
	Policy   TurnPolicy
	Recorder EventRecorder
	Model    string
	Logger   *zap.Logger
}

// Classify returns the annotated turn. history holds the strictly earlier
// turns of the same session and is used as context only.
func (c *TurnClassifier) Classify(ctx context.Context, sessionName string, turn dataset.Turn, history []dataset.Turn) (dataset.AnnotatedTurn, Outcome) {
	policy := c.Policy.orDefault()
	if c.Oracle == nil {
		return annotate(turn, policy.MissingCredential), OutcomeNoCredential
	}

	prompt := turnPrompt(turn, history)
	content, invokeErr := c.Oracle.Invoke(ctx, prompt)
	verdict, outcome, err := policy.Apply(content, invokeErr)

	logger := nopIfNil(c.Logger)
	if outcome == OutcomeFailed {
		logger.Warn("oracle_fallback",
			zap.String("unit", UnitTurn),
			zap.String("session", sessionName),
			zap.Int("turn", turn.Turn),
			zap.Error(err),
		)
	}
	record(ctx, c.Recorder, logger, Event{
		SessionName:  sessionName,
		TurnIndex:    turn.Turn,
		Unit:         UnitTurn,
		Model:        c.Model,
		RequestText:  prompt.User,
		ResponseJSON: content,
		ParseOK:      outcome != OutcomeFailed,
		ValidationOK: outcome == OutcomeAccepted,
		ErrorMessage: errorMessage(err),
	})
	return annotate(turn, verdict), outcome
}

func annotate(turn dataset.Turn, verdict TurnVerdict) dataset.AnnotatedTurn {
	return dataset.AnnotatedTurn{
		Turn:                turn,
		HallucinationScore:  verdict.Score,
		IssueType:           verdict.IssueType,
		HallucinationReason: verdict.Reason,
		Purpose:             verdict.Purpose,
	}
}

func record(ctx context.Context, recorder EventRecorder, logger *zap.Logger, event Event) {
	if recorder == nil {
		return
	}
	if err := recorder.RecordEvent(ctx, event); err != nil {
		logger.Warn("oracle_event_record_failed",
			zap.String("unit", event.Unit),
			zap.String("session", event.SessionName),
			zap.Error(err),
		)
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
