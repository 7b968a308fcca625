// Package classify wraps the classification oracle for single turns and whole
// sessions. Oracle failures never escape: every call resolves to a value from
// a declared fallback policy.
package classify

import (
	"context"

	"github.com/tetraminz/chatlog_audit/internal/openai"
)

// Prompt is one structured oracle request. The answer must be a JSON object
// matching Schema.
type Prompt struct {
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

// Oracle answers a prompt with raw JSON text.
type Oracle interface {
	Invoke(ctx context.Context, prompt Prompt) (string, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f OracleFunc) Invoke(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// Completer is the transport used by the default oracle; *openai.Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req openai.Request) (string, error)
}

// FromCompleter turns a chat-completions client into an Oracle.
func FromCompleter(c Completer) Oracle {
	return OracleFunc(func(ctx context.Context, prompt Prompt) (string, error) {
		return c.Complete(ctx, openai.Request(prompt))
	})
}

// Outcome describes how a classification was resolved.
type Outcome int

const (
	// OutcomeAccepted means the oracle answer was used as returned.
	OutcomeAccepted Outcome = iota
	// OutcomeNormalized means the answer parsed but some fields were replaced.
	OutcomeNormalized
	// OutcomeFailed means the call or the parse failed.
	OutcomeFailed
	// OutcomeNoCredential means no oracle was configured.
	OutcomeNoCredential
	// OutcomeSkipped means there was nothing to classify.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeNormalized:
		return "normalized"
	case OutcomeFailed:
		return "failed"
	case OutcomeNoCredential:
		return "no_credential"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Invoked reports whether the oracle was called.
func (o Outcome) Invoked() bool {
	return o == OutcomeAccepted || o == OutcomeNormalized || o == OutcomeFailed
}

// Fallback reports whether the result came from the policy table rather
// than from the oracle answer.
func (o Outcome) Fallback() bool {
	return o == OutcomeFailed || o == OutcomeNoCredential
}

// Unit names used in audit events.
const (
	UnitTurn    = "turn"
	UnitSession = "session"
)

// Event is one audited oracle attempt.
type Event struct {
	SessionName  string
	TurnIndex    int
	Unit         string
	Model        string
	RequestText  string
	ResponseJSON string
	ParseOK      bool
	ValidationOK bool
	ErrorMessage string
}

// EventRecorder persists audit events. Recording failures are logged and
// never change a classification.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event Event) error
}
