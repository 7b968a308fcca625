package classify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

type scriptedOracle struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts []Prompt
}

func (o *scriptedOracle) Invoke(_ context.Context, prompt Prompt) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts = append(o.prompts, prompt)
	if o.err != nil {
		return "", o.err
	}
	if len(o.answers) == 0 {
		return "", errors.New("no scripted answer")
	}
	answer := o.answers[0]
	o.answers = o.answers[1:]
	return answer, nil
}

type memoryRecorder struct {
	events []Event
}

func (r *memoryRecorder) RecordEvent(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestTurnClassifierWithoutOracleUsesMissingCredentialVerdict(t *testing.T) {
	t.Parallel()

	classifier := &TurnClassifier{}
	turn := dataset.Turn{Turn: 1, User: "hi", Assistant: "hello"}

	got, outcome := classifier.Classify(context.Background(), "a.json", turn, nil)
	assert.Equal(t, OutcomeNoCredential, outcome)
	assert.False(t, outcome.Invoked())
	assert.Equal(t, dataset.AnnotatedTurn{
		Turn:                turn,
		HallucinationScore:  0,
		IssueType:           dataset.IssueAPIKeyMissing,
		HallucinationReason: "API Key not provided.",
		Purpose:             dataset.PurposeError,
	}, got)
}

func TestTurnClassifierSendsHistoryAndCurrentTurn(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{answers: []string{
		`{"hallucination_score":2,"issue_type":"factual_error","reason":"Wrong year","purpose":"Information Seeking"}`,
	}}
	recorder := &memoryRecorder{}
	classifier := &TurnClassifier{Oracle: oracle, Recorder: recorder, Model: "gpt-test"}

	history := []dataset.Turn{
		{Turn: 1, User: "q1", Assistant: "a1"},
		{Turn: 2, User: "q2", Assistant: "a2"},
	}
	turn := dataset.Turn{Turn: 3, User: "q3", Assistant: "a3"}

	got, outcome := classifier.Classify(context.Background(), "s.json", turn, history)
	require.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, 2, got.HallucinationScore)
	assert.Equal(t, "Wrong year", got.HallucinationReason)
	assert.Equal(t, turn, got.Turn)

	require.Len(t, oracle.prompts, 1)
	prompt := oracle.prompts[0]
	assert.Equal(t, turnSchemaName, prompt.SchemaName)
	assert.Contains(t, prompt.User, "User: q1\nAssistant: a1\nUser: q2\nAssistant: a2")
	assert.Contains(t, prompt.User, "Current turn:\nUser: q3\nAssistant: a3")

	require.Len(t, recorder.events, 1)
	event := recorder.events[0]
	assert.Equal(t, UnitTurn, event.Unit)
	assert.Equal(t, 3, event.TurnIndex)
	assert.Equal(t, "gpt-test", event.Model)
	assert.True(t, event.ParseOK)
	assert.True(t, event.ValidationOK)
}

func TestTurnClassifierFallbackIsLoggedAndDeterministic(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	oracle := &scriptedOracle{err: errors.New("upstream 500")}
	classifier := &TurnClassifier{Oracle: oracle, Logger: zap.New(core)}
	turn := dataset.Turn{Turn: 1, User: "u", Assistant: "a"}

	first, outcome := classifier.Classify(context.Background(), "s.json", turn, nil)
	second, _ := classifier.Classify(context.Background(), "s.json", turn, nil)

	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, outcome.Fallback())
	assert.Equal(t, first, second)
	assert.Equal(t, "Analysis failed", first.HallucinationReason)

	entries := logs.FilterMessage("oracle_fallback").All()
	require.Len(t, entries, 2)
	assert.Equal(t, UnitTurn, entries[0].ContextMap()["unit"])
}

func TestSessionClassifier(t *testing.T) {
	t.Parallel()

	turns := []dataset.Turn{
		{Turn: 1, User: "u1", Assistant: "a1"},
		{Turn: 2, User: "u2", Assistant: "a2"},
	}

	t.Run("scores session text", func(t *testing.T) {
		t.Parallel()

		oracle := &scriptedOracle{answers: []string{`{"over_reliance_score":5,"advice":"Verify outputs."}`}}
		classifier := &SessionClassifier{Oracle: oracle}

		got, outcome := classifier.Classify(context.Background(), "s.json", turns)
		assert.Equal(t, OutcomeAccepted, outcome)
		assert.Equal(t, SessionScore{Score: 5, Advice: "Verify outputs."}, got)
		require.Len(t, oracle.prompts, 1)
		assert.True(t, strings.Contains(oracle.prompts[0].User, "User: u1\nAssistant: a1\n---\nUser: u2\nAssistant: a2"))
	})

	t.Run("missing credential", func(t *testing.T) {
		t.Parallel()

		got, outcome := (&SessionClassifier{}).Classify(context.Background(), "s.json", turns)
		assert.Equal(t, OutcomeNoCredential, outcome)
		assert.Equal(t, SessionScore{Score: 0, Advice: "API key missing for analysis."}, got)
	})

	t.Run("empty session skips oracle", func(t *testing.T) {
		t.Parallel()

		oracle := &scriptedOracle{}
		got, outcome := (&SessionClassifier{Oracle: oracle}).Classify(context.Background(), "s.json", nil)
		assert.Equal(t, OutcomeSkipped, outcome)
		assert.Equal(t, SessionScore{Score: 0, Advice: "No turns to analyze."}, got)
		assert.Empty(t, oracle.prompts)
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()

		oracle := &scriptedOracle{answers: []string{`{"over_reliance_score":`}}
		got, outcome := (&SessionClassifier{Oracle: oracle}).Classify(context.Background(), "s.json", turns)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, SessionScore{Score: 3, Advice: "Unable to analyze dependency level."}, got)
	})
}

func TestSessionText(t *testing.T) {
	t.Parallel()

	got := SessionText([]dataset.Turn{{User: "a", Assistant: "b"}, {User: "c", Assistant: ""}})
	assert.Equal(t, "User: a\nAssistant: b\n---\nUser: c\nAssistant: ", got)
	assert.Equal(t, "", SessionText(nil))
}
