package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

const (
	minScore = 1
	maxScore = 5
)

// TurnVerdict is the classifier output for one turn.
type TurnVerdict struct {
	Score     int
	IssueType string
	Reason    string
	Purpose   string
}

// TurnPolicy declares every value the turn classifier may substitute for a
// missing or invalid oracle answer.
type TurnPolicy struct {
	MissingCredential TurnVerdict
	Failure           TurnVerdict
	DefaultPurpose    string
	InvalidScore      int
	EmptyReason       string
	// CleanReason replaces the reason whenever the score is the minimum.
	CleanReason string
}

// DefaultTurnPolicy returns the standard fallback table.
func DefaultTurnPolicy() TurnPolicy {
	return TurnPolicy{
		MissingCredential: TurnVerdict{
			Score:     0,
			IssueType: dataset.IssueAPIKeyMissing,
			Reason:    "API Key not provided.",
			Purpose:   dataset.PurposeError,
		},
		Failure: TurnVerdict{
			Score:     2,
			IssueType: dataset.IssueNone,
			Reason:    "Analysis failed",
			Purpose:   dataset.PurposeInformationSeeking,
		},
		DefaultPurpose: dataset.PurposeInformationSeeking,
		InvalidScore:   2,
		EmptyReason:    "No specific issue identified",
		CleanReason:    "none",
	}
}

func (p TurnPolicy) orDefault() TurnPolicy {
	if p == (TurnPolicy{}) {
		return DefaultTurnPolicy()
	}
	return p
}

// turnAnswer is the raw oracle answer. Fields stay raw so that type
// mismatches degrade to policy values instead of failing the parse.
type turnAnswer struct {
	Score               json.RawMessage `json:"hallucination_score"`
	IssueType           json.RawMessage `json:"issue_type"`
	Reason              json.RawMessage `json:"reason"`
	HallucinationReason json.RawMessage `json:"hallucination_reason"`
	Purpose             json.RawMessage `json:"purpose"`
}

func parseTurnAnswer(content string) (turnAnswer, error) {
	var answer turnAnswer
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return turnAnswer{}, errors.New("answer is not a json object")
	}
	if err := json.Unmarshal([]byte(trimmed), &answer); err != nil {
		return turnAnswer{}, err
	}
	return answer, nil
}

// Apply maps one oracle result to a verdict. invokeErr is the error of the
// oracle call, if any. The returned error explains a Failed outcome.
func (p TurnPolicy) Apply(content string, invokeErr error) (TurnVerdict, Outcome, error) {
	p = p.orDefault()
	if invokeErr != nil {
		return p.Failure, OutcomeFailed, invokeErr
	}
	answer, err := parseTurnAnswer(content)
	if err != nil {
		return p.Failure, OutcomeFailed, fmt.Errorf("parse turn answer: %w", err)
	}
	verdict, clean := p.resolve(answer)
	if !clean {
		return verdict, OutcomeNormalized, nil
	}
	return verdict, OutcomeAccepted, nil
}

// resolve applies the normalization rules to a parsed answer. The second
// return value is false when any field had to be replaced.
func (p TurnPolicy) resolve(answer turnAnswer) (TurnVerdict, bool) {
	clean := true

	score, ok := scoreValue(answer.Score)
	if !ok {
		score = p.InvalidScore
		clean = false
	}

	purpose, ok := CanonicalPurpose(stringValue(answer.Purpose))
	if !ok {
		purpose = p.DefaultPurpose
		clean = false
	}

	issue, ok := canonicalIssue(stringValue(answer.IssueType))
	if !ok {
		clean = false
	}
	switch {
	case score == minScore && issue != dataset.IssueNone:
		if ok {
			clean = false
		}
		issue = dataset.IssueNone
	case score != minScore && (!ok || issue == dataset.IssueNone):
		if ok {
			clean = false
		}
		issue = dataset.IssueFactualError
	}

	reason := strings.TrimSpace(stringValue(answer.Reason))
	if reason == "" {
		reason = strings.TrimSpace(stringValue(answer.HallucinationReason))
	}
	switch {
	case score == minScore:
		reason = p.CleanReason
	case reason == "":
		reason = p.EmptyReason
		clean = false
	}

	return TurnVerdict{Score: score, IssueType: issue, Reason: reason, Purpose: purpose}, clean
}

// SessionScore is the over-reliance output for one session.
type SessionScore struct {
	Score  int
	Advice string
}

// SessionPolicy declares the substitutions of the session classifier.
type SessionPolicy struct {
	MissingCredential SessionScore
	Failure           SessionScore
	// Empty is used for sessions without turns; the oracle is not called.
	Empty         SessionScore
	InvalidScore  int
	DefaultAdvice string
}

// DefaultSessionPolicy returns the standard fallback table.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		MissingCredential: SessionScore{Score: 0, Advice: "API key missing for analysis."},
		Failure:           SessionScore{Score: 3, Advice: "Unable to analyze dependency level."},
		Empty:             SessionScore{Score: 0, Advice: "No turns to analyze."},
		InvalidScore:      3,
		DefaultAdvice:     "Moderate AI dependency observed.",
	}
}

func (p SessionPolicy) orDefault() SessionPolicy {
	if p == (SessionPolicy{}) {
		return DefaultSessionPolicy()
	}
	return p
}

type sessionAnswer struct {
	Score  json.RawMessage `json:"over_reliance_score"`
	Advice json.RawMessage `json:"advice"`
}

func parseSessionAnswer(content string) (sessionAnswer, error) {
	var answer sessionAnswer
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return sessionAnswer{}, errors.New("answer is not a json object")
	}
	if err := json.Unmarshal([]byte(trimmed), &answer); err != nil {
		return sessionAnswer{}, err
	}
	return answer, nil
}

// Apply maps one oracle result to a session score.
func (p SessionPolicy) Apply(content string, invokeErr error) (SessionScore, Outcome, error) {
	p = p.orDefault()
	if invokeErr != nil {
		return p.Failure, OutcomeFailed, invokeErr
	}
	answer, err := parseSessionAnswer(content)
	if err != nil {
		return p.Failure, OutcomeFailed, fmt.Errorf("parse session answer: %w", err)
	}
	score, clean := p.resolve(answer)
	if !clean {
		return score, OutcomeNormalized, nil
	}
	return score, OutcomeAccepted, nil
}

func (p SessionPolicy) resolve(answer sessionAnswer) (SessionScore, bool) {
	clean := true
	score, ok := scoreValue(answer.Score)
	if !ok {
		score = p.InvalidScore
		clean = false
	}
	advice := strings.TrimSpace(stringValue(answer.Advice))
	if advice == "" {
		advice = p.DefaultAdvice
		clean = false
	}
	return SessionScore{Score: score, Advice: advice}, clean
}

// scoreValue accepts integral JSON numbers within [1,5].
func scoreValue(raw json.RawMessage) (int, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil || value != math.Trunc(value) {
		return 0, false
	}
	if value < minScore || value > maxScore {
		return 0, false
	}
	return int(value), true
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

var purposeKeys = func() map[string]string {
	keys := make(map[string]string, len(dataset.Purposes))
	for _, purpose := range dataset.Purposes {
		keys[purposeKey(purpose)] = purpose
	}
	return keys
}()

func purposeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\n', '-', '_':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalPurpose maps a purpose label to its canonical spelling. Case,
// whitespace, hyphens and underscores are ignored.
func CanonicalPurpose(s string) (string, bool) {
	purpose, ok := purposeKeys[purposeKey(s)]
	return purpose, ok
}

func canonicalIssue(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, issue := range dataset.IssueTypes {
		if s == issue {
			return issue, true
		}
	}
	return "", false
}
