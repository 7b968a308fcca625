package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidJSON is returned when a source is not a JSON object.
	ErrInvalidJSON = errors.New("invalid json")
	// ErrUnrecognizedFormat is returned when a source matches no known shape.
	ErrUnrecognizedFormat = errors.New("unrecognized format")
	// ErrDuplicateSource is returned when a source name was already ingested.
	ErrDuplicateSource = errors.New("duplicate source")
)

// SourceError ties an ingestion or normalization failure to a source name.
type SourceError struct {
	Name string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q: %v", e.Name, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// RawSource is one uploaded artifact. PreAnalyzed is decided once by Ingest.
type RawSource struct {
	Name        string
	Payload     json.RawMessage
	PreAnalyzed bool
}

// Ingest parses raw bytes and classifies them as a pre-analyzed result
// document or a raw conversation export.
func Ingest(name string, raw []byte) (RawSource, error) {
	name = strings.TrimSpace(name)
	fields, err := objectFields(raw)
	if err != nil {
		return RawSource{}, &SourceError{Name: name, Err: err}
	}

	payload := json.RawMessage(bytes.TrimSpace(raw))
	if isPreAnalyzed(fields) {
		return RawSource{Name: name, Payload: payload, PreAnalyzed: true}, nil
	}
	if detectFormat(fields) == FormatUnrecognized {
		return RawSource{}, &SourceError{Name: name, Err: ErrUnrecognizedFormat}
	}
	return RawSource{Name: name, Payload: payload}, nil
}

// ExtractSessions returns the sessions of a pre-analyzed document unchanged.
// Fractional scores written by older exports are rounded to the nearest
// integer instead of failing the whole document.
func ExtractSessions(src RawSource) ([]Session, error) {
	if !src.PreAnalyzed {
		return nil, &SourceError{Name: src.Name, Err: errors.New("source is not pre-analyzed")}
	}
	var doc analyzedDocument
	if err := json.Unmarshal(src.Payload, &doc); err != nil {
		return nil, &SourceError{Name: src.Name, Err: fmt.Errorf("decode sessions: %w", err)}
	}

	sessions := make([]Session, 0, len(doc.Sessions))
	for _, in := range doc.Sessions {
		var turns []AnnotatedTurn
		if in.Turns != nil {
			turns = make([]AnnotatedTurn, 0, len(in.Turns))
		}
		for _, t := range in.Turns {
			turns = append(turns, AnnotatedTurn{
				Turn:                t.Turn,
				HallucinationScore:  roundScore(t.HallucinationScore),
				IssueType:           t.IssueType,
				HallucinationReason: t.HallucinationReason,
				Purpose:             t.Purpose,
			})
		}
		sessions = append(sessions, Session{
			FileName:           in.FileName,
			CapturedAt:         in.CapturedAt,
			TurnCount:          in.TurnCount,
			Turns:              turns,
			OverRelianceScore:  roundScore(in.OverRelianceScore),
			OverRelianceAdvice: in.OverRelianceAdvice,
		})
	}
	return sessions, nil
}

// analyzedDocument mirrors Document with scores decoded as floats.
type analyzedDocument struct {
	Sessions []struct {
		FileName   string  `json:"fileName"`
		CapturedAt *string `json:"capturedAt"`
		TurnCount  int     `json:"turnCount"`
		Turns      []struct {
			Turn
			HallucinationScore  float64 `json:"hallucination_score"`
			IssueType           string  `json:"issue_type"`
			HallucinationReason string  `json:"hallucination_reason"`
			Purpose             string  `json:"purpose"`
		} `json:"turns"`
		OverRelianceScore  float64 `json:"over_reliance_score"`
		OverRelianceAdvice string  `json:"over_reliance_advice"`
	} `json:"sessions"`
}

func roundScore(v float64) int {
	return int(math.Round(v))
}

func objectFields(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidJSON
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return fields, nil
}

// isPreAnalyzed requires a non-empty sessions array, numeric totals and
// classifier fields on the first session that has turns. When no session
// has turns, every session must carry an over-reliance score.
func isPreAnalyzed(fields map[string]json.RawMessage) bool {
	if !isJSONNumber(fields["totalFiles"]) || !isJSONNumber(fields["totalTurns"]) {
		return false
	}
	var sessions []map[string]json.RawMessage
	if !isJSONArray(fields["sessions"]) || json.Unmarshal(fields["sessions"], &sessions) != nil {
		return false
	}
	if len(sessions) == 0 {
		return false
	}

	for _, session := range sessions {
		if session == nil {
			return false
		}
		var turns []map[string]json.RawMessage
		if !isJSONArray(session["turns"]) || json.Unmarshal(session["turns"], &turns) != nil {
			return false
		}
		if len(turns) == 0 {
			continue
		}
		if _, ok := turns[0]["hallucination_score"]; ok {
			return true
		}
		if _, ok := turns[0]["purpose"]; ok {
			return true
		}
		_, ok := session["over_reliance_score"]
		return ok
	}

	for _, session := range sessions {
		if !isJSONNumber(session["over_reliance_score"]) {
			return false
		}
	}
	return true
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isJSONNumber(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	c := trimmed[0]
	return c == '-' || (c >= '0' && c <= '9')
}
