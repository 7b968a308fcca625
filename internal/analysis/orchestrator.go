// Package analysis turns a batch of uploaded sources into one result document.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/classify"
	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/metrics"
)

const generatedDateLayout = "2006-01-02"

// OracleFactory builds the oracle for one run from the caller's credential.
type OracleFactory func(credential string) (classify.Oracle, error)

// Orchestrator runs the full analysis of a batch of sources.
type Orchestrator struct {
	Oracles       OracleFactory
	Normalizer    dataset.Normalizer
	TurnPolicy    classify.TurnPolicy
	SessionPolicy classify.SessionPolicy
	Recorder      classify.EventRecorder
	Model         string
	Metrics       *metrics.PipelineMetrics
	Logger        *zap.Logger
	Now           func() time.Time
}

// Result is the outcome of one run. Rejected sources never abort a run.
type Result struct {
	Document    dataset.Document
	Rejected    []*dataset.SourceError
	OracleCalls int
}

// Run analyzes sources. Pre-analyzed sessions are copied verbatim ahead of
// newly analyzed ones, both in input order. An empty credential scores every
// turn with the missing-credential fallback.
//
// On cancellation Run returns the sessions completed so far together with
// ctx.Err(); a session interrupted mid-way is dropped.
func (o *Orchestrator) Run(ctx context.Context, sources []dataset.RawSource, credential string) (Result, error) {
	logger := o.logger()
	now := o.clock()
	started := now()

	oracle, err := o.oracle(credential)
	if err != nil {
		return Result{}, err
	}
	turnClassifier := &classify.TurnClassifier{
		Oracle:   oracle,
		Policy:   o.TurnPolicy,
		Recorder: o.Recorder,
		Model:    o.Model,
		Logger:   logger,
	}
	sessionClassifier := &classify.SessionClassifier{
		Oracle:   oracle,
		Policy:   o.SessionPolicy,
		Recorder: o.Recorder,
		Model:    o.Model,
		Logger:   logger,
	}

	var preAnalyzed, raw []dataset.RawSource
	for _, src := range sources {
		if src.PreAnalyzed {
			preAnalyzed = append(preAnalyzed, src)
		} else {
			raw = append(raw, src)
		}
	}
	logger.Info("analyze_start",
		zap.Int("pre_analyzed", len(preAnalyzed)),
		zap.Int("raw", len(raw)),
		zap.Bool("credential_present", oracle != nil),
		zap.String("model", o.Model),
	)

	var result Result
	sessions := make([]dataset.Session, 0, len(sources))
	for _, src := range preAnalyzed {
		extracted, err := dataset.ExtractSessions(src)
		if err != nil {
			result.Rejected = append(result.Rejected, o.reject(src.Name, err))
			continue
		}
		for range extracted {
			o.Metrics.ObserveSession(true)
		}
		sessions = append(sessions, extracted...)
	}

	var runErr error
	for idx, src := range raw {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		turns, _, err := o.Normalizer.Normalize(src.Payload)
		if err != nil {
			result.Rejected = append(result.Rejected, o.reject(src.Name, err))
			continue
		}
		name, capturedAt := dataset.SessionMeta(src.Payload, src.Name)
		logger.Info("analyze_session",
			zap.Int("index", idx+1),
			zap.Int("of", len(raw)),
			zap.String("session", name),
			zap.Int("turns", len(turns)),
		)

		session, calls, err := o.analyzeSession(ctx, turnClassifier, sessionClassifier, name, turns)
		result.OracleCalls += calls
		if err != nil {
			logger.Warn("analyze_session_dropped", zap.String("session", name), zap.Error(err))
			runErr = err
			break
		}
		session.CapturedAt = capturedAt
		sessions = append(sessions, session)
		o.Metrics.ObserveSession(false)
	}

	result.Document = dataset.NewDocument(sessions, started.Format(generatedDateLayout))
	status := "ok"
	if runErr != nil {
		status = "canceled"
	}
	o.Metrics.ObserveRun(status, now().Sub(started).Seconds())
	logger.Info("analyze_done",
		zap.String("status", status),
		zap.Int("sessions", result.Document.TotalFiles),
		zap.Int("turns", result.Document.TotalTurns),
		zap.Int("rejected", len(result.Rejected)),
		zap.Int("oracle_calls", result.OracleCalls),
	)
	return result, runErr
}

func (o *Orchestrator) analyzeSession(
	ctx context.Context,
	turnClassifier *classify.TurnClassifier,
	sessionClassifier *classify.SessionClassifier,
	name string,
	turns []dataset.Turn,
) (dataset.Session, int, error) {
	calls := 0
	annotated := make([]dataset.AnnotatedTurn, 0, len(turns))
	for i, turn := range turns {
		if err := ctx.Err(); err != nil {
			return dataset.Session{}, calls, err
		}
		out, outcome := turnClassifier.Classify(ctx, name, turn, turns[:i])
		if outcome.Invoked() {
			calls++
		}
		o.Metrics.ObserveOracle(classify.UnitTurn, outcome.String())
		o.logger().Debug("analyze_turn",
			zap.String("session", name),
			zap.Int("turn", turn.Turn),
			zap.Int("score", out.HallucinationScore),
			zap.String("purpose", out.Purpose),
			zap.String("outcome", outcome.String()),
		)
		annotated = append(annotated, out)
	}

	if err := ctx.Err(); err != nil {
		return dataset.Session{}, calls, err
	}
	score, outcome := sessionClassifier.Classify(ctx, name, turns)
	if outcome.Invoked() {
		calls++
	}
	o.Metrics.ObserveOracle(classify.UnitSession, outcome.String())
	if err := ctx.Err(); err != nil {
		return dataset.Session{}, calls, err
	}

	return dataset.Session{
		FileName:           name,
		TurnCount:          len(annotated),
		Turns:              annotated,
		OverRelianceScore:  score.Score,
		OverRelianceAdvice: score.Advice,
	}, calls, nil
}

func (o *Orchestrator) oracle(credential string) (classify.Oracle, error) {
	if strings.TrimSpace(credential) == "" || o.Oracles == nil {
		return nil, nil
	}
	return o.Oracles(strings.TrimSpace(credential))
}

func (o *Orchestrator) reject(name string, err error) *dataset.SourceError {
	var srcErr *dataset.SourceError
	if !errors.As(err, &srcErr) {
		srcErr = &dataset.SourceError{Name: name, Err: err}
	}
	reason := RejectReason(srcErr)
	o.Metrics.ObserveRejected(reason)
	o.logger().Warn("source_rejected",
		zap.String("source", srcErr.Name),
		zap.String("reason", reason),
		zap.Error(srcErr.Err),
	)
	return srcErr
}

// RejectReason returns a stable label for a rejected source.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, dataset.ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, dataset.ErrUnrecognizedFormat):
		return "unrecognized_format"
	case errors.Is(err, dataset.ErrDuplicateSource):
		return "duplicate"
	default:
		return "unreadable"
	}
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) clock() func() time.Time {
	if o.Now == nil {
		return time.Now
	}
	return o.Now
}
