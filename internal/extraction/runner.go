package extraction

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/constants"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/logging"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/tracing"
)

const tracerName = "extraction"

// Runner executes single extractors.
type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Extract runs d against src. The returned Run is never nil and always carries one
// coverage record per expected table; a non-nil error is an Extraction error.
func (r *Runner) Extract(ctx context.Context, rc *RunContext, d *Descriptor, src adapter.SourceAdapter) (run *Run, err error) {
	ctx = logging.WithExtractorID(logging.WithRunID(ctx, rc.RunID), d.ID)
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "extraction.extractor")
	span.SetAttributes(
		attribute.String("extractor.id", d.ID),
		attribute.String("extractor.module", d.Module),
		attribute.String("run.mode", string(rc.Mode)),
	)
	defer span.End()

	s := newSession(rc, d, src)
	start := time.Now()
	rc.emit(constants.EventExtractionStart, map[string]interface{}{
		"extractorId": d.ID,
		"name":        d.Name,
		"module":      d.Module,
		"mode":        string(rc.Mode),
	})

	var out *Output
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = errors.RecoverPanic(p, errors.ErrExtraction)
			}
		}()
		out, err = r.invoke(ctx, s)
	}()

	run = &Run{ExtractorID: d.ID, Duration: time.Since(start)}
	if err != nil {
		err = asExtractionError(d, err)
		run.Err = err
		run.Coverage = s.complete(err)
		run.Validation = s.validation
		rc.merge(run)

		tracing.MarkFailed(span, err)
		metrics.ObserveExtractor(d.ID, string(rc.Mode), "error", run.Duration)
		rc.Logger.WarnwCtx(ctx, "Extractor failed", "error", err, "duration_ms", run.Duration.Milliseconds())
		rc.emit(constants.EventExtractionError, map[string]interface{}{
			"extractorId": d.ID,
			"error":       err.Error(),
			"code":        errors.CodeOf(err),
		})
		return run, err
	}

	run.Output = out
	run.Coverage = s.complete(nil)
	run.Validation = s.validation
	rc.merge(run)

	span.SetAttributes(attribute.Int("extractor.records", out.RecordCount))
	metrics.ObserveExtractor(d.ID, string(rc.Mode), "success", run.Duration)
	rc.Logger.InfowCtx(ctx, "Extractor completed", "records", out.RecordCount, "duration_ms", run.Duration.Milliseconds())
	rc.emit(constants.EventExtractionComplete, map[string]interface{}{
		"extractorId": d.ID,
		"recordCount": out.RecordCount,
		"durationMs":  run.Duration.Milliseconds(),
	})
	return run, nil
}

func (r *Runner) invoke(ctx context.Context, s *Session) (*Output, error) {
	fn := s.desc.Live
	if s.Mode() == adapter.ModeMock && s.desc.Mock != nil {
		fn = s.desc.Mock
	}
	if fn == nil {
		fn = readExpectedTables
	}
	out, err := fn(ctx, s)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = newOutput(s.desc.ID)
	}
	out.ExtractorID = s.desc.ID
	if s.desc.Analyze != nil {
		s.desc.Analyze(s, out)
	}
	return out, nil
}

// readExpectedTables is the default extraction: every expected table in full. A
// failing table is recorded and skipped; the run fails only when nothing was read.
func readExpectedTables(ctx context.Context, s *Session) (*Output, error) {
	out := newOutput(s.desc.ID)
	var lastErr error
	for _, t := range s.desc.Tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := s.ReadTable(ctx, t.Name, adapter.ReadOptions{})
		if err != nil {
			s.logger.DebugwCtx(ctx, "Table read failed", "table", t.Name, "error", err)
			lastErr = err
			continue
		}
		out.Add(t.Name, rows)
	}
	if len(out.TableCounts) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func asExtractionError(d *Descriptor, err error) error {
	if appErr, ok := errors.As(err); ok && appErr.Kind == errors.KindExtraction {
		return appErr.WithDetail("extractorId", d.ID)
	}
	return errors.ErrExtraction.Newf("extractor %s failed: %s", d.ID, reasonOf(err)).
		WithCause(err).
		WithDetail("extractorId", d.ID).
		WithDetail("module", d.Module)
}
