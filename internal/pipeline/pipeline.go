package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"golang.org/x/sync/semaphore"
)

// AssessmentPublisher forwards successful assessments to downstream consumers.
type AssessmentPublisher interface {
	Publish(ctx context.Context, record domain.AssessmentRecord) error
}

// Settings is the immutable configuration of a Pipeline.
type Settings struct {
	Limits domain.ValidationLimits
	Retry  RetryPolicy

	// MaxInFlight bounds concurrent model calls; 0 means unbounded.
	MaxInFlight int64
}

// Pipeline runs one analysis request through validate, enrich, build,
// invoke and parse.
type Pipeline struct {
	settings  Settings
	invoker   *Invoker
	geocoder  domain.Geocoder
	publisher AssessmentPublisher
	sem       *semaphore.Weighted
	inFlight  atomic.Int64
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline. geocoder and publisher may be nil to disable
// location enrichment and assessment publication.
func New(settings Settings, model ModelClient, geocoder domain.Geocoder, publisher AssessmentPublisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	p := &Pipeline{
		settings:  settings,
		invoker:   NewInvoker(model, settings.Retry, logger, metrics),
		geocoder:  geocoder,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
	if settings.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(settings.MaxInFlight)
	}
	return p
}

// Invoker exposes the model invoker, e.g. to swap its clock in tests.
func (p *Pipeline) Invoker() *Invoker {
	return p.invoker
}

// CheckReadiness reports an error while every model slot is taken. It reads
// the in-flight count and never holds a slot itself.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.sem == nil {
		return nil
	}
	if n := p.inFlight.Load(); n >= p.settings.MaxInFlight {
		return fmt.Errorf("all %d analysis slots are busy", p.settings.MaxInFlight)
	}
	return nil
}

// Analyze returns the flood risk assessment for raw, or a *domain.PipelineError
// naming the stage that failed. A cancelled ctx never yields an assessment.
func (p *Pipeline) Analyze(ctx context.Context, raw domain.RawInput) (domain.RiskAssessment, error) {
	start := time.Now()
	run := &requestRun{input: raw.Kind(), enrich: domain.EnrichSkipped}

	a, err := p.analyze(ctx, raw, run)
	p.record(ctx, run, a, err, time.Since(start))
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return a, nil
}

// Reject records a request the transport refused before it could be turned
// into a RawInput, such as a malformed body or an oversized upload. It emits
// the same summary record and metrics as Analyze and returns err as a
// *domain.PipelineError at the validate stage.
func (p *Pipeline) Reject(ctx context.Context, input domain.InputKind, err error) error {
	run := &requestRun{input: input, stage: domain.StageValidate, enrich: domain.EnrichSkipped}
	pe := domain.AsPipelineError(err, run.stage)
	p.record(ctx, run, domain.RiskAssessment{}, pe, 0)
	return pe
}

// requestRun accumulates what one request did for its summary log record.
type requestRun struct {
	input  domain.InputKind
	stage  domain.Stage
	enrich domain.EnrichmentOutcome
	timing []slog.Attr
}

func (r *requestRun) begin(stage domain.Stage) time.Time {
	r.stage = stage
	return time.Now()
}

func (r *requestRun) end(start time.Time) {
	r.timing = append(r.timing, slog.Float64(string(r.stage), msSince(start)))
}

func (p *Pipeline) analyze(ctx context.Context, raw domain.RawInput, run *requestRun) (a domain.RiskAssessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			a = domain.RiskAssessment{}
			err = domain.NewInternalError(run.stage, fmt.Errorf("panic: %v", r))
		}
	}()

	t := run.begin(domain.StageValidate)
	if err := ctx.Err(); err != nil {
		return a, domain.CancellationError(run.stage, err)
	}
	req, err := domain.Validate(raw, p.settings.Limits)
	run.end(t)
	if err != nil {
		return a, domain.AsPipelineError(err, run.stage)
	}
	run.input = req.Kind()

	if p.geocoder != nil {
		t = run.begin(domain.StageEnrich)
		req, run.enrich = domain.EnrichWithPlace(ctx, req, p.geocoder, p.logger)
		run.end(t)
	}

	t = run.begin(domain.StageBuild)
	if err := ctx.Err(); err != nil {
		return a, domain.CancellationError(run.stage, err)
	}
	payload := domain.BuildPayload(req)
	run.end(t)

	t = run.begin(domain.StageInvoke)
	out, err := p.invoke(ctx, payload)
	run.end(t)
	if err != nil {
		return a, domain.AsPipelineError(err, run.stage)
	}
	if err := ctx.Err(); err != nil {
		return a, domain.CancellationError(run.stage, err)
	}

	t = run.begin(domain.StageParse)
	a, err = domain.ParseModelOutput(out)
	run.end(t)
	if err != nil {
		return domain.RiskAssessment{}, domain.AsPipelineError(err, run.stage)
	}

	if p.publisher != nil {
		t = run.begin(domain.StagePublish)
		p.publish(ctx, req, a)
		run.end(t)
	}
	return a, nil
}

// invoke holds a model slot for the duration of the call. When none is free
// the request fails immediately instead of queueing.
func (p *Pipeline) invoke(ctx context.Context, payload domain.ModelPayload) (domain.RawModelOutput, error) {
	if p.sem != nil {
		if !p.sem.TryAcquire(1) {
			return domain.RawModelOutput{}, domain.NewModelUnavailableError(domain.ReasonOverloaded, "too many analyses in progress, try again later", nil)
		}
		defer p.sem.Release(1)
		p.inFlight.Add(1)
		defer p.inFlight.Add(-1)
	}
	p.metrics.InFlight.Inc()
	defer p.metrics.InFlight.Dec()

	return p.invoker.Invoke(ctx, payload)
}

// publish hands the record off without blocking on or failing the request.
func (p *Pipeline) publish(ctx context.Context, req domain.AnalysisRequest, a domain.RiskAssessment) {
	rec := domain.NewAssessmentRecord(RequestIDFrom(ctx), req, a)
	if err := p.publisher.Publish(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("publish assessment failed", "request_id", rec.RequestID, "error", err)
	}
}

// record emits the single summary log line and metrics for a request.
func (p *Pipeline) record(ctx context.Context, run *requestRun, a domain.RiskAssessment, err error, elapsed time.Duration) {
	input := string(run.input)
	p.metrics.AnalysisDuration.WithLabelValues(input).Observe(elapsed.Seconds())

	attrs := []slog.Attr{
		slog.String("request_id", RequestIDFrom(ctx)),
		slog.String("input", input),
		slog.String("enrichment", string(run.enrich)),
		slog.Attr{Key: "stages_ms", Value: slog.GroupValue(run.timing...)},
		slog.Float64("latency_ms", float64(elapsed.Microseconds())/1000),
	}

	if err == nil {
		p.metrics.AnalysesTotal.WithLabelValues(input, "success").Inc()
		p.metrics.RiskLevels.WithLabelValues(string(a.RiskLevel)).Inc()
		p.metrics.ParseMethods.WithLabelValues(string(a.Method)).Inc()
		attrs = append(attrs,
			slog.String("outcome", "success"),
			slog.String("risk_level", string(a.RiskLevel)),
			slog.Float64("confidence", a.Confidence),
			slog.String("parse_method", string(a.Method)),
			slog.String("model_version", a.ModelVersion),
		)
		p.logger.LogAttrs(ctx, slog.LevelInfo, "analysis completed", attrs...)
		return
	}

	var pe *domain.PipelineError
	if !errors.As(err, &pe) {
		pe = domain.NewInternalError(run.stage, err)
	}
	p.metrics.AnalysesTotal.WithLabelValues(input, string(pe.Kind)).Inc()
	attrs = append(attrs,
		slog.String("outcome", pe.Kind.Code()),
		slog.String("stage", string(pe.Stage)),
		slog.String("reason", string(pe.Reason)),
		slog.String("error", pe.Error()),
	)

	level := slog.LevelError
	if pe.Kind == domain.KindValidation || pe.Reason == domain.ReasonCancelled {
		level = slog.LevelWarn
	}
	p.logger.LogAttrs(ctx, level, "analysis failed", attrs...)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
