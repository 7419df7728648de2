package audit

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-audit/internal/metrics"
)

const tracerName = "github.com/JakeFAU/site-audit/internal/audit"

// securityFailureRecommendation is reported when the header probe could not reach the site.
const securityFailureRecommendation = "Unable to analyze security headers"

// Probes groups the adapters the orchestrator sequences. Performance and SEOBasic are
// mandatory; the others may be nil, in which case they are reported as skipped.
type Probes struct {
	Performance PerformanceProbe
	SEOBasic    SEOBasicProbe
	Security    SecurityProbe
	Privacy     PrivacyProbe
	SEOAdvanced SEOAdvancedProbe
}

// OrchestratorConfig tunes probe scheduling.
type OrchestratorConfig struct {
	// Parallel runs the probes of each phase concurrently. Mandatory probes always
	// finish before optional ones start.
	Parallel bool
}

// Orchestrator runs the probes for one audit and merges their fragments.
type Orchestrator struct {
	cfg    OrchestratorConfig
	probes Probes
	clock  Clock
	logger *zap.Logger
}

// NewOrchestrator validates the probe set and builds an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, probes Probes, clock Clock, logger *zap.Logger) (*Orchestrator, error) {
	if probes.Performance == nil {
		return nil, errors.New("performance probe is required")
	}
	if probes.SEOBasic == nil {
		return nil, errors.New("seo basic probe is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, probes: probes, clock: clock, logger: logger}, nil
}

// Run audits domain in the given mode. It fails only when a mandatory probe fails; optional
// probe failures leave their fragment empty and mark the probe as failed.
func (o *Orchestrator) Run(ctx context.Context, domain string, mode Mode) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "audit.run")
	span.SetAttributes(attribute.String("audit.domain", domain), attribute.String("audit.mode", string(mode)))
	defer span.End()

	start := o.clock.Now()
	result := Result{
		Mode:            mode,
		Probes:          make(map[string]ProbeStatus, 5),
		Recommendations: []string{},
	}

	if err := o.runBaseline(ctx, domain, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "baseline probe failed")
		metrics.ObserveAudit(string(mode), string(StatusFailed), o.clock.Now().Sub(start))
		return Result{}, err
	}
	if result.Security != nil {
		result.Recommendations = append(result.Recommendations, result.Security.Recommendations...)
	}

	if mode == ModeComplete {
		privacyRecs := o.runOptional(ctx, domain, &result)
		result.Recommendations = append(result.Recommendations, privacyRecs...)
	} else {
		result.Probes[ProbePrivacy] = ProbeSkipped
		result.Probes[ProbeSEOAdvanced] = ProbeSkipped
	}

	elapsed := o.clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	result.ExecutionTimeMs = elapsed.Milliseconds()
	metrics.ObserveAudit(string(mode), string(StatusCompleted), elapsed)
	o.logger.Info("audit finished",
		zap.String("domain", domain),
		zap.String("mode", string(mode)),
		zap.Int64("execution_ms", result.ExecutionTimeMs),
	)
	return result, nil
}

func (o *Orchestrator) runBaseline(ctx context.Context, domain string, result *Result) error {
	var (
		perf      PerformanceReport
		seo       SEOBasic
		sec       *Security
		secStatus ProbeStatus
	)
	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			return o.mandatory(ctx, ProbePerformance, domain, func(ctx context.Context) error {
				r, err := o.probes.Performance.Performance(ctx, domain)
				if err != nil {
					return err
				}
				perf = r
				return nil
			})
		},
		func(ctx context.Context) error {
			return o.mandatory(ctx, ProbeSEOBasic, domain, func(ctx context.Context) error {
				r, err := o.probes.SEOBasic.SEOBasic(ctx, domain)
				if err != nil {
					return err
				}
				seo = r
				return nil
			})
		},
		func(ctx context.Context) error {
			sec, secStatus = o.security(ctx, domain)
			return nil
		},
	}
	if err := o.runPhase(ctx, tasks); err != nil {
		return err
	}
	result.Probes[ProbePerformance] = ProbeOK
	result.Probes[ProbeSEOBasic] = ProbeOK
	result.Probes[ProbeSecurity] = secStatus
	result.Lighthouse = perf.Scores
	stats := perf.Stats
	result.Metrics = &stats
	if seo.H1 == nil {
		seo.H1 = []string{}
	}
	result.SEOBasic = seo
	result.Security = sec
	return nil
}

// security runs the header probe. A failed probe still yields a zeroed fragment.
func (o *Orchestrator) security(ctx context.Context, domain string) (*Security, ProbeStatus) {
	if o.probes.Security == nil {
		return nil, ProbeSkipped
	}
	var sec Security
	err := o.observe(ctx, ProbeSecurity, domain, func(ctx context.Context) error {
		r, err := o.probes.Security.Security(ctx, domain)
		if err != nil {
			return err
		}
		sec = r
		return nil
	})
	if err != nil {
		o.logger.Warn("security probe failed", zap.String("domain", domain), zap.Error(err))
		fallback := FallbackSecurity()
		return &fallback, ProbeFailed
	}
	return &sec, ProbeOK
}

// runOptional runs the complete-mode probes and returns the privacy recommendations.
func (o *Orchestrator) runOptional(ctx context.Context, domain string, result *Result) []string {
	var (
		privacy       *PrivacyReport
		advanced      *SEOAdvanced
		privacyStatus = ProbeSkipped
		advStatus     = ProbeSkipped
	)
	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			if o.probes.SEOAdvanced == nil {
				return nil
			}
			err := o.observe(ctx, ProbeSEOAdvanced, domain, func(ctx context.Context) error {
				r, err := o.probes.SEOAdvanced.SEOAdvanced(ctx, domain)
				if err != nil {
					return err
				}
				advanced = &r
				return nil
			})
			advStatus = o.settleOptional(ProbeSEOAdvanced, domain, err)
			return nil
		},
		func(ctx context.Context) error {
			if o.probes.Privacy == nil {
				return nil
			}
			err := o.observe(ctx, ProbePrivacy, domain, func(ctx context.Context) error {
				r, err := o.probes.Privacy.Privacy(ctx, domain)
				if err != nil {
					return err
				}
				privacy = &r
				return nil
			})
			privacyStatus = o.settleOptional(ProbePrivacy, domain, err)
			return nil
		},
	}
	// Optional tasks swallow their own errors.
	_ = o.runPhase(ctx, tasks) //nolint:errcheck // always nil

	result.Probes[ProbeSEOAdvanced] = advStatus
	result.Probes[ProbePrivacy] = privacyStatus
	if advanced != nil {
		if advanced.Recommendations == nil {
			advanced.Recommendations = []string{}
		}
		result.SEOAdvanced = advanced
	}
	if privacy == nil {
		return nil
	}
	rgpd := privacy.RGPD
	cookies := privacy.Cookies
	result.RGPD = &rgpd
	result.Cookies = &cookies
	return privacy.Recommendations
}

func (o *Orchestrator) settleOptional(probe, domain string, err error) ProbeStatus {
	if err != nil {
		o.logger.Warn("optional probe failed, continuing without it",
			zap.String("probe", probe),
			zap.String("domain", domain),
			zap.Error(err),
		)
		return ProbeFailed
	}
	return ProbeOK
}

// runPhase executes tasks sequentially or concurrently. In both cases the first error
// stops the phase.
func (o *Orchestrator) runPhase(ctx context.Context, tasks []func(context.Context) error) error {
	if !o.cfg.Parallel {
		for _, task := range tasks {
			if err := task(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait() //nolint:wrapcheck // task errors are already typed
}

func (o *Orchestrator) mandatory(
	ctx context.Context,
	probe, domain string,
	fn func(context.Context) error,
) error {
	if err := o.observe(ctx, probe, domain, fn); err != nil {
		return &FailedError{Probe: probe, Err: err}
	}
	return nil
}

// observe wraps one probe call with a span, a duration metric and a debug log line.
func (o *Orchestrator) observe(
	ctx context.Context,
	probe, domain string,
	fn func(context.Context) error,
) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "probe."+probe)
	defer span.End()

	start := o.clock.Now()
	err := fn(ctx)
	elapsed := o.clock.Now().Sub(start)

	status := string(ProbeOK)
	if err != nil {
		status = string(ProbeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ObserveProbe(probe, status, elapsed)
	o.logger.Debug("probe finished",
		zap.String("probe", probe),
		zap.String("domain", domain),
		zap.Duration("duration", elapsed),
		zap.String("status", status),
	)
	return err
}

// FallbackSecurity is the fragment reported when the header probe cannot reach the site.
func FallbackSecurity() Security {
	headers := make(map[string]bool, len(SecurityHeaders))
	for _, h := range SecurityHeaders {
		headers[h] = false
	}
	return Security{
		HTTPS:           false,
		Headers:         headers,
		HeaderScore:     0,
		Recommendations: []string{securityFailureRecommendation},
	}
}
