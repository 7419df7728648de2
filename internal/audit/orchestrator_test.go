package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func strPtr(s string) *string { return &s }

type probeSet struct {
	perf     *fakePerformance
	seo      *fakeSEOBasic
	sec      *fakeSecurity
	privacy  *fakePrivacy
	advanced *fakeSEOAdvanced
}

func newProbeSet(clock *fakeClock) probeSet {
	return probeSet{
		perf: &fakePerformance{
			clock: clock,
			report: PerformanceReport{
				Scores: Scores{Performance: 91, SEO: 80, Accessibility: 75, BestPractices: 100},
				Stats:  PerformanceStats{FirstContentfulPaintMs: 900},
			},
		},
		seo: &fakeSEOBasic{result: SEOBasic{Title: strPtr("Example"), HasRobotsTxt: true}},
		sec: &fakeSecurity{result: Security{
			HTTPS:           true,
			Headers:         map[string]bool{HeaderHSTS: true},
			HeaderScore:     17,
			Recommendations: []string{"Add a Content-Security-Policy header"},
		}},
		privacy: &fakePrivacy{result: PrivacyReport{
			RGPD:            RGPD{HasCookieBanner: true},
			Cookies:         Cookies{Total: 2, ThirdParty: 1},
			Recommendations: []string{"Review third-party cookies"},
		}},
		advanced: &fakeSEOAdvanced{result: SEOAdvanced{
			HTMLStructure:   HTMLStructure{HasTitle: true, TitleLength: 7},
			Recommendations: []string{"Title is too short"},
		}},
	}
}

func (p probeSet) probes() Probes {
	return Probes{
		Performance: p.perf,
		SEOBasic:    p.seo,
		Security:    p.sec,
		Privacy:     p.privacy,
		SEOAdvanced: p.advanced,
	}
}

func TestNewOrchestratorRequiresMandatoryProbes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	set := newProbeSet(clock)

	_, err := NewOrchestrator(OrchestratorConfig{}, Probes{SEOBasic: set.seo}, clock, nil)
	require.Error(t, err)
	_, err = NewOrchestrator(OrchestratorConfig{}, Probes{Performance: set.perf}, clock, nil)
	require.Error(t, err)
	_, err = NewOrchestrator(OrchestratorConfig{}, set.probes(), nil, nil)
	require.Error(t, err)
}

func TestOrchestratorFastMode(t *testing.T) {
	t.Parallel()

	for _, parallel := range []bool{false, true} {
		clock := newFakeClock()
		set := newProbeSet(clock)
		o, err := NewOrchestrator(OrchestratorConfig{Parallel: parallel}, set.probes(), clock, zap.NewNop())
		require.NoError(t, err)

		result, err := o.Run(context.Background(), "example.com", ModeFast)
		require.NoError(t, err)

		assert.Equal(t, ModeFast, result.Mode)
		assert.Equal(t, 91, result.Lighthouse.Performance)
		require.NotNil(t, result.Metrics)
		assert.InDelta(t, 900, result.Metrics.FirstContentfulPaintMs, 0.001)
		assert.Equal(t, "Example", *result.SEOBasic.Title)
		assert.NotNil(t, result.SEOBasic.H1)
		require.NotNil(t, result.Security)
		assert.Equal(t, 17, result.Security.HeaderScore)
		assert.Nil(t, result.RGPD)
		assert.Nil(t, result.Cookies)
		assert.Nil(t, result.SEOAdvanced)
		assert.Equal(t, []string{"Add a Content-Security-Policy header"}, result.Recommendations)
		assert.Equal(t, ProbeSkipped, result.Probes[ProbePrivacy])
		assert.Equal(t, ProbeSkipped, result.Probes[ProbeSEOAdvanced])
		assert.Equal(t, ProbeOK, result.Probes[ProbeSecurity])
		assert.Equal(t, int64(1500), result.ExecutionTimeMs)
		assert.Zero(t, set.privacy.calls.Load())
		assert.Zero(t, set.advanced.calls.Load())
	}
}

func TestOrchestratorCompleteMode(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	set := newProbeSet(clock)
	o, err := NewOrchestrator(OrchestratorConfig{}, set.probes(), clock, zap.NewNop())
	require.NoError(t, err)

	result, err := o.Run(context.Background(), "example.com", ModeComplete)
	require.NoError(t, err)

	require.NotNil(t, result.RGPD)
	assert.True(t, result.RGPD.HasCookieBanner)
	require.NotNil(t, result.Cookies)
	assert.Equal(t, 1, result.Cookies.ThirdParty)
	require.NotNil(t, result.SEOAdvanced)
	assert.Equal(t, 7, result.SEOAdvanced.HTMLStructure.TitleLength)
	assert.Equal(t,
		[]string{"Add a Content-Security-Policy header", "Review third-party cookies"},
		result.Recommendations,
	)
	for _, probe := range []string{ProbePerformance, ProbeSEOBasic, ProbeSecurity, ProbePrivacy, ProbeSEOAdvanced} {
		assert.Equal(t, ProbeOK, result.Probes[probe], probe)
	}
}

func TestOrchestratorMandatoryFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(probeSet)
		probe string
	}{
		{
			name:  "performance",
			setup: func(p probeSet) { p.perf.err = errors.New("browser crashed") },
			probe: ProbePerformance,
		},
		{
			name:  "seo basic",
			setup: func(p probeSet) { p.seo.err = errors.New("connection refused") },
			probe: ProbeSEOBasic,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clock := newFakeClock()
			set := newProbeSet(clock)
			tc.setup(set)
			o, err := NewOrchestrator(OrchestratorConfig{}, set.probes(), clock, zap.NewNop())
			require.NoError(t, err)

			_, err = o.Run(context.Background(), "example.com", ModeComplete)
			require.Error(t, err)
			var failed *FailedError
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, tc.probe, failed.Probe)
			assert.Contains(t, err.Error(), "audit failed")
			assert.Zero(t, set.privacy.calls.Load())
		})
	}
}

func TestOrchestratorSecurityFallback(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	set := newProbeSet(clock)
	set.sec.err = errors.New("timeout")
	o, err := NewOrchestrator(OrchestratorConfig{Parallel: true}, set.probes(), clock, zap.NewNop())
	require.NoError(t, err)

	result, err := o.Run(context.Background(), "example.com", ModeFast)
	require.NoError(t, err)
	require.NotNil(t, result.Security)
	assert.False(t, result.Security.HTTPS)
	assert.Zero(t, result.Security.HeaderScore)
	assert.Len(t, result.Security.Headers, len(SecurityHeaders))
	assert.Equal(t, []string{"Unable to analyze security headers"}, result.Recommendations)
	assert.Equal(t, ProbeFailed, result.Probes[ProbeSecurity])
}

func TestOrchestratorOptionalFailuresDegrade(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	set := newProbeSet(clock)
	set.privacy.err = errors.New("navigation failed")
	set.advanced.err = errors.New("navigation failed")
	o, err := NewOrchestrator(OrchestratorConfig{Parallel: true}, set.probes(), clock, zap.NewNop())
	require.NoError(t, err)

	result, err := o.Run(context.Background(), "example.com", ModeComplete)
	require.NoError(t, err)
	assert.Nil(t, result.RGPD)
	assert.Nil(t, result.Cookies)
	assert.Nil(t, result.SEOAdvanced)
	assert.Equal(t, ProbeFailed, result.Probes[ProbePrivacy])
	assert.Equal(t, ProbeFailed, result.Probes[ProbeSEOAdvanced])
	assert.Equal(t, 91, result.Lighthouse.Performance)
}

func TestOrchestratorMissingOptionalProbesAreSkipped(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	set := newProbeSet(clock)
	o, err := NewOrchestrator(OrchestratorConfig{}, Probes{Performance: set.perf, SEOBasic: set.seo}, clock, nil)
	require.NoError(t, err)

	result, err := o.Run(context.Background(), "example.com", ModeComplete)
	require.NoError(t, err)
	assert.Nil(t, result.Security)
	assert.Equal(t, ProbeSkipped, result.Probes[ProbeSecurity])
	assert.Equal(t, ProbeSkipped, result.Probes[ProbePrivacy])
	assert.Equal(t, ProbeSkipped, result.Probes[ProbeSEOAdvanced])
	assert.Empty(t, result.Recommendations)
}
