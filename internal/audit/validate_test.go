package audit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "example.com", want: "example.com"},
		{in: "  Example.COM ", want: "example.com"},
		{in: "https://www.example.com/", want: "www.example.com"},
		{in: "http://sub.example.co.uk", want: "sub.example.co.uk"},
		{in: "a172.com", want: "a172.com"},
		{in: "", wantErr: true},
		{in: "localhost", wantErr: true},
		{in: "api.localhost", wantErr: true},
		{in: "127.0.0.1", wantErr: true},
		{in: "192.168.1.10", wantErr: true},
		{in: "10.internal.example.com", wantErr: true},
		{in: "javascript:alert(1)", wantErr: true},
		{in: "example.com<script>", wantErr: true},
		{in: "ftp://example.com", wantErr: true},
		{in: "example", wantErr: true},
		{in: "exa mple.com", wantErr: true},
		{in: "-bad.example.com", wantErr: true},
		{in: strings.Repeat("a", 250) + ".com", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ValidateDomain(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			assert.True(t, errors.Is(err, ErrInvalidDomain), tc.in)
			assert.True(t, IsValidation(err))
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.com":                       "example.com",
		"https://example.com/path?q=1#frag": "example.com",
		"http://user:pw@example.com:8080/":  "example.com",
		"example.com.":                      "example.com",
		"example.com:443":                   "example.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	got, err := ValidateEmail(" Jane.Doe+audit@Example.org ")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe+audit@example.org", got)

	for _, bad := range []string{
		"",
		"not-an-email",
		"a@b",
		"<x>@example.com",
		"script@example.com",
		strings.Repeat("a", 250) + "@example.com",
	} {
		_, err := ValidateEmail(bad)
		require.ErrorIs(t, err, ErrInvalidEmail, bad)
	}
}

func TestValidateTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ValidateTimestamp(now.UnixMilli(), now, MaxTimestampSkew))
	require.NoError(t, ValidateTimestamp(now.Add(-4*time.Minute).UnixMilli(), now, MaxTimestampSkew))
	require.NoError(t, ValidateTimestamp(now.Add(4*time.Minute).UnixMilli(), now, MaxTimestampSkew))
	require.ErrorIs(t, ValidateTimestamp(now.Add(-6*time.Minute).UnixMilli(), now, MaxTimestampSkew), ErrStaleTimestamp)
	require.ErrorIs(t, ValidateTimestamp(now.Add(6*time.Minute).UnixMilli(), now, MaxTimestampSkew), ErrStaleTimestamp)
	require.ErrorIs(t, ValidateTimestamp(0, now, MaxTimestampSkew), ErrStaleTimestamp)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFast, m)
	m, err = ParseMode("Complete")
	require.NoError(t, err)
	assert.Equal(t, ModeComplete, m)
	_, err = ParseMode("deep")
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestFailedErrorMessage(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &FailedError{Probe: ProbePerformance, Err: cause}
	assert.Equal(t, "audit failed: performance: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "audit failed: boom", (&FailedError{Err: cause}).Error())
}
