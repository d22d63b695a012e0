package http

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":            "/",
		"/":           "/",
		"/healthz":    "/healthz",
		"/v1/users":   "/v1/users",
		"/v1/users/550e8400-e29b-41d4-a716-446655440000":          "/v1/users/:param",
		"/v1/kyc/attempts/550e8400-e29b-41d4-a716-446655440000":   "/v1/kyc/attempts/:param",
		"/v1/kyc/attempts/42/retry":                               "/v1/kyc/attempts/:param/retry",
		"/v1/files/eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.abc.def": "/v1/files/:param",
		"/v1/kyc/stats?since=2026-01-01":                          "/v1/kyc/stats",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizePath(in), "path %q", in)
	}
}

func TestIsDynamicSegment(t *testing.T) {
	require.True(t, isDynamicSegment("550e8400-e29b-41d4-a716-446655440000"))
	require.True(t, isDynamicSegment("deadbeefdeadbeef01"))
	require.True(t, isDynamicSegment("12345"))
	require.False(t, isDynamicSegment("attempts"))
	require.False(t, isDynamicSegment("retry"))
	require.False(t, isDynamicSegment("front"))
}
