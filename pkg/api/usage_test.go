package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitlements/pkg/httputil"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

func TestUsage_RecordGetReset(t *testing.T) {
	env := newTestEnv(t)
	assert.Zero(t, env.permissions(t).Limits["api_calls"].Used)

	w := env.do(t, http.MethodPost, "/v1/users/u1/usage/api_calls", RecordUsageRequest{Amount: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(3), decode[usage.RecordResult](t, w).CurrentUsage)

	w = env.do(t, http.MethodPost, "/v1/users/u1/usage/api_calls", RecordUsageRequest{Amount: 2})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(5), decode[usage.RecordResult](t, w).CurrentUsage)

	limit := env.permissions(t).Limits["api_calls"]
	assert.Equal(t, int64(5), limit.Used)
	require.NotNil(t, limit.Remaining)
	assert.Equal(t, int64(995), *limit.Remaining)

	w = env.do(t, http.MethodGet, "/v1/users/u1/usage?feature_slug=api_calls", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[UsageList](t, w).Usage
	require.Len(t, records, 1)
	assert.Equal(t, int64(5), records[0].CurrentUsage)

	w = env.do(t, http.MethodDelete, "/v1/users/u1/usage/api_calls", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/v1/users/u1/usage?feature_slug=api_calls", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records = decode[UsageList](t, w).Usage
	require.Len(t, records, 1)
	assert.Zero(t, records[0].CurrentUsage)
	assert.Zero(t, env.permissions(t).Limits["api_calls"].Used)
}

func TestUsage_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/users/u1/usage/api_calls", RecordUsageRequest{Amount: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "amount", decode[httputil.ErrorResponse](t, w).Field)

	w = env.do(t, http.MethodPost, "/v1/users/u1/usage/teleport", RecordUsageRequest{Amount: 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsage_ResetAll(t *testing.T) {
	env := newTestEnv(t)

	for _, slug := range []string{"api_calls", "reports"} {
		w := env.do(t, http.MethodPost, "/v1/users/u1/usage/"+slug, RecordUsageRequest{Amount: 1})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodPost, "/v1/usage/reset", ResetAllRequest{OrganizationID: "org1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(2), decode[usage.ResetResult](t, w).ResetCount)

	w = env.do(t, http.MethodPost, "/v1/usage/reset", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/v1/usage/reset", ResetAllRequest{OrganizationID: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
