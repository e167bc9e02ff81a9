package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

func TestParseJSON(t *testing.T) {
	var dest struct {
		Amount int64 `json:"amount"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 3}`))
	require.NoError(t, ParseJSON(httptest.NewRecorder(), r, &dest))
	assert.Equal(t, int64(3), dest.Amount)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": "three"}`))
	assert.True(t, errdefs.IsValidation(ParseJSON(httptest.NewRecorder(), r, &dest)))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 1, "bogus": true}`))
	assert.True(t, errdefs.IsValidation(ParseJSON(httptest.NewRecorder(), r, &dest)))
}

func TestPathString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/users/u1", nil)
	r = mux.SetURLVars(r, map[string]string{"user_id": "u1"})

	v, err := PathString(r, "user_id")
	require.NoError(t, err)
	assert.Equal(t, "u1", v)

	_, err = PathString(r, "org_id")
	assert.True(t, errdefs.IsValidation(err))
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?status=active&force=true&bad=maybe", nil)

	assert.Equal(t, "active", QueryString(r, "status", "all"))
	assert.Equal(t, "all", QueryString(r, "missing", "all"))

	force, err := QueryBool(r, "force", false)
	require.NoError(t, err)
	assert.True(t, force)

	def, err := QueryBool(r, "missing", true)
	require.NoError(t, err)
	assert.True(t, def)

	_, err = QueryBool(r, "bad", false)
	assert.True(t, errdefs.IsValidation(err))
}
