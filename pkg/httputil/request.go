package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 1 << 20

// ParseJSON decodes the request body into dest. Malformed bodies become a
// ValidationError.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errdefs.Validation("body", "invalid JSON: %v", err)
	}
	return nil
}

// PathString returns a path variable
func PathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", errdefs.Validation(key, "missing path parameter")
	}
	return str, nil
}

// QueryString returns a query parameter or defaultVal
func QueryString(r *http.Request, key, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// QueryBool parses a boolean query parameter
func QueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, errdefs.Validation(key, "invalid boolean %q", str)
	}
	return val, nil
}
