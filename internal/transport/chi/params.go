package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	gochi "github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

const (
	maxJSONBody  = 1 << 20
	maxEmailBody = 10 << 20

	defaultListLimit = 50
	maxListLimit     = 500
)

// pathParam binds a required simple-style path parameter. On failure the
// error response is already written.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, gochi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
		return "", false
	}
	return v, true
}

// queryParam binds an optional form-style query parameter into dest. Arrays
// are comma-separated.
func queryParam(w http.ResponseWriter, r *http.Request, name string, dest any) bool {
	if err := runtime.BindQueryParameter("form", false, false, name, r.URL.Query(), dest); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
		return false
	}
	return true
}

// limitParam reads ?limit=, defaulting and clamping it.
func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	var limit *int
	if !queryParam(w, r, "limit", &limit) {
		return 0, false
	}
	switch {
	case limit == nil:
		return defaultListLimit, true
	case *limit < 1:
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "limit must be positive")
		return 0, false
	case *limit > maxListLimit:
		return maxListLimit, true
	default:
		return *limit, true
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeBadRequest, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
