package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, msg, "")
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, body any, errCode apperr.Code) {
	payload := map[string]any{
		"error": body,
	}
	if errCode != "" {
		payload["code"] = errCode
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

var statusByCode = map[apperr.Code]int{
	apperr.CodeUnauthenticated: http.StatusUnauthorized,
	apperr.CodeForbidden:       http.StatusForbidden,
	apperr.CodeNotFound:        http.StatusNotFound,
	apperr.CodeValidation:      http.StatusBadRequest,
	apperr.CodeConflict:        http.StatusConflict,
	apperr.CodeInvalidState:    http.StatusConflict,
	apperr.CodeRateLimited:     http.StatusTooManyRequests,
}

var sentinelByCode = map[apperr.Code]error{
	apperr.CodeUnauthenticated: apperr.ErrUnauthenticated,
	apperr.CodeForbidden:       apperr.ErrForbidden,
	apperr.CodeNotFound:        apperr.ErrNotFound,
	apperr.CodeValidation:      apperr.ErrValidation,
	apperr.CodeConflict:        apperr.ErrConflict,
	apperr.CodeInvalidState:    apperr.ErrInvalidState,
	apperr.CodeRateLimited:     apperr.ErrRateLimited,
}

// writeDomainError is the single place domain errors become HTTP responses.
// Anything outside the taxonomy is logged and reported as an opaque 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		obs.Logger().Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("internal error")
		writeErrorBody(w, r, http.StatusInternalServerError, "internal error", apperr.CodeInternal)
		return
	}
	if code == apperr.CodeRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	var fe apperr.FieldErrors
	if errors.As(err, &fe) && len(fe) > 0 {
		writeErrorBody(w, r, status, map[string]string(fe), code)
		return
	}
	writeErrorBody(w, r, status, publicMessage(err, sentinelByCode[code]), code)
}

// publicMessage strips the sentinel prefix added by fmt.Errorf("%w: ...").
func publicMessage(err, sentinel error) string {
	msg := err.Error()
	if sentinel == nil {
		return msg
	}
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok && rest != "" {
		return rest
	}
	return msg
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", apperr.ErrValidation)
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: request body exceeds %d bytes", apperr.ErrValidation, maxErr.Limit)
		}
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", apperr.ErrValidation)
	}
	return nil
}

// pathID parses a positive integer path value. A malformed id can never name
// a row, so it is reported as not found.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s", apperr.ErrNotFound, name)
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", apperr.ErrValidation)
	}
	return n, nil
}

// jsonDate accepts a calendar date ("2006-01-02") or an RFC 3339 timestamp.
type jsonDate struct {
	time.Time
}

func (d *jsonDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", s)
}

func (d *jsonDate) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

func (d *jsonDate) value() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
