// Package handler implements the HTTP endpoints of the poolbot API.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// writeJSON encodes v into a buffer first so an encoding failure can still
// produce a clean 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt returns the named parameter when it parses and is at least floor,
// and def otherwise.
func queryInt(q url.Values, name string, def, floor int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n < floor {
		return def
	}
	return n
}

// queryTime parses an optional RFC 3339 or unix-seconds timestamp.
func queryTime(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC 3339 or unix seconds", name)
	}
	return &t, nil
}

// parseListOpts reads limit, offset, since and until for journal listings.
// The limit is capped at maxPageSize.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  min(queryInt(q, "limit", defaultPageSize, 1), maxPageSize),
		Offset: queryInt(q, "offset", 0, 0),
	}
	var err error
	if opts.Since, err = queryTime(q, "since"); err != nil {
		return opts, err
	}
	if opts.Until, err = queryTime(q, "until"); err != nil {
		return opts, err
	}
	if opts.Since != nil && opts.Until != nil && opts.Until.Before(*opts.Since) {
		return opts, errors.New("until must not be before since")
	}
	return opts, nil
}
