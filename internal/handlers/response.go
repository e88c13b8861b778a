package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/repository"
)

// Page is the envelope of every list response.
type Page struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeFieldErrors(w http.ResponseWriter, errs models.FieldErrors) {
	writeJSON(w, http.StatusBadRequest, errs)
}

func writeNotFound(w http.ResponseWriter) {
	writeDetail(w, http.StatusNotFound, "Not found.")
}

func writeInternal(w http.ResponseWriter, logger zerolog.Logger, err error, action string) {
	logger.Error().Err(err).Msg("failed to " + action)
	writeDetail(w, http.StatusInternalServerError, "Failed to "+action+".")
}

// decodeJSON reads the request body into v. An empty body decodes as {} so
// that required-field validation reports what is missing.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return errors.New("JSON parse error - " + err.Error())
	}
	return nil
}

// pathID reads the numeric {id} route variable. Routes constrain it to digits,
// so a parse failure only happens on overflow.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// listOptions reads search, ordering, limit and offset. Malformed limit and
// offset values fall back to the defaults.
func listOptions(r *http.Request) repository.ListOptions {
	q := r.URL.Query()
	opts := repository.ListOptions{
		Search:   q.Get("search"),
		Ordering: q.Get("ordering"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	return opts
}

// newPage wraps one page of results with absolute links to its neighbours.
func newPage(r *http.Request, opts repository.ListOptions, total int, results interface{}) Page {
	limit, offset := opts.Bounds()
	page := Page{Count: total, Results: results}
	if offset < total-limit {
		page.Next = pageURL(r, limit, offset+limit)
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		page.Previous = pageURL(r, limit, prev)
	}
	return page
}

func pageURL(r *http.Request, limit, offset int) *string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	q := r.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	} else {
		q.Del("offset")
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	s := u.String()
	return &s
}

// NotFound is the router's fallback for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeNotFound(w)
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeDetail(w, http.StatusMethodNotAllowed, "Method \""+r.Method+"\" not allowed.")
}
