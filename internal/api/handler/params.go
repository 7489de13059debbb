package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/response"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// pathUUID parses a chi URL parameter, writing a 400 when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.BadRequest(w, name+" must be a uuid", nil)
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID returns nil when the parameter is absent.
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func queryWeek(r *http.Request, name string) (*isoweek.Week, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	w, err := isoweek.Parse(v)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// queryList splits a comma separated parameter and upper-cases each value.
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
