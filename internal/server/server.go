// Package server is the HTTP surface: parameter parsing and delegation
// only, no algorithmic content.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/delta"
	syncerrors "github.com/semweb/searchsync/internal/errors"
	"github.com/semweb/searchsync/internal/index"
	"github.com/semweb/searchsync/internal/metrics"
	"github.com/semweb/searchsync/internal/query"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
)

// Pinger is the liveness slice of the triplestore client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server handles the public HTTP API.
type Server struct {
	registry *index.Registry
	engine   search.Client
	router   *delta.Router
	store    Pinger
	mux      *http.ServeMux

	mu    sync.Mutex
	types *config.TypeConfig
}

// New wires the handler tree.
func New(registry *index.Registry, engine search.Client, router *delta.Router, store Pinger, types *config.TypeConfig) *Server {
	s := &Server{
		registry: registry,
		engine:   engine,
		router:   router,
		store:    store,
		types:    types,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("GET /{type}/search", s.handleSearch)
	mux.HandleFunc("POST /{type}/invalidate", s.handleInvalidate)
	mux.HandleFunc("DELETE /{type}/indexes", s.handleDeleteIndexes)
	s.mux = mux
	return s
}

// SetTypes swaps the type configuration after a reload.
func (s *Server) SetTypes(types *config.TypeConfig) {
	s.mu.Lock()
	s.types = types
	s.mu.Unlock()
}

func (s *Server) typeConfig() *config.TypeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "up"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		slog.Warn("health check: triplestore unreachable", slog.String("error", err.Error()))
	}
	writeJSON(w, code, map[string]any{"status": status})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var batch []delta.ChangeSet
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, syncerrors.New(syncerrors.ErrCodeInvalidInput, "cannot parse delta payload", err))
		return
	}
	s.router.Route(r.Context(), batch)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	typeName := r.PathValue("type")
	if _, ok := s.typeConfig().Get(typeName); !ok {
		writeError(w, syncerrors.New(syncerrors.ErrCodeUnknownType,
			fmt.Sprintf("unknown search type %q", typeName), nil))
		return
	}
	s.registry.InvalidateType(typeName)
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": typeName})
}

func (s *Server) handleDeleteIndexes(w http.ResponseWriter, r *http.Request) {
	typeName := r.PathValue("type")
	if _, ok := s.typeConfig().Get(typeName); !ok {
		writeError(w, syncerrors.New(syncerrors.ErrCodeUnknownType,
			fmt.Sprintf("unknown search type %q", typeName), nil))
		return
	}
	if err := s.registry.RemoveType(r.Context(), typeName); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	typeName := r.PathValue("type")
	types := s.typeConfig()
	def, ok := types.Get(typeName)
	if !ok {
		writeError(w, syncerrors.New(syncerrors.ErrCodeUnknownType,
			fmt.Sprintf("unknown search type %q", typeName), nil))
		return
	}

	ac, err := authContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(ac.AllowedGroups) == 0 {
		writeError(w, syncerrors.New(syncerrors.ErrCodeInvalidInput,
			"missing "+sparql.HeaderAllowedGroups+" header", nil))
		return
	}

	filters, sorts, page, collapse, err := parseSearchParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := query.Translate(filters, sorts, page, query.Options{
		CollapseUUIDs: collapse,
		ExcludeFields: types.AttachmentFields(def),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	indexes, err := s.registry.ResolveOrBuild(r.Context(), ac, typeName)
	if err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, len(indexes))
	for i, si := range indexes {
		if err := si.WaitReady(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		names[i] = si.Name
	}

	result, err := s.engine.Search(r.Context(), strings.Join(names, ","), body)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.SearchRequests.WithLabelValues(typeName).Inc()

	writeJSON(w, http.StatusOK, searchResponse(typeName, result, page))
}

// authContext reads the authorization headers into a request scope.
func authContext(r *http.Request) (auth.Context, error) {
	allowed, err := auth.Parse(r.Header.Get(sparql.HeaderAllowedGroups))
	if err != nil {
		return auth.Context{}, syncerrors.New(syncerrors.ErrCodeInvalidInput,
			"cannot parse allowed groups header", err)
	}
	used, err := auth.Parse(r.Header.Get(sparql.HeaderUsedGroups))
	if err != nil {
		return auth.Context{}, syncerrors.New(syncerrors.ErrCodeInvalidInput,
			"cannot parse used groups header", err)
	}
	return auth.NewContext(allowed, used), nil
}

// parseSearchParams extracts filter[...], page[...], sort and
// collapse_uuids from the query string.
func parseSearchParams(r *http.Request) ([]query.Filter, []query.SortField, query.Page, bool, error) {
	values := r.URL.Query()

	var filters []query.Filter
	for key, vals := range values {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[len("filter[") : len(key)-1]
		for _, v := range vals {
			filters = append(filters, query.Filter{Key: inner, Value: v})
		}
	}

	var page query.Page
	var err error
	if v := values.Get("page[number]"); v != "" {
		if page.Number, err = strconv.Atoi(v); err != nil {
			return nil, nil, page, false, syncerrors.New(syncerrors.ErrCodeInvalidInput,
				"page[number] is not a number", err)
		}
	}
	if v := values.Get("page[size]"); v != "" {
		if page.Size, err = strconv.Atoi(v); err != nil {
			return nil, nil, page, false, syncerrors.New(syncerrors.ErrCodeInvalidInput,
				"page[size] is not a number", err)
		}
	}

	var sorts []query.SortField
	if raw := values.Get("sort"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field == "" {
				continue
			}
			sf := query.SortField{Field: field, Order: "asc"}
			if strings.HasPrefix(field, "-") {
				sf = query.SortField{Field: field[1:], Order: "desc"}
			}
			sorts = append(sorts, sf)
		}
	}

	collapse := values.Get("collapse_uuids") != "false"
	return filters, sorts, page, collapse, nil
}

// searchResponse shapes the result JSON:API style.
func searchResponse(typeName string, result *search.Result, page query.Page) map[string]any {
	data := make([]any, 0, len(result.Hits))
	for _, hit := range result.Hits {
		entry := map[string]any{
			"type":       typeName,
			"id":         hit.Source["uuid"],
			"attributes": hit.Source,
		}
		data = append(data, entry)
	}

	size := page.Size
	if size <= 0 {
		size = query.DefaultPageSize
	}
	meta := map[string]any{
		"count": result.Total,
		"page":  map[string]any{"number": page.Number, "size": size},
	}
	if result.DistinctCount >= 0 {
		meta["distinct_count"] = result.DistinctCount
	}
	return map[string]any{"data": data, "meta": meta}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("cannot write response", slog.String("error", err.Error()))
	}
}

// writeError maps structured error categories to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch syncerrors.GetCode(err) {
	case syncerrors.ErrCodeInvalidInput, syncerrors.ErrCodeInvalidFilter, syncerrors.ErrCodeFieldCardinality:
		code = http.StatusBadRequest
	case syncerrors.ErrCodeUnknownType:
		code = http.StatusNotFound
	case syncerrors.ErrCodePoolTimeout:
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"errors": []any{map[string]any{
			"status": strconv.Itoa(code),
			"code":   syncerrors.GetCode(err),
			"title":  err.Error(),
		}},
	})
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.Int("port", port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
