// Package http holds the internal HTTP server used by quotad: health and
// pprof endpoints, Prometheus metrics, region size report ingest, and
// read-only views of quotas and violation states.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	http_pprof "net/http/pprof"
	"runtime/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/calderadb/quotad/pkg/catalog"
	"github.com/calderadb/quotad/pkg/quota"
	"github.com/calderadb/quotad/pkg/reports"
)

const (
	forceShutdownTime = 10 * time.Second
	JSONContentType   = "application/json"
)

// StateSource exposes point-in-time copies of the observer's violation
// states.
type StateSource interface {
	TableStates() map[quota.TableName]quota.ViolationState
	NamespaceStates() map[string]quota.ViolationState
}

type Server struct {
	Registry *reports.Registry
	Catalog  catalog.Reader
	States   StateSource
	Log      zerolog.Logger
}

// Serve serves all HTTP traffic on listenAddress until ctx is cancelled,
// then shuts the server down.
func (s *Server) Serve(ctx context.Context, listenAddress string) {
	router := chi.NewRouter()
	router.Mount("/_health", ServeHealth())
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/internal/_pprof/", ServePPRof())
	// Internal service, respond only on a designated "internal" endpoint.
	router.Mount("/internal/api/v1", s.ServeREST())
	server := &http.Server{
		Addr:    listenAddress,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.Log.Fatal().Err(err).Str("address", listenAddress).Msg("server failed to listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), forceShutdownTime)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.Log.Error().Err(err).Msg("server failed to shut down")
	}
}

func ServeHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("alive!"))
	})
}

func (s *Server) ServeREST() http.Handler {
	router := chi.NewRouter()
	router.Post("/reports", s.handlePostReports)
	router.Get("/violations", s.handleGetViolations)
	router.Get("/quotas", s.handleGetQuotas)
	return router
}

func (s *Server) handlePostReports(w http.ResponseWriter, r *http.Request) {
	var batch reports.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "decode report batch: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := reports.ApplyBatch(&batch, s.Registry); err != nil {
		// Valid records in the batch were applied; the caller still
		// needs to know the rest were not.
		s.Log.Error().Err(err).Str("server", batch.Server).Msg("apply report batch")
		http.Error(w, "apply report batch: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetViolations(w http.ResponseWriter, _ *http.Request) {
	body := struct {
		Tables     map[string]quota.ViolationState `json:"tables"`
		Namespaces map[string]quota.ViolationState `json:"namespaces"`
	}{
		Tables:     make(map[string]quota.ViolationState),
		Namespaces: s.States.NamespaceStates(),
	}
	for table, state := range s.States.TableStates() {
		body.Tables[table.String()] = state
	}
	s.writeJSON(w, body)
}

type quotaRecord struct {
	SubjectKind string `json:"subjectKind"`
	Subject     string `json:"subject"`
	LimitBytes  int64  `json:"limitBytes"`
	Policy      string `json:"policy,omitempty"`
}

func (s *Server) handleGetQuotas(w http.ResponseWriter, r *http.Request) {
	settings, err := s.Catalog.ListQuotas(r.Context())
	if err != nil {
		s.Log.Error().Err(err).Msg("list quotas")
		http.Error(w, "list quotas: "+err.Error(), http.StatusInternalServerError)
		return
	}
	records := make([]quotaRecord, 0, len(settings))
	for _, setting := range settings {
		record := quotaRecord{
			LimitBytes: setting.Quota.LimitBytes,
			Policy:     string(setting.Quota.Policy),
		}
		switch {
		case setting.Table != nil:
			record.SubjectKind = "table"
			record.Subject = setting.Table.String()
		case setting.Namespace != nil:
			record.SubjectKind = "namespace"
			record.Subject = *setting.Namespace
		}
		records = append(records, record)
	}
	s.writeJSON(w, struct {
		Quotas []quotaRecord `json:"quotas"`
	}{records})
}

func (s *Server) writeJSON(w http.ResponseWriter, body interface{}) {
	encoded, err := json.Marshal(body)
	if err != nil {
		s.Log.Error().Err(err).Msg("encode response body")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", JSONContentType)
	if _, err := w.Write(encoded); err != nil {
		s.Log.Error().Err(err).Int("bytes", len(encoded)).Msg("write response")
	}
}

func ServePPRof() http.Handler {
	router := chi.NewRouter()
	router.Get("/", http_pprof.Index)
	for _, profile := range pprof.Profiles() {
		name := profile.Name()
		handler := http_pprof.Handler(name)
		router.Handle("/"+name, handler)
	}
	router.Get("/cmdline", http_pprof.Cmdline)
	router.Get("/profile", http_pprof.Profile)
	router.Get("/symbol", http_pprof.Symbol)
	router.Get("/trace", http_pprof.Trace)

	return router
}
