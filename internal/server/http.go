package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"marketForecast/internal/storage"
)

type RunLister interface {
	RecentRuns(limit int) ([]storage.Run, error)
}

// Deps are the handlers' collaborators. Nil fields leave their routes unregistered.
type Deps struct {
	Gatherer   prometheus.Gatherer
	ReportsDir string
	Runs       RunLister
	Webhook    http.HandlerFunc
}

func NewHTTPMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })
	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if d.ReportsDir != "" {
		mux.Handle("/reports/", http.StripPrefix("/reports/", http.FileServer(http.Dir(d.ReportsDir))))
	}
	if d.Runs != nil {
		mux.HandleFunc("/runs", runsHandler(d.Runs))
	}
	if d.Webhook != nil {
		mux.HandleFunc("/telegram/webhook", d.Webhook)
	}
	return mux
}

type runView struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Tickers    string     `json:"tickers"`
	Target     string     `json:"target"`
	Horizon    int        `json:"horizon"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

func runsHandler(runs RunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 500 {
				http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
				return
			}
			limit = n
		}
		list, err := runs.RecentRuns(limit)
		if err != nil {
			log.Error().Err(err).Msg("http: list runs")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		out := make([]runView, 0, len(list))
		for _, run := range list {
			v := runView{ID: run.ID, StartedAt: run.StartedAt, Tickers: run.Tickers, Target: run.Target,
				Horizon: run.Horizon, Status: run.Status, Error: run.Error}
			if !run.FinishedAt.IsZero() {
				f := run.FinishedAt
				v.FinishedAt = &f
			}
			out = append(out, v)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
