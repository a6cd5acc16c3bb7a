// Package metrics holds the prometheus collectors shared by the catalog
// client, the lineage walker, the purge scheduler and the job watcher.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CatalogRequests counts remote catalog calls by operation and outcome code.
	CatalogRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogctl_catalog_requests_total",
			Help: "Total number of catalog API requests",
		},
		[]string{"op", "code"},
	)

	// CatalogRequestSeconds tracks catalog call latency, retries included.
	CatalogRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogctl_catalog_request_seconds",
			Help:    "Latency of catalog API calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"op"},
	)

	// PurgeDeleted counts successful deletions by kind (asset, relationship).
	PurgeDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogctl_purge_deleted_total",
			Help: "Total number of catalog objects deleted",
		},
		[]string{"kind"},
	)

	// PurgeRejected counts deletions that did not take effect, by reason.
	PurgeRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogctl_purge_rejected_total",
			Help: "Total number of deletions that did not take effect",
		},
		[]string{"kind", "reason"},
	)

	// PurgePasses counts completed search-and-delete passes.
	PurgePasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogctl_purge_passes_total",
			Help: "Total number of purge passes",
		},
	)

	// LineageVisited counts lineage records emitted by direction.
	LineageVisited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogctl_lineage_visited_total",
			Help: "Total number of lineage records emitted",
		},
		[]string{"direction"},
	)

	// LineageLoops counts back-edges skipped during traversal.
	LineageLoops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogctl_lineage_loops_total",
			Help: "Total number of lineage loops detected",
		},
		[]string{"direction"},
	)

	// JobPolls counts job status polls by observed status.
	JobPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogctl_job_polls_total",
			Help: "Total number of job status polls",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(CatalogRequests)
	prometheus.MustRegister(CatalogRequestSeconds)
	prometheus.MustRegister(PurgeDeleted)
	prometheus.MustRegister(PurgeRejected)
	prometheus.MustRegister(PurgePasses)
	prometheus.MustRegister(LineageVisited)
	prometheus.MustRegister(LineageLoops)
	prometheus.MustRegister(JobPolls)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
