package janitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var sweptGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "janitor_last_sweep_removed",
	Help: "number of stale requests removed by the last sweep",
})

type Sweeper interface {
	ExpireStale(context.Context) (int, error)
}

type Server struct {
	port     string
	sweeper  Sweeper
	interval time.Duration
	logger   *zerolog.Logger
}

// NewServer builds the sweep loop. With an empty port no health or metrics
// endpoint is served, which is how the exchange service embeds it.
func NewServer(port string, sweeper Sweeper, interval time.Duration, logger *zerolog.Logger) *Server {
	return &Server{
		port:     port,
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

func (svc *Server) Run(ctx context.Context) error {
	if svc.port != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusOK)
			_, err := writer.Write([]byte("healthy"))
			if err != nil {
				return
			}
		})
		mux.Handle("/metrics", promhttp.Handler())

		httpServer := &http.Server{Addr: svc.port, Handler: mux}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				svc.logger.Err(err).Msg("janitor metrics endpoint stopped")
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				svc.logger.Err(err).Msg("failed to gracefully shutdown janitor metrics endpoint")
			}
		}()
	}

	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			svc.Sweep(ctx)
		}
	}
}

func (svc *Server) Sweep(ctx context.Context) {
	removed, err := svc.sweeper.ExpireStale(ctx)
	if err != nil {
		svc.logger.Err(err).Msg("unable to expire stale requests")
		return
	}

	sweptGauge.Set(float64(removed))
}
