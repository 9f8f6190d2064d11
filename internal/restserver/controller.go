// Package restserver exposes the monitoring daemon's HTTP surface: health,
// latest readings, serial status, and on-demand explanations.
package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/riverwatch/floodsentry/internal/features"
	"github.com/riverwatch/floodsentry/internal/inference"
	"github.com/riverwatch/floodsentry/internal/log"
	"github.com/riverwatch/floodsentry/internal/serial"
	"github.com/riverwatch/floodsentry/internal/storage"
	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

// StatusProvider reports the transport manager's connection snapshot.
type StatusProvider interface {
	Status() types.ConnectionStatus
}

// Narrator produces an LLM narrative for a stored reading.
type Narrator interface {
	Explain(ctx context.Context, sample types.CanonicalSample, riskClass int, probability float64) (string, error)
}

// StreamingNarrator is optionally implemented by narrators that can deliver
// the narrative incrementally.
type StreamingNarrator interface {
	ExplainStream(ctx context.Context, sample types.CanonicalSample, riskClass int, probability float64, emit func(chunk string)) (string, error)
}

// Contributor produces ranked per-feature contributions for a feature vector.
type Contributor interface {
	Explain(ctx context.Context, fv types.FeatureVector, topK int) (*inference.Explanation, error)
}

// Labeler maps a risk class index to its human-readable label.
type Labeler interface {
	Label(class int) string
}

// Deps bundles the collaborators the HTTP handlers read from. Narrator and
// Contributor may be nil; their endpoints then return 503.
type Deps struct {
	Store       storage.Store
	Serial      StatusProvider
	Window      *features.Window
	Narrator    Narrator
	Contributor Contributor
	Labeler     Labeler
}

// Controller represents the REST server controller
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	restConfig config.RESTData
	Server     http.Server
	deps       Deps
	logger     *zap.SugaredLogger
	handlers   *Handlers

	// listPorts is swappable so handler tests don't scan /dev.
	listPorts func() []types.PortInfo
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, rc config.RESTData, deps Deps, logger *zap.SugaredLogger) (*Controller, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("REST server requires a storage backend")
	}

	ctrl := &Controller{
		ctx:        ctx,
		wg:         wg,
		restConfig: rc,
		deps:       deps,
		logger:     logger,
		listPorts:  serial.ListAvailablePorts,
	}

	ctrl.handlers = NewHandlers(ctrl)

	router := ctrl.setupRouter()
	ctrl.Server.Addr = fmt.Sprintf("%v:%v", rc.ListenAddr, rc.Port)
	ctrl.Server.Handler = router

	return ctrl, nil
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	log.Info("Starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("REST server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the REST server...")
		c.Server.Shutdown(context.Background())
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(c.requestLogMiddleware)

	router.HandleFunc("/health", c.handlers.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", c.handlers.GetReady).Methods(http.MethodGet)
	router.HandleFunc("/latest", c.handlers.GetLatest).Methods(http.MethodGet)
	router.HandleFunc("/serial/status", c.handlers.GetSerialStatus).Methods(http.MethodGet)
	router.HandleFunc("/serial/ports", c.handlers.GetSerialPorts).Methods(http.MethodGet)
	router.HandleFunc("/explain/latest", c.handlers.GetFeatureExplanation).Methods(http.MethodGet)
	router.HandleFunc("/llm/explain/latest", c.handlers.GetNarrativeExplanation).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

// requestLogMiddleware tags each request with a UUID and logs it.
func (c *Controller) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)
		c.logger.Debugw("handling request",
			"request_id", requestID,
			"method", req.Method,
			"path", req.URL.Path,
			"remote", req.RemoteAddr)
		next.ServeHTTP(w, req)
	})
}
