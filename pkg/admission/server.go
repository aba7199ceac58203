// Copyright 2025 Certen Protocol
//
// Admission Service: the HTTP surface wiring every other component
// together — wire codec, object store, queue broker, pricing oracle,
// payment engine, and the service wallet — behind a chi router, grounded
// on the teacher's pkg/server mux style.

package admission

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/bundler/pkg/chain"
	"github.com/certen/bundler/pkg/config"
	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/inflight"
	"github.com/certen/bundler/pkg/objectstore"
	"github.com/certen/bundler/pkg/payment"
	"github.com/certen/bundler/pkg/pricing"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wallet"
)

// Server holds every dependency the admission HTTP surface needs and
// exposes a chi Router wiring them to routes.
type Server struct {
	db           *database.Client
	items        *database.ItemRepository
	offsets      *database.OffsetRepository
	store        *objectstore.Client
	broker       *queue.Broker
	oracle       *pricing.Oracle
	payments     *payment.Engine
	wallet       *wallet.Wallet
	inflight     *inflight.Cache
	chainGateway *chain.Gateway
	policy       *Policy
	sinks        *SinkSet

	deadlineIncrement int64
	dataCaches        []string

	logger *log.Logger
}

// Deps bundles the constructed dependencies a Server is built from.
type Deps struct {
	Config       *config.Config
	DB           *database.Client
	Repos        *database.Repositories
	Store        *objectstore.Client
	Broker       *queue.Broker
	Oracle       *pricing.Oracle
	Payments     *payment.Engine
	Wallet       *wallet.Wallet
	ChainGateway *chain.Gateway
	DataCaches   []string
	Logger       *log.Logger
}

// NewServer wires a Server from its dependencies.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[Admission] ", log.LstdFlags)
	}

	policy := NewPolicy(
		d.Config.AllowListedOwners,
		d.Config.BlockListedOwners,
		d.Config.OpticalSkipListOwners,
		d.Config.SpammerExactByteSize,
		d.Config.FreeUploadLimitBytes,
		d.Config.MaxSingleItemBytes,
		d.Config.OpticalBridgeEnabled,
	)

	sinks := &SinkSet{
		DataDir:  d.Config.DataDir,
		Store:    d.Store,
		HotCache: NewHotCache(),
	}

	return &Server{
		db:                d.DB,
		items:             d.Repos.Items,
		offsets:           d.Repos.Offsets,
		store:             d.Store,
		broker:            d.Broker,
		oracle:            d.Oracle,
		payments:          d.Payments,
		wallet:            d.Wallet,
		inflight:          inflight.New(5 * time.Minute),
		chainGateway:      d.ChainGateway,
		policy:            policy,
		sinks:             sinks,
		deadlineIncrement: d.Config.DeadlineHeightIncrement,
		dataCaches:        d.DataCaches,
		logger:            logger,
	}
}

// Router builds the chi mux for the admission HTTP surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tx", s.handleUpload)
		r.Get("/tx/{id}/status", s.handleItemStatus)
		r.Get("/tx/{id}/offsets", s.handleItemOffsets)
		r.Get("/price/x402/data-item/{token}/{byteCount}", s.handlePriceDataItem)
		r.Get("/price/x402/data/{token}/{byteCount}", s.handlePriceData)
		r.Get("/x402/price/{sigType}/{address}", s.handlePriceQuote)
		r.Get("/info", s.handleInfo)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger mirrors the teacher's plain *log.Logger request logging,
// adapted to chi's middleware signature.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Printf("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}
