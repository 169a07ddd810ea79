package http

import (
	"context"
	"net/http"

	"sealreg/internal/config"
	"sealreg/internal/infra/db"
	"sealreg/internal/infra/lease"
	"sealreg/internal/infra/logging"
	"sealreg/internal/infra/renderer"
	"sealreg/internal/infra/storage"
	"sealreg/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Server struct {
	cfg    config.Config
	store  *db.Store
	r      *gin.Engine
	logger logrus.FieldLogger

	envelopes *usecase.EnvelopeManager
	sealer    *usecase.ArchivalSealer
	resolver  *usecase.VerificationResolver

	rateLimiter RateLimiter

	initErr error
}

func NewServer(cfg config.Config, store *db.Store, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	s := &Server{cfg: cfg, store: store, logger: logger}
	s.r = s.engine()
	s.initDeps()
	s.initRateLimit(nil)
	s.routes()
	return s
}

type ServerDeps struct {
	Envelopes   *usecase.EnvelopeManager
	Sealer      *usecase.ArchivalSealer
	Resolver    *usecase.VerificationResolver
	Store       *db.Store
	Logger      logrus.FieldLogger
	RateLimiter RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		logger:    logger,
		envelopes: deps.Envelopes,
		sealer:    deps.Sealer,
		resolver:  deps.Resolver,
	}
	s.r = s.engine()
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(s.logger))
	return r
}

// initDeps wires repositories and collaborators from configuration. Optional
// collaborators (renderer, lease) stay nil when unconfigured.
func (s *Server) initDeps() {
	gdb := s.dbHandle()
	ledger := db.NewLedgerRepository(gdb)
	envelopes := db.NewEnvelopeRepository(gdb)
	registry := db.NewRegistryRepository(gdb)

	objects, err := storage.New(context.Background(), s.cfg)
	if err != nil {
		s.logger.WithError(err).Error("object storage unavailable")
		s.initErr = err
		return
	}

	var seals usecase.SealProcedure = db.NewLocalSealProcedure(gdb)
	if s.cfg.SealProcedure != "" {
		proc, err := db.NewSealProcedure(gdb, s.cfg.SealProcedure)
		if err != nil {
			s.initErr = err
			return
		}
		seals = proc
	}
	var canonical usecase.CanonicalResolver = db.NewLocalCanonicalResolver(gdb)
	if s.cfg.ResolveProcedure != "" {
		proc, err := db.NewCanonicalResolver(gdb, s.cfg.ResolveProcedure)
		if err != nil {
			s.initErr = err
			return
		}
		canonical = proc
	}

	var render usecase.Renderer
	if s.cfg.RendererURL != "" {
		client, err := renderer.NewClient(s.cfg.RendererURL, s.cfg.RendererToken, &http.Client{Timeout: s.cfg.DependencyTimeout()})
		if err != nil {
			s.initErr = err
			return
		}
		render = client
	}
	var renderLease usecase.RenderLease
	if s.cfg.RedisAddr != "" {
		l, err := lease.NewRedis(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, s.cfg.RenderLeaseTTL())
		if err != nil {
			s.logger.WithError(err).Warn("render lease disabled")
		} else {
			renderLease = l
		}
	}

	timeout := s.cfg.DependencyTimeout()
	s.envelopes = &usecase.EnvelopeManager{
		Ledger:            ledger,
		Envelopes:         envelopes,
		Renderer:          render,
		Storage:           objects,
		Lease:             renderLease,
		Logger:            s.logger,
		DependencyTimeout: timeout,
	}
	s.sealer = &usecase.ArchivalSealer{
		Ledger:            ledger,
		Envelopes:         envelopes,
		Registry:          registry,
		Seals:             seals,
		Storage:           objects,
		Logger:            s.logger,
		DefaultEntitySlug: s.cfg.DefaultEntitySlug,
		DependencyTimeout: timeout,
	}
	s.resolver = &usecase.VerificationResolver{
		Canonical:         canonical,
		Registry:          registry,
		Envelopes:         envelopes,
		Ledger:            ledger,
		Storage:           objects,
		Logger:            s.logger,
		DependencyTimeout: timeout,
		DefaultExpiry:     s.cfg.SignedURLDefault(),
	}
}

func (s *Server) dbHandle() *gorm.DB {
	if s.store == nil {
		return nil
	}
	return s.store.DB
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	v1 := s.r.Group("/v1")
	v1.POST("/envelopes", s.handleCreateEnvelope)
	v1.POST("/envelopes/seal", s.handleSeal)
	v1.POST("/envelopes/:id/parties", s.handleAddParties)
	v1.POST("/envelopes/:id/parties/status", s.handlePartyStatus)
	v1.POST("/envelopes/:id/signed", s.handleAttachSigned)
	v1.POST("/envelopes/:id/cancel", s.handleCancel)
	v1.POST("/envelopes/:id/base-document", s.handleBaseDocument)
	v1.POST("/resolve", s.limitPublic("resolve"), s.handleResolve)
	v1.GET("/verify", s.limitPublic("verify"), s.handleVerify)
	v1.GET("/certificate", s.limitPublic("certificate"), s.handleCertificate)

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.r.Run(s.cfg.HTTPAddr)
}
