package http

import (
	"context"
	"net/http"
	"time"

	"dccgate/internal/config"
	"dccgate/internal/domain"
	"dccgate/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RevocationSyncer interface {
	Execute(ctx context.Context) (usecase.RevocationSyncResult, error)
}

type TrustSyncer interface {
	Execute(ctx context.Context) (usecase.TrustSyncResult, error)
}

type RevocationLister interface {
	ListEntries(ctx context.Context) ([]domain.RevocationEntry, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg config.Config
	r   *gin.Engine

	verifyUC       *usecase.VerifyCertificate
	decoder        usecase.CertificateDecoder
	revocationSync RevocationSyncer
	trustSync      TrustSyncer
	revocations    RevocationLister
	database       Pinger
	metrics        http.Handler
	logger         logrus.FieldLogger

	adminAPIKey string
}

type ServerDeps struct {
	Verify         *usecase.VerifyCertificate
	Decoder        usecase.CertificateDecoder
	RevocationSync RevocationSyncer
	TrustSync      TrustSyncer
	Revocations    RevocationLister
	Database       Pinger
	Metrics        http.Handler
	Logger         logrus.FieldLogger
	AdminAPIKey    string
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:            cfg,
		r:              r,
		verifyUC:       deps.Verify,
		decoder:        deps.Decoder,
		revocationSync: deps.RevocationSync,
		trustSync:      deps.TrustSync,
		revocations:    deps.Revocations,
		database:       deps.Database,
		metrics:        deps.Metrics,
		logger:         logger.WithField("component", "http"),
		adminAPIKey:    deps.AdminAPIKey,
	}
	if s.adminAPIKey == "" {
		s.adminAPIKey = cfg.AdminAPIKey
	}
	if s.decoder == nil && s.verifyUC != nil {
		s.decoder = s.verifyUC.Decoder
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.r.Group("/v1")
	{
		v1.GET("/revocation/lists", s.handleListRevocations)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
