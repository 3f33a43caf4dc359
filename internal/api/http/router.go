package http

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/edirooss/zlog/internal/logservice"
)

// Server wraps a gin engine and an http.Server serving the zlog API over a
// Service.
type Server struct {
	log    *zap.Logger
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds a Server bound to addr, serving svc.
func NewServer(logger *zap.Logger, svc *logservice.Service, addr string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("http")

	binding.EnableDecoderDisallowUnknownFields = true
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})
	r.Use(gin.Recovery())

	if os.Getenv("ZLOG_ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(requestID())
	r.Use(zapLogger(log))

	h := &handlers{log: log, svc: svc}
	registerRoutes(r, h)

	return &Server{
		log:    log,
		engine: r,
		http: &http.Server{
			Addr:           addr,
			Handler:        r,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 15,
			ErrorLog:       zap.NewStdLog(log.WithOptions(zap.AddCallerSkip(1))),
		},
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.log.Info("running HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func registerRoutes(r *gin.Engine, h *handlers) {
	v1 := r.Group("/v1")
	v1.POST("/logs/:name", h.createLog)
	v1.POST("/logs/:name/entries", h.appendEntry)
	v1.GET("/logs/:name/entries/:position", h.readEntry)
	v1.POST("/logs/:name/trim", h.trimLog)
	v1.GET("/logs/:name/view", h.viewLog)
}
