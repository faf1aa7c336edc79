package exchange

import (
	"errors"
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"cashlink/internal/services/exchange/handlers"
)

type Server struct {
	port     string
	engine   *echo.Echo
	handlers handlers.ServerHandler

	// verifyRate is verify-otp requests per second allowed per client IP.
	verifyRate float64
}

func NewServer(port string, engine *echo.Echo, handlers handlers.ServerHandler, verifyRate float64) *Server {
	return &Server{
		port:       port,
		engine:     engine,
		handlers:   handlers,
		verifyRate: verifyRate,
	}
}

// Register mounts every route on the engine.
func (svc *Server) Register() {
	svc.engine.GET("/health", svc.handlers.CheckHealth)
	svc.engine.GET("/metrics", echoprometheus.NewHandler())

	var verifyMiddleware []echo.MiddlewareFunc
	if svc.verifyRate > 0 {
		store := middleware.NewRateLimiterMemoryStore(rate.Limit(svc.verifyRate))
		verifyMiddleware = append(verifyMiddleware, middleware.RateLimiter(store))
	}

	svc.engine.POST("/submit", svc.handlers.SubmitRequest)
	svc.engine.GET("/match", svc.handlers.MatchStatus)
	svc.engine.GET("/verify", svc.handlers.VerifyDetails)
	svc.engine.POST("/verify-otp", svc.handlers.VerifyOTP, verifyMiddleware...)
	svc.engine.GET("/chat", svc.handlers.Chat)
	svc.engine.GET("/ws", svc.handlers.Connection)
}

func (svc *Server) Run() error {
	svc.Register()

	if err := svc.engine.Start(svc.port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
