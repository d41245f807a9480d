package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Server is the API server for searching documents and managing
// vectorization.
type Server struct {
	config    Config
	logger    *slog.Logger
	app       *fiber.App
	heartbeat time.Duration
}

// ErrorResponse is the body of every failed REST request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a new API server.
func NewServer(config Config, logger *slog.Logger) (*Server, error) {
	switch {
	case config.Dispatcher == nil:
		return nil, errors.New("tool dispatcher is required")
	case config.Engine == nil:
		return nil, errors.New("retrieval engine is required")
	case config.Scheduler == nil:
		return nil, errors.New("task scheduler is required")
	case config.Ingestor == nil:
		return nil, errors.New("ingestor is required")
	case config.Store == nil:
		return nil, errors.New("vector store is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		config:    config,
		logger:    logger,
		app:       app,
		heartbeat: config.StreamHeartbeat,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultStreamHeartbeat
	}

	app.Use(recover.New())
	app.Use(s.logRequests)

	app.Get("/ping", s.handlePing)

	app.Post("/rpc", s.handleRPC)
	app.Post("/rpc/stream", s.handleRPCStream)

	v1 := app.Group("/v1")
	v1.Get("/query/stream", s.handleQueryStream)
	v1.Get("/search", s.handleSearch)

	v1.Post("/documents", s.handleCreateDocument)
	v1.Get("/documents", s.handleListDocuments)
	v1.Get("/documents/:id", s.handleGetDocument)
	v1.Delete("/documents/:id", s.handleDeleteDocument)

	v1.Post("/tasks", s.handleCreateTask)
	v1.Get("/tasks", s.handleListTasks)
	v1.Get("/tasks/stats", s.handleTaskStats)
	v1.Get("/tasks/:id", s.handleGetTask)

	if config.MCPHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCPHandler))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}

// errorHandler renders unhandled errors, including unknown routes, as JSON.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
