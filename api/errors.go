package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/vector"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeDuplicateTask = -32001
	CodeProviderError = -32002
	CodeStorageError  = -32003
)

func isInvalidParams(err error) bool {
	return errors.Is(err, tools.ErrInvalidParams) ||
		errors.Is(err, vector.ErrInvalidArgument) ||
		errors.Is(err, embeddings.ErrInvalidInput) ||
		errors.Is(err, vector.ErrNotFound) ||
		errors.Is(err, vectorize.ErrTaskNotFound)
}

// rpcCode maps a tool error to its JSON-RPC error code.
func rpcCode(err error) int {
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return CodeMethodNotFound
	case isInvalidParams(err):
		return CodeInvalidParams
	case errors.Is(err, vectorize.ErrDuplicateTask):
		return CodeDuplicateTask
	case errors.Is(err, embeddings.ErrProviderUnavailable), errors.Is(err, embeddings.ErrRateLimited):
		return CodeProviderError
	case errors.Is(err, vector.ErrStorage):
		return CodeStorageError
	default:
		return CodeInternalError
	}
}

// httpStatus maps a domain error to a REST status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, vector.ErrNotFound), errors.Is(err, vectorize.ErrTaskNotFound), errors.Is(err, tools.ErrToolNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, vectorize.ErrDuplicateTask):
		return fiber.StatusConflict
	case errors.Is(err, vectorize.ErrQueueFull), errors.Is(err, vectorize.ErrSchedulerClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, embeddings.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, embeddings.ErrProviderUnavailable):
		return fiber.StatusBadGateway
	case errors.Is(err, tools.ErrInvalidParams),
		errors.Is(err, vector.ErrInvalidArgument),
		errors.Is(err, embeddings.ErrInvalidInput),
		errors.Is(err, ingest.ErrMissingFilename),
		errors.Is(err, ingest.ErrBlankChunk),
		errors.Is(err, ingest.ErrUnsupportedContent):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse with the status it maps to.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := httpStatus(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}
