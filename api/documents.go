package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/ingest"
)

// handleCreateDocument stores a text document and queues its vectorization.
func (s *Server) handleCreateDocument(c *fiber.Ctx) error {
	var doc ingest.Document
	if err := c.BodyParser(&doc); err != nil {
		return badRequest(c, "invalid document body")
	}

	res, err := s.config.Ingestor.Ingest(c.UserContext(), doc)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (s *Server) handleListDocuments(c *fiber.Ctx) error {
	docs, err := s.config.Engine.ListDocuments(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(tools.DocumentList{Documents: docs, TotalDocuments: len(docs)})
}

func (s *Server) handleGetDocument(c *fiber.Ctx) error {
	id, err := documentID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	detail, err := s.config.Engine.GetDocument(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(detail)
}

// handleDeleteDocument removes a document and its chunks.
func (s *Server) handleDeleteDocument(c *fiber.Ctx) error {
	id, err := documentID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := s.config.Store.DeleteDocument(c.UserContext(), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func documentID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid document id")
	}
	return id, nil
}
