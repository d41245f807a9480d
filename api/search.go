package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/quarry/pkg/retrieval"
)

// handleSearch answers GET /v1/search with the same body as rag_search.
func (s *Server) handleSearch(c *fiber.Ctx) error {
	params, err := searchParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := s.config.Engine.Search(c.UserContext(), retrieval.Request{
		Query:       params.Query,
		Limit:       params.Limit,
		Threshold:   params.Threshold,
		DocumentIDs: params.DocumentIDs,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(resp)
}
