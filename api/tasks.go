package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/quarry/pkg/vectorize"
)

// TaskRequest is the body of POST /v1/tasks. Chunks win over Text; with
// neither the stored document content is chunked.
type TaskRequest struct {
	DocumentID int64    `json:"document_id"`
	Text       string   `json:"text,omitempty"`
	Chunks     []string `json:"chunks,omitempty"`
}

// TaskList is the body of GET /v1/tasks.
type TaskList struct {
	Tasks      []vectorize.Task `json:"tasks"`
	TotalTasks int              `json:"total_tasks"`
}

// handleCreateTask queues vectorization of an existing document.
func (s *Server) handleCreateTask(c *fiber.Ctx) error {
	var req TaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid task body")
	}
	if req.DocumentID < 1 {
		return badRequest(c, "document_id is required")
	}

	res, err := s.config.Ingestor.Vectorize(c.UserContext(), req.DocumentID, req.Text, req.Chunks)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (s *Server) handleListTasks(c *fiber.Ctx) error {
	tasks := s.config.Scheduler.List()
	return c.JSON(TaskList{Tasks: tasks, TotalTasks: len(tasks)})
}

func (s *Server) handleGetTask(c *fiber.Ctx) error {
	task, err := s.config.Scheduler.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(task)
}

func (s *Server) handleTaskStats(c *fiber.Ctx) error {
	return c.JSON(s.config.Scheduler.Stats())
}
