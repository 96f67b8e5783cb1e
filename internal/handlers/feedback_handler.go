package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/theoneapp/theone-backend/internal/dto"
	"github.com/theoneapp/theone-backend/internal/middleware"
	"github.com/theoneapp/theone-backend/internal/services"
)

type FeedbackHandler struct {
	feedbackService *services.FeedbackService
}

func NewFeedbackHandler(feedbackService *services.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedbackService: feedbackService}
}

func (h *FeedbackHandler) Create(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.CreateFeedbackRequest
	if err := parseAndValidate(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	feedback, err := h.feedbackService.Create(userID, &req)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(feedback)
}

func (h *FeedbackHandler) ListMine(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	items, err := h.feedbackService.ListByUser(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list feedback",
		})
	}
	return c.JSON(fiber.Map{"feedback": items, "count": len(items)})
}

func (h *FeedbackHandler) ListAll(c *fiber.Ctx) error {
	status := c.Query("status")
	limit := c.QueryInt("limit", 100)

	items, err := h.feedbackService.ListAll(status, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list feedback",
		})
	}
	return c.JSON(fiber.Map{"feedback": items, "count": len(items)})
}

func (h *FeedbackHandler) Update(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid feedback id")
	}

	var req dto.UpdateFeedbackRequest
	if err := parseAndValidate(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	feedback, err := h.feedbackService.Update(id, &req)
	if err != nil {
		if errors.Is(err, services.ErrFeedbackNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to update feedback",
		})
	}
	return c.JSON(feedback)
}
