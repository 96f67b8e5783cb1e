package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/theoneapp/theone-backend/internal/appstore"
	"github.com/theoneapp/theone-backend/internal/catalog"
	"github.com/theoneapp/theone-backend/internal/dto"
	"github.com/theoneapp/theone-backend/internal/middleware"
	"github.com/theoneapp/theone-backend/internal/services"
)

type PurchaseHandler struct {
	purchaseService *services.PurchaseService
}

func NewPurchaseHandler(purchaseService *services.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchaseService: purchaseService}
}

func (h *PurchaseHandler) Validate(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.PurchaseValidationRequest
	if err := parseAndValidate(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := h.purchaseService.ValidatePurchase(c.UserContext(), userID, &req)
	if err != nil {
		return purchaseError(c, err)
	}
	return c.JSON(resp)
}

func (h *PurchaseHandler) Restore(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.RestorePurchasesRequest
	if err := parseAndValidate(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := h.purchaseService.RestorePurchases(c.UserContext(), userID, &req)
	if err != nil {
		return purchaseError(c, err)
	}
	return c.JSON(resp)
}

func (h *PurchaseHandler) List(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	limit := c.QueryInt("limit", 50)
	purchases, err := h.purchaseService.ListByUser(c.UserContext(), userID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list purchases",
		})
	}
	return c.JSON(fiber.Map{"purchases": purchases, "count": len(purchases)})
}

// purchaseError maps the engine's error taxonomy onto HTTP statuses.
// Rejections are 4xx; Apple being unreachable is a 503 the client may retry.
func purchaseError(c *fiber.Ctx, err error) error {
	var vErr *appstore.ValidationError
	var sErr *appstore.ServiceError

	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case errors.Is(err, services.ErrPurchaseOwnedByOther):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case errors.Is(err, services.ErrMissingCredential):
		return badRequest(c, err.Error())
	case errors.As(err, &vErr):
		return badRequest(c, vErr.Error())
	case errors.As(err, &sErr):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Purchase validation is temporarily unavailable",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Internal server error",
		})
	}
}
