package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/service"
)

func RegisterRoutes(app *fiber.App, searchSvc service.SearchService) {
	search := app.Group("/api/search")
	NewSearchHandler(searchSvc).Register(search)
	NewHealthHandler(searchSvc).Register(search)
}

// ErrorHandler renders every error as {"error": message}. Errors that are
// not *fiber.Error become a bare 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, msg = fe.Code, fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
