package book

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	bookrepo "github.com/MichalRedm/distributed-library-system/repository/book"
	bs "github.com/MichalRedm/distributed-library-system/service/book"
)

type Controller struct {
	Svc bs.Service
	V   *validator.Validate
	Log *slog.Logger
}

// POST /books
func (h *Controller) Create(c echo.Context) error {
	var req CreateBookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "INVALID_JSON", "message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"code":    "VALIDATION_ERROR",
			"message": err.Error(),
		})
	}

	book, err := h.Svc.Create(c.Request().Context(), req.Title)
	if err != nil {
		h.Log.Error("book create", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
	return c.JSON(http.StatusCreated, book)
}

// GET /books?available=true
func (h *Controller) List(c echo.Context) error {
	availableOnly := c.QueryParam("available") == "true"
	books, err := h.Svc.List(c.Request().Context(), availableOnly)
	if err != nil {
		h.Log.Error("book list", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"books":       books,
		"total_count": len(books),
	})
}

// GET /books/:id
func (h *Controller) Detail(c echo.Context) error {
	book, err := h.Svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, bookrepo.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"code": "BOOK_NOT_FOUND", "message": "book not found"})
		}
		h.Log.Error("book detail", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
	return c.JSON(http.StatusOK, book)
}

// GET /books/:id/availability
func (h *Controller) Availability(c echo.Context) error {
	av, err := h.Svc.Availability(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, bookrepo.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"code": "BOOK_NOT_FOUND", "message": "book not found"})
		}
		h.Log.Error("book availability", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
	return c.JSON(http.StatusOK, av)
}
