package reservation

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	rs "github.com/MichalRedm/distributed-library-system/service/reservation"
)

type Controller struct {
	Svc rs.Service
	V   *validator.Validate
	Log *slog.Logger
}

// POST /reservations
func (h *Controller) Create(c echo.Context) error {
	var req CreateReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "INVALID_JSON", "message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"code":    "VALIDATION_ERROR",
			"message": err.Error(),
		})
	}

	resv, err := h.Svc.Checkout(c.Request().Context(), req.UserID, req.BookID)
	if err != nil {
		return h.mapError(c, err, "reservation create")
	}
	return c.JSON(http.StatusCreated, resv)
}

// GET /reservations/:id
func (h *Controller) Detail(c echo.Context) error {
	resv, err := h.Svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapError(c, err, "reservation detail")
	}
	return c.JSON(http.StatusOK, resv)
}

// PUT /reservations/:id: mark returned or extend the deadline, never both.
func (h *Controller) Update(c echo.Context) error {
	var req UpdateReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "INVALID_JSON", "message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"code":    "VALIDATION_ERROR",
			"message": err.Error(),
		})
	}
	if (req.Status == nil) == (req.ReturnDeadline == nil) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"code":    "INVALID_REQUEST",
			"message": "provide exactly one of status or return_deadline",
		})
	}

	id := c.Param("id")
	if req.Status != nil {
		resv, err := h.Svc.Return(c.Request().Context(), id)
		if err != nil {
			return h.mapError(c, err, "reservation return")
		}
		return c.JSON(http.StatusOK, resv)
	}

	resv, err := h.Svc.Extend(c.Request().Context(), id, req.ReturnDeadline.UTC())
	if err != nil {
		return h.mapError(c, err, "reservation extend")
	}
	return c.JSON(http.StatusOK, resv)
}

// DELETE /reservations/bulk
func (h *Controller) BulkCancel(c echo.Context) error {
	var req BulkCancelReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "INVALID_JSON", "message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"code":    "VALIDATION_ERROR",
			"message": err.Error(),
		})
	}

	result, err := h.Svc.BulkCancel(c.Request().Context(), req.ReservationIDs)
	if err != nil {
		return h.mapError(c, err, "bulk cancel")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":         fmt.Sprintf("Successfully cancelled %d reservations", result.CancelledCount),
		"cancelled_count": result.CancelledCount,
		"total_requested": result.TotalRequested,
	})
}

// GET /users/:id/reservations
func (h *Controller) ListByUser(c echo.Context) error {
	userID := c.Param("id")
	rows, err := h.Svc.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return h.mapError(c, err, "list by user")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":      userID,
		"reservations": rows,
		"total_count":  len(rows),
	})
}

// GET /books/:id/reservations
func (h *Controller) ListByBook(c echo.Context) error {
	bookID := c.Param("id")
	rows, err := h.Svc.ListByBook(c.Request().Context(), bookID)
	if err != nil {
		return h.mapError(c, err, "list by book")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"book_id":      bookID,
		"reservations": rows,
		"total_count":  len(rows),
	})
}

func (h *Controller) mapError(c echo.Context, err error, op string) error {
	code := rs.Code(err)
	switch code {
	case rs.ErrUserNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"code": code, "message": "user not found"})
	case rs.ErrBookNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"code": code, "message": "book not found"})
	case rs.ErrReservationNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"code": code, "message": "reservation not found"})
	case rs.ErrUnavailable:
		return c.JSON(http.StatusConflict, echo.Map{"code": code, "message": "book is not available for reservation"})
	case rs.ErrDuplicateReservation:
		return c.JSON(http.StatusConflict, echo.Map{"code": code, "message": "user already has an active reservation for this book"})
	case rs.ErrInvalidState:
		return c.JSON(http.StatusConflict, echo.Map{"code": code, "message": "reservation is not in a state that allows this operation"})
	case rs.ErrRepairNeeded:
		h.Log.Error(op, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": code, "message": "reservation state requires reconciliation"})
	default:
		h.Log.Error(op, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
}
