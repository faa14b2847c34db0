package user

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	userrepo "github.com/MichalRedm/distributed-library-system/repository/user"
	us "github.com/MichalRedm/distributed-library-system/service/user"
)

type CreateUserReq struct {
	Username string `json:"username" validate:"required"`
}

type Controller struct {
	Svc us.Service
	V   *validator.Validate
	Log *slog.Logger
}

// POST /users
func (h *Controller) Create(c echo.Context) error {
	var req CreateUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "INVALID_JSON", "message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"code":    "VALIDATION_ERROR",
			"message": err.Error(),
		})
	}

	user, err := h.Svc.Create(c.Request().Context(), req.Username)
	if err != nil {
		if errors.Is(err, userrepo.ErrUsernameTaken) {
			return c.JSON(http.StatusConflict, echo.Map{"code": "USERNAME_TAKEN", "message": "username already exists"})
		}
		h.Log.Error("user create", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
	return c.JSON(http.StatusCreated, user)
}

// GET /users/:id
func (h *Controller) Detail(c echo.Context) error {
	user, err := h.Svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"code": "USER_NOT_FOUND", "message": "user not found"})
		}
		h.Log.Error("user detail", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
	return c.JSON(http.StatusOK, user)
}

// GET /users
func (h *Controller) List(c echo.Context) error {
	users, err := h.Svc.List(c.Request().Context())
	if err != nil {
		h.Log.Error("user list", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": "INTERNAL", "message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users":       users,
		"total_count": len(users),
	})
}
