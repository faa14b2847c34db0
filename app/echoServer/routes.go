package echoServer

import (
	"github.com/labstack/echo/v4"

	"github.com/MichalRedm/distributed-library-system/app/echoServer/controller/book"
	"github.com/MichalRedm/distributed-library-system/app/echoServer/controller/reservation"
	"github.com/MichalRedm/distributed-library-system/app/echoServer/controller/user"
	"github.com/MichalRedm/distributed-library-system/notify"
)

type C struct {
	Book        *book.Controller
	User        *user.Controller
	Reservation *reservation.Controller
	Hub         *notify.Hub
}

func Register(e *echo.Echo, c C) {
	// Users
	e.POST("/users", c.User.Create)
	e.GET("/users", c.User.List)
	e.GET("/users/:id", c.User.Detail)
	e.GET("/users/:id/reservations", c.Reservation.ListByUser)

	// Books
	e.POST("/books", c.Book.Create)
	e.GET("/books", c.Book.List)
	e.GET("/books/:id", c.Book.Detail)
	e.GET("/books/:id/availability", c.Book.Availability)
	e.GET("/books/:id/reservations", c.Reservation.ListByBook)

	// Reservations
	e.POST("/reservations", c.Reservation.Create)
	e.GET("/reservations/:id", c.Reservation.Detail)
	e.PUT("/reservations/:id", c.Reservation.Update)
	e.DELETE("/reservations/bulk", c.Reservation.BulkCancel)

	// Invalidation push for read-side caches
	if c.Hub != nil {
		e.GET("/ws/invalidations", func(ctx echo.Context) error {
			return c.Hub.ServeWS(ctx.Response(), ctx.Request())
		})
	}
}
