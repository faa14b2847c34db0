// Package main distributed library reservation API.
//
// @title           Library Reservation API
// @version         1.0
// @description     Reservation consistency core: books, users, reservations with CAS-guarded checkout.
// @BasePath        /
// @schemes         http
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/MichalRedm/distributed-library-system/app/echoServer"
	bookctrl "github.com/MichalRedm/distributed-library-system/app/echoServer/controller/book"
	resvctrl "github.com/MichalRedm/distributed-library-system/app/echoServer/controller/reservation"
	userctrl "github.com/MichalRedm/distributed-library-system/app/echoServer/controller/user"
	"github.com/MichalRedm/distributed-library-system/app/echoServer/validation"
	"github.com/MichalRedm/distributed-library-system/config"
	"github.com/MichalRedm/distributed-library-system/notify"
	"github.com/MichalRedm/distributed-library-system/recordstore"
	bookrepo "github.com/MichalRedm/distributed-library-system/repository/book"
	resvrepo "github.com/MichalRedm/distributed-library-system/repository/reservation"
	userrepo "github.com/MichalRedm/distributed-library-system/repository/user"
	booksvc "github.com/MichalRedm/distributed-library-system/service/book"
	resvsvc "github.com/MichalRedm/distributed-library-system/service/reservation"
	usersvc "github.com/MichalRedm/distributed-library-system/service/user"
	"github.com/MichalRedm/distributed-library-system/util/database"
	"github.com/MichalRedm/distributed-library-system/util/httpx"
)

func main() {

	cfg := config.Load()
	ctx := context.Background()

	// logger
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// DB: pgx pool behind the record store
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := recordstore.NewPostgresStore(db.Pool,
		recordstore.WithTableName(cfg.RecordTable),
		recordstore.WithLogger(log),
	)

	// repos
	br := bookrepo.New(store)
	ur := userrepo.New(store)
	rr := resvrepo.New(store)

	// notification port: log sink + websocket hub (+ optional webhook)
	hub := notify.NewHub(log)
	go hub.Run()
	sinks := []notify.Notifier{&notify.LogNotifier{Log: log}, hub}
	if cfg.InvalidationWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.InvalidationWebhookURL, httpx.Client(), log))
	}
	notifier := notify.NewFanout(sinks...)

	// reconciler + services
	reconciler := resvsvc.NewReconciler(br, rr, notifier, log, cfg.ReconcileInterval, cfg.ReconcileQuiet)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	rs := resvsvc.NewWithTracker(br, ur, rr, notifier, log, reconciler)
	bs := booksvc.New(br, rr)
	us := usersvc.New(ur)

	// controllers
	v := validator.New()
	bookC := &bookctrl.Controller{Svc: bs, V: v, Log: log}
	userC := &userctrl.Controller{Svc: us, V: v, Log: log}
	resvC := &resvctrl.Controller{Svc: rs, V: v, Log: log}

	// echo
	e := echo.New()
	echoServer.RegisterMiddlewares(e)
	e.Validator = validation.New()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"message": "Service is healthy and connected",
		})
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	echoServer.Register(e, echoServer.C{
		Book:        bookC,
		User:        userC,
		Reservation: resvC,
		Hub:         hub,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}

	slog.Info("starting server", "port", port, "env", cfg.Env)

	e.Logger.Fatal(e.Start(":" + port))
}
