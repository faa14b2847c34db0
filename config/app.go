package config

import "time"

type App struct {
	Port        string `env:"APP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	Env         string `env:"APP_ENV" envDefault:"dev"`

	// Record store
	RecordTable string `env:"RECORD_TABLE" envDefault:"records"`

	// Notification port
	InvalidationWebhookURL string `env:"INVALIDATION_WEBHOOK_URL"`

	// Reconciler
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10s"`
	ReconcileQuiet    time.Duration `env:"RECONCILE_QUIET_PERIOD" envDefault:"15s"`
}
