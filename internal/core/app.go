package core

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/prathamssaraf/mouse-video-compressor/internal/assets"
	"github.com/prathamssaraf/mouse-video-compressor/internal/client"
	"github.com/prathamssaraf/mouse-video-compressor/internal/config"
	"github.com/prathamssaraf/mouse-video-compressor/internal/conn"
	"github.com/prathamssaraf/mouse-video-compressor/internal/db"
	"github.com/prathamssaraf/mouse-video-compressor/internal/notify"
	"github.com/prathamssaraf/mouse-video-compressor/internal/progress"
	"github.com/prathamssaraf/mouse-video-compressor/internal/session"
	"github.com/prathamssaraf/mouse-video-compressor/internal/store"
)

// App holds the core components shared by the daemon and the status API.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Store    *store.Store
	Conn     *conn.Manager
	Progress *progress.Store
	Notify   *notify.Center
	Session  *session.Service
}

// New sets up and returns a new App instance. It loads the configuration,
// opens the local database, runs migrations, and wires the sync session.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		// We can't proceed without a valid schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	st := store.New(database)
	ps := progress.NewStore()
	nc := notify.NewCenter(st)
	cm := conn.New(cfg.Server.WsURL, cfg.ReconnectBaseDelay(), cfg.Reconnect.MaxAttempts)
	backend := client.New(cfg.Server.URL)
	svc := session.New(backend, ps, nc, cm)

	log.Println("Core application setup complete.")
	return &App{
		Config:   cfg,
		DB:       database,
		Store:    st,
		Conn:     cm,
		Progress: ps,
		Notify:   nc,
		Session:  svc,
	}, nil
}

// Close shuts down the session and releases the app's resources.
func (a *App) Close() {
	if a.Session != nil {
		a.Session.Close()
	}
	if a.Progress != nil {
		a.Progress.Close()
	}
	if a.Notify != nil {
		a.Notify.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
