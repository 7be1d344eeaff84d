package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/internal/activity"
	"fieldservice/internal/api"
	"fieldservice/internal/auth"
	"fieldservice/internal/dispatch"
	"fieldservice/internal/document"
	"fieldservice/internal/installation"
	"fieldservice/internal/note"
	"fieldservice/internal/notification"
	"fieldservice/internal/pdfdoc"
	"fieldservice/internal/realtime"
	"fieldservice/internal/sale"
	"fieldservice/internal/serviceorder"
	"fieldservice/internal/transition"
	"fieldservice/internal/user"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/authtoken"
	"fieldservice/pkg/config"
	"fieldservice/pkg/objectstore"
)

type Dependencies struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Logger    *slog.Logger
	Workflows *workflow.Registry
	Hub       *realtime.Hub
	// Storage is nil when no object store is configured; sharing then
	// answers 503.
	Storage *objectstore.Store
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	saleFlow, err := deps.Workflows.Get(workflow.EntitySale)
	if err != nil {
		return nil, fmt.Errorf("sale workflow: %w", err)
	}
	dispatchFlow, err := deps.Workflows.Get(workflow.EntityDispatch)
	if err != nil {
		return nil, fmt.Errorf("dispatch workflow: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger(logger))
	r.Use(api.CORSMiddleware(api.CORSOptions{
		AllowedOrigins: deps.Cfg.AllowedOrigins,
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-User-Email"},
		MaxAgeSeconds:  600,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	usersRepo := user.NewRepository(deps.DB)
	tokens := authtoken.Issuer{
		Secret: []byte(deps.Cfg.Auth.JWTSecret),
		Issuer: deps.Cfg.Auth.JWTIssuer,
		TTL:    deps.Cfg.Auth.TokenTTL,
	}
	aggregator := activity.Aggregator{Logger: logger}

	salesRepo := sale.NewRepository(deps.DB)
	dispatchRepo := dispatch.NewRepository(deps.DB)
	ordersRepo := serviceorder.NewRepository(deps.DB)
	installationRepo := installation.NewRepository(deps.DB)

	authHandlers := auth.Handlers{Users: usersRepo, Tokens: tokens, Logger: logger}
	saleHandlers := sale.Handlers{
		DB:       deps.DB,
		Sales:    salesRepo,
		Workflow: saleFlow,
		Converter: sale.Converter{
			DB:       deps.DB,
			Workflow: saleFlow,
			Hub:      deps.Hub,
			Logger:   logger,
		},
		Aggregator:      aggregator,
		DefaultCurrency: deps.Cfg.PDF.Currency,
		Logger:          logger,
	}
	dispatchHandlers := dispatch.Handlers{
		DB:         deps.DB,
		Dispatches: dispatchRepo,
		Workflow:   dispatchFlow,
		Hub:        deps.Hub,
		Aggregator: aggregator,
		Currency:   deps.Cfg.PDF.Currency,
		Logger:     logger,
	}
	orderHandlers := serviceorder.Handlers{
		DB:         deps.DB,
		Orders:     ordersRepo,
		Dispatches: dispatchRepo,
		Aggregator: aggregator,
		Logger:     logger,
	}
	documentHandlers := document.Handlers{
		DB:            deps.DB,
		Sales:         salesRepo,
		Dispatches:    dispatchRepo,
		Installations: installationRepo,
		Settings:      pdfdoc.DefaultSettings(deps.Cfg.PDF),
		Logger:        logger,
	}
	// Leave the interface nil rather than holding a nil *Store.
	if deps.Storage != nil {
		documentHandlers.Storage = deps.Storage
	}
	saleStatus := transition.Handlers{DB: deps.DB, Definition: saleFlow, Target: sale.Target, Hub: deps.Hub, Logger: logger}
	dispatchStatus := transition.Handlers{DB: deps.DB, Definition: dispatchFlow, Target: dispatch.Target, Hub: deps.Hub, Logger: logger}
	notificationHandlers := notification.Handlers{Store: notification.NewRepository(deps.DB), Logger: logger}
	installationHandlers := installation.Handlers{Repo: installationRepo, Logger: logger}
	realtimeHandler := realtime.Handler{Hub: deps.Hub, AllowedOrigins: deps.Cfg.AllowedOrigins, Logger: logger}

	notes := func(entity, table string) note.Handlers {
		return note.Handlers{DB: deps.DB, Entity: entity, Table: table, Logger: logger}
	}
	mountNotes := func(r chi.Router, h note.Handlers) {
		r.Get("/{id}/notes", h.List)
		r.Post("/{id}/notes", h.Create)
		r.Delete("/{id}/notes/{noteId}", h.Delete)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandlers.Login)

		r.Group(func(r chi.Router) {
			// Production: bearer JWT.
			// Dev: falls back to X-User-Email when Authorization is missing.
			r.Use(api.Authenticate(api.AuthOptions{
				Tokens:      tokens,
				Users:       usersRepo,
				DevFallback: deps.Cfg.AppEnv != "prod",
			}))

			r.Get("/auth/me", authHandlers.Me)
			r.Get("/realtime", realtimeHandler.ServeHTTP)

			r.Route("/sales", func(r chi.Router) {
				r.Get("/", saleHandlers.List)
				r.Post("/", saleHandlers.Create)
				r.Get("/{id}", saleHandlers.Get)
				r.Post("/{id}/items", saleHandlers.AddItem)
				r.Get("/{id}/status", saleStatus.Get)
				r.Patch("/{id}/status", saleStatus.Patch)
				r.Get("/{id}/activity", saleHandlers.Activity)
				r.Post("/{id}/convert", saleHandlers.Convert)
				r.Get("/{id}/pdf", documentHandlers.SalePDF)
				r.Post("/{id}/pdf/share", documentHandlers.SaleShare)
				r.Get("/{id}/documents", documentHandlers.List(sale.EntityType))
				mountNotes(r, notes(sale.EntityType, "sales"))
			})

			r.Route("/service-orders", func(r chi.Router) {
				r.Get("/", orderHandlers.List)
				r.Get("/{id}", orderHandlers.Get)
				r.Get("/{id}/activity", orderHandlers.Activity)
				r.Post("/{id}/dispatches", orderHandlers.CreateDispatch)
				mountNotes(r, notes(serviceorder.EntityType, "service_orders"))
			})

			r.Route("/dispatches", func(r chi.Router) {
				r.Get("/", dispatchHandlers.List)
				r.Get("/{id}", dispatchHandlers.Get)
				r.Get("/{id}/status", dispatchStatus.Get)
				r.Patch("/{id}/status", dispatchStatus.Patch)
				r.Post("/{id}/assign", dispatchHandlers.Assign)
				r.Get("/{id}/activity", dispatchHandlers.Activity)
				r.Get("/{id}/time-entries", dispatchHandlers.ListTimeEntries)
				r.Post("/{id}/time-entries", dispatchHandlers.CreateTimeEntry)
				r.Delete("/{id}/time-entries/{entryId}", dispatchHandlers.DeleteTimeEntry)
				r.Get("/{id}/expenses", dispatchHandlers.ListExpenses)
				r.Post("/{id}/expenses", dispatchHandlers.CreateExpense)
				r.Delete("/{id}/expenses/{expenseId}", dispatchHandlers.DeleteExpense)
				r.Get("/{id}/pdf", documentHandlers.DispatchPDF)
				r.Post("/{id}/pdf/share", documentHandlers.DispatchShare)
				r.Get("/{id}/documents", documentHandlers.List(dispatch.EntityType))
				mountNotes(r, notes(dispatch.EntityType, "dispatches"))
			})

			r.Get("/installations", installationHandlers.List)
			r.Get("/installations/{id}", installationHandlers.Get)

			r.Get("/notifications", notificationHandlers.List)
			r.Post("/notifications/read-all", notificationHandlers.MarkAllRead)
			r.Post("/notifications/{id}/read", notificationHandlers.MarkRead)
		})
	})

	return r, nil
}
