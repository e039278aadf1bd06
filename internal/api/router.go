package api

import (
	"net/http"

	"github.com/example/ticket-ledger/internal/api/middleware"
	"github.com/example/ticket-ledger/internal/applog"
	"github.com/example/ticket-ledger/internal/auth"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Handlers    *Handlers
	Validator   middleware.TokenValidator
	Logger      *logrus.Logger
	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	router := mux.NewRouter()
	router.Use(applog.Middleware(cfg.Logger))

	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	// Public catalogue
	router.HandleFunc("/listings", h.ListListings).Methods(http.MethodGet)
	router.HandleFunc("/listings/{id}", h.GetListing).Methods(http.MethodGet)
	router.HandleFunc("/listings/{id}/inventory", h.GetInventory).Methods(http.MethodGet)

	authed := router.NewRoute().Subrouter()
	authed.Use(middleware.Authenticate(cfg.Validator, cfg.Logger))
	authed.HandleFunc("/transactions", h.InitiateTransaction).Methods(http.MethodPost)
	authed.HandleFunc("/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	authed.HandleFunc("/transactions/{id}/confirm", h.ConfirmTransaction).Methods(http.MethodPost)
	authed.HandleFunc("/me/transactions", h.MyTransactions).Methods(http.MethodGet)
	authed.HandleFunc("/me/listings", h.MyListings).Methods(http.MethodGet)
	authed.HandleFunc("/me/sales", h.MySales).Methods(http.MethodGet)
	authed.HandleFunc("/me/summary", h.MySummary).Methods(http.MethodGet)

	admin := router.NewRoute().Subrouter()
	admin.Use(middleware.Authenticate(cfg.Validator, cfg.Logger), middleware.RequireRole(auth.RoleAdmin))
	admin.HandleFunc("/listings", h.ApproveListing).Methods(http.MethodPost)
	admin.HandleFunc("/listings/{id}/deactivate", h.DeactivateListing).Methods(http.MethodPost)
	admin.HandleFunc("/transactions/{id}/refund", h.RefundTransaction).Methods(http.MethodPost)
	admin.HandleFunc("/admin/commissions", h.Commissions).Methods(http.MethodGet)
	admin.HandleFunc("/admin/expire", h.ExpireStale).Methods(http.MethodPost)

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)
}
