package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Positions
	api.HandleFunc("/positions", handler.GetAllPositions).Methods("GET")
	api.HandleFunc("/positions", handler.CreatePosition).Methods("POST")
	api.HandleFunc("/positions/{id:[0-9]+}", handler.GetPosition).Methods("GET")
	api.HandleFunc("/positions/{id:[0-9]+}", handler.UpdatePosition).Methods("PUT")
	api.HandleFunc("/positions/{id:[0-9]+}", handler.DeletePosition).Methods("DELETE")

	// Portfolio aggregates
	api.HandleFunc("/portfolio/summary", handler.GetPortfolioSummary).Methods("GET")
	api.HandleFunc("/portfolio/breakdown", handler.GetPortfolioBreakdown).Methods("GET")

	// Price reconciliation
	api.HandleFunc("/sync", handler.SyncPrices).Methods("POST")

	// Audit trail
	api.HandleFunc("/history", handler.GetHistory).Methods("GET")
	api.HandleFunc("/operations", handler.GetFinancialOperations).Methods("GET")
	api.HandleFunc("/activity", handler.GetActivityStats).Methods("GET")

	// Session boundary
	api.HandleFunc("/auth/login", handler.Login).Methods("POST")
	api.HandleFunc("/auth/logout", handler.Logout).Methods("POST")

	return r
}
