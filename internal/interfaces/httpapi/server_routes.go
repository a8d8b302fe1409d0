package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerDashboardRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /v1/dashboard/turnovers", handler.GetTurnovers)
	mux.HandleFunc("GET /v1/dashboard/revenue", handler.GetRevenue)
	mux.HandleFunc("GET /v1/dashboard/balances", handler.GetBalances)
	mux.HandleFunc("GET /v1/dashboard/market/user", handler.GetUserMarket)
	mux.HandleFunc("GET /v1/dashboard/market/kickbase", handler.GetPlatformMarket)
	mux.HandleFunc("GET /v1/dashboard/market/value-changes", handler.GetMarketValueChanges)
	mux.HandleFunc("GET /v1/dashboard/players/taken", handler.GetTakenPlayers)
	mux.HandleFunc("GET /v1/dashboard/players/free", handler.GetFreePlayers)
	mux.HandleFunc("GET /v1/dashboard/team-values", handler.GetTeamValues)
}

func registerInternalJobRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/internal/jobs/refresh", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.TriggerRefresh)))
}
