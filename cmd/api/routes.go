package main

import (
	"log"
	"net/http"

	httphandlers "subsidia/internal/interfaces/http"
	"subsidia/internal/shared/config"
	"subsidia/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Public auth routes
	mux.HandleFunc("/api/auth/register", deps.AuthHandler.HandleRegister)
	mux.HandleFunc("/api/auth/login", deps.AuthHandler.HandleLogin)
	mux.HandleFunc("/api/auth/logout", deps.AuthHandler.HandleLogout)

	// Provider redirect target; the user arrives here from the bank's
	// consent page, outside any authenticated session.
	mux.HandleFunc("/api/bank-connections/callback", deps.BankConnectionHandler.HandleCallback)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)

	mux.Handle("/api/users/me", authMiddleware(http.HandlerFunc(deps.UserHandler.HandleMe)))

	// Add-bank wizard
	mux.Handle("/api/bank-connections/institutions", authMiddleware(http.HandlerFunc(deps.BankConnectionHandler.HandleInstitutions)))
	mux.Handle("/api/bank-connections/flows", authMiddleware(http.HandlerFunc(deps.BankConnectionHandler.HandleOpenFlow)))
	mux.Handle("/api/bank-connections/flows/{ref}", authMiddleware(http.HandlerFunc(deps.BankConnectionHandler.HandleFlow)))
	mux.Handle("/api/bank-connections/flows/{ref}/institution", authMiddleware(http.HandlerFunc(deps.BankConnectionHandler.HandleSelectInstitution)))
	mux.Handle("/api/bank-connections/flows/{ref}/accept", authMiddleware(http.HandlerFunc(deps.BankConnectionHandler.HandleAccept)))

	// Linked accounts and the revocation wizard
	mux.Handle("/api/bank-accounts", authMiddleware(http.HandlerFunc(deps.BankAccountHandler.HandleListAccounts)))
	mux.Handle("/api/bank-accounts/{id}", authMiddleware(http.HandlerFunc(deps.BankAccountHandler.HandleAccountByID)))
	mux.Handle("/api/bank-accounts/{id}/revocation", authMiddleware(http.HandlerFunc(deps.BankAccountHandler.HandleStartRevocation)))
	mux.Handle("/api/bank-accounts/{id}/revocation/confirm", authMiddleware(http.HandlerFunc(deps.BankAccountHandler.HandleConfirmRevocation)))
	mux.Handle("/api/bank-accounts/{id}/revocation/cancel", authMiddleware(http.HandlerFunc(deps.BankAccountHandler.HandleCancelRevocation)))

	// Share-account wizard
	mux.Handle("/api/bank-accounts/{id}/invitations", authMiddleware(http.HandlerFunc(deps.InvitationHandler.HandleInvitations)))
	mux.Handle("/api/bank-accounts/{id}/invitations/search", authMiddleware(http.HandlerFunc(deps.InvitationHandler.HandleSearch)))
	mux.Handle("/api/bank-accounts/{id}/invitations/members", authMiddleware(http.HandlerFunc(deps.InvitationHandler.HandleMembers)))
	mux.Handle("/api/bank-accounts/{id}/invitations/next", authMiddleware(http.HandlerFunc(deps.InvitationHandler.HandleNext)))
	mux.Handle("/api/bank-accounts/{id}/invitations/back", authMiddleware(http.HandlerFunc(deps.InvitationHandler.HandleBack)))
	mux.Handle("/api/bank-accounts/{id}/invitations/confirm", authMiddleware(http.HandlerFunc(deps.InvitationHandler.HandleConfirm)))

	// Push notifications
	mux.Handle("/api/notifications/register-device", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleRegisterDevice)))

	// Apply global middleware
	handler := middleware.Logging(middleware.Telemetry(middleware.CORS(cfg.Server.AllowedHosts)(mux)))

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}
