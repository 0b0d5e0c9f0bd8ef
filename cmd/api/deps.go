package main

import (
	"context"
	"log"

	"subsidia/internal/domain/bankaccount"
	"subsidia/internal/domain/consent"
	"subsidia/internal/domain/invitation"
	"subsidia/internal/domain/notification"
	"subsidia/internal/infrastructure/firebase"
	"subsidia/internal/infrastructure/openbanking"
	"subsidia/internal/infrastructure/postgres"
	"subsidia/internal/infrastructure/redis"
	httphandlers "subsidia/internal/interfaces/http"
	"subsidia/internal/shared/auth"
	"subsidia/internal/shared/config"
	"subsidia/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB           *postgres.DB
	SessionStore *redis.SessionStore

	// Handlers
	AuthHandler           *httphandlers.AuthHandler
	UserHandler           *httphandlers.UserHandler
	BankConnectionHandler *httphandlers.BankConnectionHandler
	BankAccountHandler    *httphandlers.BankAccountHandler
	InvitationHandler     *httphandlers.InvitationHandler
	NotificationHandler   *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// Services needing shutdown
	ConsentService *consent.Service
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	sessionStore, err := redis.NewSessionStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.SessionTTL)
	if err != nil {
		return nil, err
	}
	log.Println("Connected to redis")

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	accountRepo := postgres.NewBankAccountRepository(db)
	deviceTokenRepo := postgres.NewDeviceTokenRepository(db)

	// Push notifications (optional)
	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcmClient, err := firebase.NewClient(context.Background(), cfg.Firebase.CredentialsFile, deviceTokenRepo.DeactivateToken)
		if err != nil {
			return nil, err
		}
		messenger = fcmClient
		log.Println("Firebase messaging initialized")
	} else {
		log.Println("Firebase credentials not configured, push notifications disabled")
	}

	texts, err := messages.Load(cfg.Firebase.MessagesFile)
	if err != nil {
		return nil, err
	}
	notificationService := notification.NewService(deviceTokenRepo, messenger, texts)

	// Provider client and domain services
	providerClient := openbanking.NewClient(cfg.OpenBanking.BaseURL, cfg.OpenBanking.APIKey)
	accountService := bankaccount.NewService(accountRepo, providerClient)

	consentService := consent.NewService(providerClient, sessionStore, consent.Options{
		CallbackURL:       cfg.OpenBanking.CallbackURL,
		AccessWindowDays:  cfg.OpenBanking.AccessWindowDays,
		HistoryWindowDays: cfg.OpenBanking.HistoryWindowDays,
		PollInterval:      cfg.OpenBanking.PollInterval,
		OnWindowClosed: newLinkOnSuccess(
			sessionStore, providerClient, accountService, notificationService,
		),
	})

	invitationService := invitation.NewService(accountService, userRepo, invitation.Options{})

	// Auth
	jwt := auth.NewJWT(cfg.JWT.Secret)

	return &Dependencies{
		DB:                    db,
		SessionStore:          sessionStore,
		AuthHandler:           httphandlers.NewAuthHandler(userRepo, jwt),
		UserHandler:           httphandlers.NewUserHandler(userRepo),
		BankConnectionHandler: httphandlers.NewBankConnectionHandler(consentService, cfg.Server.AppURL),
		BankAccountHandler:    httphandlers.NewBankAccountHandler(accountService, notificationService),
		InvitationHandler:     httphandlers.NewInvitationHandler(invitationService, notificationService, userRepo),
		NotificationHandler:   httphandlers.NewNotificationHandler(notificationService),
		JWT:                   jwt,
		ConsentService:        consentService,
	}, nil
}

// Close releases held connections.
func (d *Dependencies) Close() {
	if d.SessionStore != nil {
		if err := d.SessionStore.Close(); err != nil {
			log.Printf("Error closing redis connection: %v", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}
}
