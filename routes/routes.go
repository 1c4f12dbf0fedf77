package routes

import (
	"afroboost/access"
	"afroboost/campaign"
	"afroboost/chat"
	"afroboost/config"
	controller "afroboost/controllers"
	"afroboost/identity"
	"afroboost/middleware"
	"afroboost/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies are the services the HTTP edge delegates to.
type Dependencies struct {
	Config    *config.Config
	Store     *store.Store
	Access    *access.Core
	Identity  *identity.Resolver
	Chat      *chat.Service
	Campaigns *campaign.Service
	// RateLimitStorage backs the limiters; nil keeps counters in memory.
	RateLimitStorage fiber.Storage
}

// NewApp builds the fiber app with the shared middleware stack and every
// route registered.
func NewApp(deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "afroboost",
		ErrorHandler: controller.ErrorHandler,
		BodyLimit:    1 << 20,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: deps.Config.Environment == "development"}))
	app.Use(middleware.Metrics())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   middleware.ParseOrigins(deps.Config.CORSOrigins),
		AllowCredentials: true,
		AllowedMethods:   middleware.DefaultCORSConfig().AllowedMethods,
		AllowedHeaders:   middleware.DefaultCORSConfig().AllowedHeaders,
		ExposedHeaders:   middleware.DefaultCORSConfig().ExposedHeaders,
		MaxAge:           3600,
	}))

	SetupRoutes(app, deps)
	return app
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	cfg := deps.Config
	log := logrus.WithField("component", "http")

	healthController := controller.NewHealthController(deps.Store.Ping)
	paymentController := controller.NewPaymentController(deps.Store, cfg.StripeWebhookSecret, log.WithField("controller", "payment"))
	chatController := controller.NewChatController(deps.Chat, deps.Identity, cfg.JWTSecret, cfg.Environment == "production", log.WithField("controller", "chat"))
	socketController := controller.NewSocketController(deps.Chat, cfg.RequestTimeout, log.WithField("controller", "socket"))
	campaignController := controller.NewCampaignController(deps.Campaigns, cfg.Location, log.WithField("controller", "campaign"))
	accessController := controller.NewAccessController(deps.Access, deps.Store, log.WithField("controller", "access"))
	reservationController := controller.NewReservationController(deps.Store, log.WithField("controller", "reservation"))
	settingsController := controller.NewSettingsController(deps.Store, log.WithField("controller", "settings"))

	// Unauthenticated endpoints
	app.Get("/health", middleware.Deadline(cfg.RequestTimeout), healthController.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Post("/webhooks/stripe", middleware.Deadline(cfg.RequestTimeout), paymentController.HandleStripeWebhook)

	// Everything below runs the access core exactly once.
	api := app.Group("", middleware.Deadline(cfg.RequestTimeout), middleware.Access(deps.Access, cfg.JWTSecret))
	caller := middleware.RequireCaller()

	// Chat routes
	chatGroup := api.Group("/chat")
	chatGroup.Post("/smart-entry", middleware.RateLimiter("smart_entry", cfg.RateLimitPerMinute, deps.RateLimitStorage), chatController.SmartEntry)
	chatGroup.Get("/sessions", caller, chatController.ListSessions)
	chatGroup.Post("/sessions", caller, chatController.CreatePrivate)
	chatGroup.Get("/sessions/:id/messages", caller, chatController.History)
	chatGroup.Post("/sessions/:id/messages", caller, chatController.PostMessage)
	chatGroup.Post("/sessions/:id/read", caller, chatController.MarkRead)
	chatGroup.Post("/dm", caller, chatController.PostDirect)
	chatGroup.Get("/unread", caller, chatController.Unread)

	// Chat socket
	api.Get("/ws", socketController.Upgrade, socketController.Handler())

	// Campaign routes
	campaigns := api.Group("/campaigns", caller)
	campaigns.Post("/", campaignController.CreateCampaign)
	campaigns.Get("/", campaignController.GetCampaigns)
	campaigns.Get("/logs", campaignController.GetCampaignLogs)
	campaigns.Get("/:id", campaignController.GetCampaign)
	campaigns.Put("/:id", campaignController.UpdateCampaign)
	campaigns.Post("/:id/schedule", campaignController.ScheduleCampaign)
	campaigns.Post("/:id/cancel", campaignController.CancelCampaign)
	campaigns.Delete("/:id", campaignController.DeleteCampaign)

	// Access routes
	api.Get("/auth/role", accessController.GetRole)
	api.Get("/check-partner/:email", accessController.CheckPartner)
	api.Post("/partners", caller, accessController.SavePartner)
	api.Get("/credits/check", caller, accessController.CheckCredits)
	api.Post("/credits/deduct", caller, middleware.RateLimiter("credits", cfg.RateLimitPerMinute, deps.RateLimitStorage), accessController.DeductCredits)
	api.Get("/credits/transactions", caller, accessController.CreditHistory)

	// Reservation routes
	reservations := api.Group("/reservations", caller)
	reservations.Get("/", reservationController.GetReservations)
	reservations.Post("/", reservationController.CreateReservation)

	// Settings routes
	settings := api.Group("/settings")
	settings.Get("/platform", settingsController.GetPlatform)
	settings.Put("/platform", caller, settingsController.UpdatePlatform)
	settings.Get("/concept", settingsController.GetConcept)
	settings.Put("/concept", caller, settingsController.UpdateConcept)

	log.Info("Routes initialized successfully")
}
