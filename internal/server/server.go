package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mansoorceksport/storefront/internal/config"
	"github.com/mansoorceksport/storefront/internal/handler"
	"github.com/mansoorceksport/storefront/internal/middleware"
	"github.com/mansoorceksport/storefront/internal/repository"
	"github.com/mansoorceksport/storefront/internal/service"
	"github.com/mansoorceksport/storefront/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
)

// AppDependencies holds the dependencies required to start the application.
// ReceiptArchive and Publisher are optional.
type AppDependencies struct {
	Config         *config.Config
	MongoDB        *mongo.Database
	RedisClient    *redis.Client
	Gateway        service.PaymentGateway
	ReceiptArchive service.ReceiptArchive
	Publisher      service.EventPublisher
}

type services struct {
	cache      *repository.RedisCache
	cart       *service.CartService
	checkout   *service.CheckoutService
	settlement *service.SettlementService
	invoice    *service.InvoiceService
	payments   *repository.MongoPaymentRepository
}

func newServices(deps AppDependencies) services {
	cfg := deps.Config

	// Initialize repositories
	cache := repository.NewRedisCache(deps.RedisClient)
	cartRepo := repository.NewRedisCartRepository(cache, cfg.Checkout.SessionTTL)
	invoiceRepo := repository.NewMongoInvoiceRepository(deps.MongoDB)
	paymentRepo := repository.NewMongoPaymentRepository(deps.MongoDB)
	sequenceRepo := repository.NewMongoSequenceRepository(deps.MongoDB)
	tx := repository.NewMongoTransactor(deps.MongoDB)
	// Single lookups read through the cache, pricing always hits the live catalog
	productRepo := repository.NewCachedProductRepository(repository.NewMongoProductRepository(deps.MongoDB), cache)

	// Initialize services
	settlementService := service.NewSettlementService(paymentRepo, invoiceRepo, productRepo, sequenceRepo,
		cartRepo, tx, deps.Gateway)
	if deps.ReceiptArchive != nil {
		settlementService.WithReceiptArchive(deps.ReceiptArchive)
	}
	if deps.Publisher != nil {
		settlementService.WithEventPublisher(deps.Publisher)
	}

	return services{
		cache: cache,
		cart:  service.NewCartService(cartRepo, productRepo, cfg.Checkout.VATRate),
		checkout: service.NewCheckoutService(cartRepo, productRepo, invoiceRepo, paymentRepo, tx,
			deps.Gateway, cfg.Checkout.VATRate, cfg.Gateway.CallbackURL),
		settlement: settlementService,
		invoice:    service.NewInvoiceService(invoiceRepo, paymentRepo),
		payments:   paymentRepo,
	}
}

// NewSweeper creates the pending-payment sweeper. It reconciles through the same settlement
// path as the gateway callback.
func NewSweeper(deps AppDependencies) *service.PaymentSweeper {
	svc := newServices(deps)
	return service.NewPaymentSweeper(svc.payments, svc.settlement, deps.Config.Checkout.PaymentTTL)
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *fiber.App {
	cfg := deps.Config
	svc := newServices(deps)
	cache := svc.cache

	// Initialize handlers
	cartHandler := handler.NewCartHandler(svc.cart)
	checkoutHandler := handler.NewCheckoutHandler(svc.checkout, svc.settlement)
	invoiceHandler := handler.NewInvoiceHandler(svc.invoice)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Storefront API",
		ProxyHeader:  cfg.Server.ProxyHeader,
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(telemetry.FiberMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID, X-Requested-With",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "storefront",
		})
	})

	session := middleware.Session(cfg.Checkout.SessionTTL, cfg.Server.ProxyHeader != "")
	auth := middleware.VerifyToken(cfg.JWT.Secret)

	// Gateway callback (public, but needs the session so the right cart is cleared)
	app.Get("/verify", session, checkoutHandler.Verify)

	v1 := app.Group("/v1")

	cart := v1.Group("/cart", session)
	cart.Get("/", cartHandler.GetCart)
	cart.Delete("/", cartHandler.EmptyCart)
	cart.Post("/items/:id", cartHandler.AddItem)
	cart.Delete("/items/:id", cartHandler.RemoveItem)

	checkout := v1.Group("/checkout", session, auth)
	checkout.Get("/", checkoutHandler.Preview)
	checkout.Post("/", middleware.IdempotencyMiddleware(cache, cfg.Checkout.IdempotencyTTL), checkoutHandler.Submit)

	me := v1.Group("/me", auth)
	me.Get("/invoices", invoiceHandler.ListInvoices)
	me.Get("/invoices/:id", invoiceHandler.GetInvoice)

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"reason":  err.Error(),
	})
}
