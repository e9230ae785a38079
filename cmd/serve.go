package cmd

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	_ "modernc.org/sqlite"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/cache"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/controller"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	paymentgrpc "github.com/vibast-solutions/ms-go-carwash-payments/app/grpc"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/notify"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/provider"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/repository"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/service"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/types"
	"github.com/vibast-solutions/ms-go-carwash-payments/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the car wash payments service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// statusCacheBackend and finalizedNotifier mirror what the service layer
// accepts, so an unconfigured backend is passed as a true nil.
type statusCacheBackend interface {
	GetOrLoad(ctx context.Context, entityType entity.EntityType, entityID string, load func(ctx context.Context) (*entity.PaymentIntent, error)) (*entity.PaymentIntent, error)
	Invalidate(ctx context.Context, entityType entity.EntityType, entityID string) error
}

type finalizedNotifier interface {
	PaymentFinalized(ctx context.Context, intent *entity.PaymentIntent) error
}

type application struct {
	cfg            *config.Config
	paymentService *service.PaymentService
	poller         *service.Poller
}

func runServe(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication()
	defer cleanup()
	cfg := app.cfg

	paymentController := controller.NewPaymentController(app.paymentService, app.poller)
	grpcPaymentServer := paymentgrpc.NewServer(app.paymentService)

	auth, closeAuth := mustSetupCallerAuth(cfg)
	defer closeAuth()

	e := setupHTTPServer(paymentController, auth)
	grpcSrv, healthSrv, lis := setupGRPCServer(cfg, grpcPaymentServer, auth)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthSrv.Shutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

// callerAuth guards the non-webhook routes on both transports.
type callerAuth struct {
	http echo.MiddlewareFunc
	grpc grpc.UnaryServerInterceptor
}

// mustSetupCallerAuth prefers the internal auth service and falls back to the
// shared API key. With neither configured the API is open.
func mustSetupCallerAuth(cfg *config.Config) (*callerAuth, func()) {
	if addr := cfg.InternalEndpoints.AuthGRPCAddr; addr != "" {
		authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), addr)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
		}

		internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
		echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
		grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

		logrus.WithField("addr", addr).Info("Caller auth via internal auth service")
		return &callerAuth{
			http: echoInternalAuthMiddleware.RequireInternalAccess(cfg.App.ServiceName),
			grpc: paymentgrpc.SkipHealthChecks(grpcInternalAuthMiddleware.UnaryRequireInternalAccess(cfg.App.ServiceName)),
		}, func() { _ = authGRPCClient.Close() }
	}

	if strings.TrimSpace(cfg.App.APIKey) != "" {
		return &callerAuth{
			http: requireAPIKey(cfg.App.APIKey),
			grpc: paymentgrpc.APIKeyInterceptor(cfg.App.APIKey),
		}, func() {}
	}

	logrus.Warn("No AUTH_SERVICE_GRPC_ADDR or APP_API_KEY configured, payment API is unauthenticated")
	return &callerAuth{}, func() {}
}

func setupHTTPServer(paymentController *controller.PaymentController, auth *callerAuth) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	e.GET("/health", paymentController.Health)

	// The webhook authenticates with the gateway's callback token instead.
	e.POST("/payment/webhook", paymentController.HandleWebhook)

	payments := e.Group("/payment")
	if auth.http != nil {
		payments.Use(auth.http)
	}
	payments.POST("/invoices", paymentController.CreateInvoice)
	payments.GET("/status/:entityType/:entityId", paymentController.GetStatus)
	payments.POST("/poll/:entityType/:entityId", paymentController.StartPolling)

	return e
}

func requireAPIKey(apiKey string) echo.MiddlewareFunc {
	return echomiddleware.KeyAuthWithConfig(echomiddleware.KeyAuthConfig{
		KeyLookup: "header:X-API-Key",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		},
		ErrorHandler: func(_ error, ctx echo.Context) error {
			return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "unauthorized"})
		},
	})
}

func setupGRPCServer(cfg *config.Config, paymentServer *paymentgrpc.Server, auth *callerAuth) (*grpc.Server, *health.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	interceptors := []grpc.UnaryServerInterceptor{
		paymentgrpc.RecoveryInterceptor(),
		paymentgrpc.RequestIDInterceptor(),
		paymentgrpc.LoggingInterceptor(),
	}
	if auth.grpc != nil {
		interceptors = append(interceptors, auth.grpc)
	}
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	paymentgrpc.RegisterPaymentsServiceServer(grpcSrv, paymentServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(paymentgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	return grpcSrv, healthSrv, lis
}

func mustOpenDatabase(cfg *config.Config) *sql.DB {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	if cfg.Database.Driver == config.DatabaseDriverSQLite {
		// SQLite serialises writers; one connection keeps the CAS updates honest.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	if cfg.Database.Driver == config.DatabaseDriverSQLite {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repository.EnsureSchema(ctx, db, cfg.Database.Driver); err != nil {
			_ = db.Close()
			logrus.WithError(err).Fatal("Failed to apply sqlite schema")
		}
	}

	return db
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustCreateApplication() (*application, func()) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	var closers []func()
	closers = append(closers, func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	})

	var statusCache statusCacheBackend
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		client, err := cache.NewRedisClient(context.Background(), cfg.Redis.URL)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, status cache disabled")
		} else {
			statusCache = cache.NewStatusCache(client, cfg.Payments.StatusCacheTTL)
			closers = append(closers, closeRedis(client))
		}
	}

	var notifier finalizedNotifier = notify.NewLogNotifier()
	if strings.TrimSpace(cfg.AMQP.URL) != "" {
		amqpNotifier, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logrus.WithError(err).Warn("AMQP unavailable, finalized payments are only logged")
		} else {
			notifier = amqpNotifier
			closers = append(closers, func() {
				if err := amqpNotifier.Close(); err != nil {
					logrus.WithError(err).Warn("Failed to close AMQP notifier")
				}
			})
		}
	}

	store := repository.NewIntentStore(db)
	callbackRepo := repository.NewPaymentCallbackRepository(db)

	xenditGateway := provider.NewXenditGateway(provider.XenditConfig{
		SecretKey:       cfg.Xendit.SecretKey,
		CallbackToken:   cfg.Xendit.CallbackToken,
		BaseURL:         cfg.Xendit.BaseURL,
		InvoiceDuration: cfg.Xendit.InvoiceDuration,
		HTTPTimeout:     cfg.Xendit.HTTPTimeout,
	})
	providerRegistry := provider.NewRegistry(xenditGateway)

	engine := service.NewReconciliationEngine(store, callbackRepo, notifier, statusCache)
	paymentService := service.NewPaymentService(store, callbackRepo, engine, providerRegistry, statusCache, cfg.Payments)
	poller := service.NewPoller(store, providerRegistry, engine, cfg.Payments.PollMaxAttempts, cfg.Payments.PollInterval)

	cleanup := func() {
		poller.Close()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	return &application{cfg: cfg, paymentService: paymentService, poller: poller}, cleanup
}

func closeRedis(client *redis.Client) func() {
	return func() {
		if err := client.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
	}
}
