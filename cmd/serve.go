package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-esim/app/controller"
	esimgrpc "github.com/vibast-solutions/ms-go-esim/app/grpc"
	"github.com/vibast-solutions/ms-go-esim/app/types"
	"github.com/vibast-solutions/ms-go-esim/config"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the eSIM service, plus the settings refresher.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type httpControllers struct {
	orders   *controller.OrderController
	ops      *controller.OpsController
	webhooks *controller.WebhookController
}

func runServe(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication()
	defer cleanup()
	cfg := app.cfg

	controllers := httpControllers{
		orders:   controller.NewOrderController(app.provisioning, app.gate, app.topUps),
		ops:      controller.NewOpsController(app.provisioning, app.settingsStore, app.settingsRepo),
		webhooks: controller.NewWebhookController(app.webhooks),
	}
	opsServer := esimgrpc.NewServer(app.provisioning, app.gate)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(controllers, app.registry, echoInternalAuthMiddleware.RequireInternalAccess(cfg.App.ServiceName))
	grpcSrv, lis := setupGRPCServer(cfg, opsServer, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go app.settingsStore.Run(refreshCtx, cfg.Settings.RefreshInterval)

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
	stopRefresh()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

// setupHTTPServer mounts the Stripe webhook and /metrics outside internal
// auth; everything else requires it.
func setupHTTPServer(
	controllers httpControllers,
	gatherer prometheus.Gatherer,
	internalAccess echo.MiddlewareFunc,
) *echo.Echo {
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
			}
			if v.RequestID != "" {
				fields["request_id"] = v.RequestID
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

	e.GET("/health", controllers.orders.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.POST("/webhooks/payments/stripe", controllers.webhooks.HandleStripe)

	internal := e.Group("", echomiddleware.CORS(), requireRequestID(), internalAccess)

	orders := internal.Group("/orders")
	orders.GET("", controllers.orders.ListOrders)
	orders.GET("/:id", controllers.orders.GetOrder)
	orders.POST("/:id/provision", controllers.orders.ProvisionOrder)
	orders.POST("/:id/resend-email", controllers.orders.ResendReadyEmail)
	orders.POST("/:id/top-ups", controllers.orders.CreateTopUp)
	orders.GET("/:id/top-ups", controllers.orders.ListTopUps)

	ops := internal.Group("/ops")
	ops.POST("/retry-now", controllers.ops.RetryNow)
	ops.POST("/sync-now", controllers.ops.SyncNow)
	ops.POST("/settings/refresh", controllers.ops.RefreshSettings)
	ops.PUT("/settings/:key", controllers.ops.UpdateSetting)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	cfg *config.Config,
	opsServer *esimgrpc.Server,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			esimgrpc.RecoveryInterceptor(),
			esimgrpc.RequestIDInterceptor(),
			esimgrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName),
		),
	)
	esimgrpc.Register(grpcSrv, opsServer)

	return grpcSrv, lis
}
