package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tradoverse/brokerage/src/api"
	"github.com/tradoverse/brokerage/src/auth"
	"github.com/tradoverse/brokerage/src/brokers"
	"github.com/tradoverse/brokerage/src/connections"
	"github.com/tradoverse/brokerage/src/data"
	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/eventpubsub"
	"github.com/tradoverse/brokerage/src/execution"
	"github.com/tradoverse/brokerage/src/realtime"
	"github.com/tradoverse/brokerage/src/routing"
	"github.com/tradoverse/brokerage/src/utils"
	"github.com/tradoverse/brokerage/src/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the brokerage HTTP and websocket server",
	Run: func(cmd *cobra.Command, args []string) {
		goEnv, err := cmd.Flags().GetString("go-env")
		if err != nil {
			log.Fatalf("error getting go-env: %v", err)
		}

		port, err := cmd.Flags().GetString("port")
		if err != nil {
			log.Fatalf("error getting port: %v", err)
		}

		routingConfig, err := cmd.Flags().GetString("routing-config")
		if err != nil {
			log.Fatalf("error getting routing-config: %v", err)
		}

		watchSymbols, err := cmd.Flags().GetStringSlice("watch-symbols")
		if err != nil {
			log.Fatalf("error getting watch-symbols: %v", err)
		}

		watchProducts, err := cmd.Flags().GetStringSlice("watch-products")
		if err != nil {
			log.Fatalf("error getting watch-products: %v", err)
		}

		if err := serve(serveArgs{
			GoEnv:         goEnv,
			Port:          port,
			RoutingConfig: routingConfig,
			WatchSymbols:  watchSymbols,
			WatchProducts: watchProducts,
		}); err != nil {
			log.Fatalf("serve: %v", err)
		}
	},
}

func init() {
	serveCmd.Flags().String("go-env", "development", "The go environment to run the command in")
	serveCmd.Flags().String("port", "8080", "Port the HTTP server listens on")
	serveCmd.Flags().String("routing-config", "", "Optional YAML file overriding asset class routing priorities")
	serveCmd.Flags().StringSlice("watch-symbols", nil, "Equity symbols to poll for price updates")
	serveCmd.Flags().StringSlice("watch-products", nil, "Coinbase product ids to stream ticker updates for")
}

type serveArgs struct {
	GoEnv         string
	Port          string
	RoutingConfig string
	WatchSymbols  []string
	WatchProducts []string
}

func serve(args serveArgs) error {
	projectsDir := os.Getenv("PROJECTS_DIR")
	if projectsDir == "" {
		return fmt.Errorf("missing PROJECTS_DIR environment variable")
	}

	if err := utils.InitEnvironmentVariables(projectsDir, args.GoEnv); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}

	log.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
		log.WarnLevel,
		log.InfoLevel,
	)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := setupOTelSDK(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			log.Errorf("serve: telemetry shutdown: %v", err)
		}
	}()

	eventpubsub.Init()

	databaseURL, err := utils.RequireEnv("DATABASE_URL")
	if err != nil {
		return err
	}

	db, err := data.InitPostgresWithUrl(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	dbService := data.NewDatabaseService(db)

	encryptionKey, err := utils.RequireEnv("CREDENTIALS_ENCRYPTION_KEY")
	if err != nil {
		return err
	}

	tokens := auth.NewTokenManager(dbService, []byte(encryptionKey))
	connManager := connections.NewManager()

	var priorities map[eventmodels.AssetClass][]eventmodels.BrokerType
	if args.RoutingConfig != "" {
		priorities, err = routing.LoadPriorities(args.RoutingConfig)
		if err != nil {
			return err
		}
	}

	orderRouter := routing.NewRouter(connManager, tokens, priorities)
	executor := execution.NewTradeExecutionService(connManager, orderRouter, dbService)

	hub := realtime.NewHub()
	if err := hub.Start(); err != nil {
		return err
	}

	// Bridge execution-path order updates onto the pubsub so the hub can
	// push fills to the owning user's portfolio feed.
	brokers.Emitter.AddListener(brokers.OrderUpdateEvent, func(payload ...interface{}) {
		if len(payload) == 0 {
			return
		}

		if fill, ok := payload[0].(eventmodels.OrderFillEvent); ok {
			eventpubsub.Publish("serve", eventpubsub.OrderFillEvent, fill)
		}
	})

	server := &api.Server{
		Tokens:      tokens,
		ConnManager: connManager,
		Router:      orderRouter,
		Executor:    executor,
		DB:          dbService,
		Hub:         hub,
	}

	if err := server.RestoreConnections(ctx); err != nil {
		return err
	}

	go worker.NewConnectionSyncWorker(dbService, tokens, connManager, 1*time.Minute).Run(ctx)

	if len(args.WatchSymbols) > 0 {
		polygonAPIKey, err := utils.RequireEnv("POLYGON_API_KEY")
		if err != nil {
			return err
		}

		go worker.NewPolygonPriceWorker(polygonAPIKey, args.WatchSymbols, 15*time.Second).Run(ctx)
	}

	if len(args.WatchProducts) > 0 {
		go func() {
			if err := worker.NewCoinbaseTickerStream(args.WatchProducts).Run(ctx); err != nil {
				log.Errorf("serve: coinbase ticker stream: %v", err)
			}
		}()
	}

	router := mux.NewRouter()
	api.SetupHandler(router, server)

	srv := &http.Server{
		Handler: otelhttp.NewHandler(router, "api"),
		Addr:    fmt.Sprintf(":%s", args.Port),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		log.Infof("listening on :%s", args.Port)
		if err := srv.ListenAndServe(); err != nil {
			if !strings.Contains(err.Error(), "Server closed") {
				log.Fatalf("failed to start server: %v", err)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	signal.Notify(stop, syscall.SIGTERM)

	log.Info("serve: init complete")

	<-stop

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("serve: server shutdown: %v", err)
	}

	log.Info("serve: gracefully stopped")
	return nil
}
