package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LovationAdmin/fleet-api/config"
	"github.com/LovationAdmin/fleet-api/handlers"
	"github.com/LovationAdmin/fleet-api/middleware"
	"github.com/LovationAdmin/fleet-api/routes"
	"github.com/LovationAdmin/fleet-api/services"
	"github.com/LovationAdmin/fleet-api/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	utils.LogStartup("Fleet API", version, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := services.NewCacheStore()
	if cfg.Assets.CacheDir != "" {
		store, err = services.OpenCacheStore(cfg.Assets.CacheDir)
		if err != nil {
			log.Fatal("Failed to open asset cache: ", err)
		}
		log.Printf("📦 Asset caches on disk: %s %v", cfg.Assets.CacheDir, store.Names())
	}

	assets, err := services.NewAssetCache(services.AssetCacheOptions{
		Name:    cfg.Assets.CacheName,
		BaseURL: cfg.Assets.BaseURL,
		Assets:  cfg.Assets.Assets,
		Store:   store,
	})
	if err != nil {
		log.Fatal("Failed to create asset cache: ", err)
	}
	if cfg.Assets.BaseURL != "" {
		go scheduleAssetRefresh(ctx, assets)
	} else {
		log.Println("⚠️ ASSET_BASE_URL not set, asset precache disabled")
	}

	var (
		loaders services.FirstAvailable
		fleet   handlers.FleetRepository
	)

	if cfg.DatabaseURL != "" {
		db, err := config.InitDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database: ", err)
		}
		defer db.Close()
		log.Println("✅ Database connected successfully")

		if err := config.RunMigrations(db); err != nil {
			log.Fatal("Failed to run migrations: ", err)
		}

		fleetStore := services.NewFleetStore(db)
		fleet = fleetStore
		loaders = append(loaders, fleetStore)
	} else {
		log.Println("⚠️ DATABASE_URL not set, fleet endpoints disabled")
	}

	if cfg.RemoteDataURL != "" {
		remote, err := services.NewRemoteLoader(cfg.RemoteDataURL, assets)
		if err != nil {
			log.Fatal("Invalid REMOTE_DATA_URL: ", err)
		}
		loaders = append(loaders, remote)
		log.Printf("🌐 Remote data source: %s", cfg.RemoteDataURL)
	}

	formatter, err := services.NewCurrencyFormatter(cfg.KPI.Locale, cfg.KPI.Currency)
	if err != nil {
		log.Fatal("Invalid KPI locale/currency: ", err)
	}

	var source services.SnapshotSource
	opts := []services.ReconcilerOption{}
	if len(loaders) > 0 {
		source = loaders
		opts = append(opts, services.WithLoader(loaders))
	}
	reconciler := services.NewReconciler(formatter, opts...)

	hub := handlers.NewDashboardHub(reconciler, source, cfg.KPI.Interval, services.Policy(cfg.KPI.Policy))
	defer hub.Close()

	transport, err := services.NewEmailTransport(cfg.Email, nil)
	if err != nil {
		log.Fatal("Invalid email configuration: ", err)
	}
	log.Printf("📧 Email transport: %s", transport.Name())

	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
	go limiter.RunCleanup(ctx, time.Minute)

	allowedOrigins := []string{cfg.FrontendURL}
	log.Printf("🌍 CORS: Allowing origins:")
	for _, origin := range allowedOrigins {
		log.Printf("   - %s", origin)
	}

	corsConfig := cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	}

	router := routes.NewRouter(routes.Deps{
		Fleet:      fleet,
		Hub:        hub,
		KPI:        &handlers.KPIHandler{Reconciler: reconciler, Source: source},
		Email:      transport,
		EmailTo:    cfg.Email.To,
		Assets:     assets,
		Limiter:    limiter,
		JWTSecret:  cfg.JWTSecret,
		StaticDir:  cfg.StaticDir,
		Middleware: []gin.HandlerFunc{cors.New(corsConfig), middleware.RequestLogger()},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("❌ Shutdown: %v", err)
		}
	}()

	log.Printf("🚀 Server starting on port %s...", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server: ", err)
	}
}

// scheduleAssetRefresh precaches the dashboard assets at startup and again
// every day so a redeployed frontend is picked up.
func scheduleAssetRefresh(ctx context.Context, assets *services.AssetCache) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	refreshAssets(ctx, assets)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshAssets(ctx, assets)
		}
	}
}

func refreshAssets(ctx context.Context, assets *services.AssetCache) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := assets.Install(ctx); err != nil {
		log.Printf("❌ Asset precache failed: %v", err)
		return
	}
	assets.Activate()
}
