package routes

import (
	"net/http"
	"time"

	"github.com/LovationAdmin/fleet-api/handlers"
	"github.com/LovationAdmin/fleet-api/middleware"
	"github.com/LovationAdmin/fleet-api/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps is everything the router wires. Nil members switch their routes off.
type Deps struct {
	Fleet      handlers.FleetRepository
	Hub        *handlers.DashboardHub
	KPI        *handlers.KPIHandler
	Email      services.EmailTransport
	EmailTo    string
	Assets     *services.AssetCache
	Limiter    *middleware.RateLimiter
	JWTSecret  string
	StaticDir  string
	Middleware []gin.HandlerFunc
}

// NewRouter builds the engine: API under /api/v1, the email relay, the
// dashboard socket, and the single-page app with its fallback.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(d.Middleware...)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		if d.Fleet != nil {
			var notifier handlers.ChangeNotifier
			if d.Hub != nil {
				notifier = d.Hub
			}
			SetupFleetRoutes(v1, &handlers.FleetHandler{Store: d.Fleet, Notifier: notifier}, middleware.OptionalAuth(d.JWTSecret))
		}
		SetupDashboardRoutes(v1, d.Hub, d.KPI)
	}

	if d.Email != nil {
		emailHandler := &handlers.EmailHandler{Transport: d.Email, Recipient: d.EmailTo}
		SetupEmailRoutes(v1, emailHandler, d.Limiter)
		// Older dashboard builds post to the backend root.
		SetupEmailRoutes(&router.RouterGroup, emailHandler, d.Limiter)
	}

	if d.Assets != nil {
		assets := &handlers.AssetHandler{Cache: d.Assets}
		router.GET("/vendor/:file", assets.Vendor)
		v1.GET("/assets/cache", assets.CacheStatus)
	}

	static := &handlers.StaticHandler{Root: d.StaticDir}
	router.NoRoute(middleware.SPAFallback(router), static.Serve)

	return router
}

// SetupFleetRoutes registers the vehicle, fuel, maintenance, revision and
// policy endpoints. Mutations go through auth.
func SetupFleetRoutes(rg *gin.RouterGroup, h *handlers.FleetHandler, auth gin.HandlerFunc) {
	rg.GET("/vehiculos", h.ListVehicles)
	rg.POST("/vehiculos", auth, h.CreateVehicle)
	rg.PUT("/vehiculos/:placa", auth, h.UpdateVehicle)
	rg.DELETE("/vehiculos/:placa", auth, h.DeleteVehicle)

	rg.GET("/combustible", h.ListFuel)
	rg.POST("/combustible", auth, h.CreateFuel)
	rg.DELETE("/combustible/:id", auth, h.DeleteFuel)

	rg.GET("/mantenimientos", h.ListMaintenance)
	rg.POST("/mantenimientos", auth, h.CreateMaintenance)
	rg.DELETE("/mantenimientos/:id", auth, h.DeleteMaintenance)

	rg.GET("/revisiones", h.ListRevisions)
	rg.POST("/revisiones", auth, h.CreateRevision)
	rg.DELETE("/revisiones/:id", auth, h.DeleteRevision)

	rg.GET("/polizas", h.ListPolicies)
	rg.POST("/polizas", auth, h.CreatePolicy)
	rg.DELETE("/polizas/:id", auth, h.DeletePolicy)

	rg.GET("/stats", h.Stats)
	rg.GET("/exec", h.Exec)
}

func SetupDashboardRoutes(rg *gin.RouterGroup, hub *handlers.DashboardHub, kpi *handlers.KPIHandler) {
	if hub != nil {
		rg.GET("/ws/dashboard", hub.HandleWS)
	}
	if kpi != nil {
		rg.GET("/kpis", kpi.Current)
	}
}

// SetupEmailRoutes registers the two report endpoints the dashboard posts to.
func SetupEmailRoutes(rg *gin.RouterGroup, h *handlers.EmailHandler, limiter *middleware.RateLimiter) {
	chain := []gin.HandlerFunc{}
	if limiter != nil {
		chain = append(chain, limiter.Middleware())
	}
	chain = append(chain, h.Relay)

	rg.POST("/reportes/enviar-email", chain...)
	rg.POST("/email/test", chain...)
}
