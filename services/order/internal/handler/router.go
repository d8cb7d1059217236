package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/foodorder/pkg/httpmw"
	"example.com/foodorder/pkg/metrics"
)

// RouterConfig содержит зависимости, необходимые для сборки маршрутов Order Service.
type RouterConfig struct {
	OrderHandler   *OrderHandler
	ReadinessCheck func(ctx context.Context) error
	CORSConfig     httpmw.CORSConfig
}

// NewRouter собирает gin.Engine с полной цепочкой middleware и маршрутами
// Order Service. Порядок middleware зеркалит прежнюю цепочку gRPC
// интерсепторов: Recovery → Tracing → CORS → SecurityHeaders → Metrics.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()

	r.Use(httpmw.Recovery())
	r.Use(otelgin.Middleware("order-service"))
	r.Use(httpmw.Tracing())
	r.Use(httpmw.CORS(cfg.CORSConfig))
	r.Use(httpmw.SecurityHeaders())
	r.Use(metrics.GinMetricsMiddleware("order-service"))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if cfg.ReadinessCheck == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		if err := cfg.ReadinessCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	v1 := r.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", cfg.OrderHandler.CreateOrder)
			orders.GET("", cfg.OrderHandler.ListOrders)
			orders.GET("/:id", cfg.OrderHandler.GetOrder)
			orders.DELETE("/:id", cfg.OrderHandler.CancelOrder)
			orders.GET("/track/:trackingId", cfg.OrderHandler.TrackOrder)
		}
	}

	return r
}
