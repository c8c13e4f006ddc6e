package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func text(body string) gin.HandlerFunc {
	return func(c *gin.Context) { c.String(http.StatusOK, body) }
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)
	r.Register(NewDomainGroup("jobs", "/jobs").GET("/ping", text("pong")))
	r.Setup()

	w := serve(engine, http.MethodGet, "/api/v1/jobs/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestRouterAPIMiddlewareScope(t *testing.T) {
	engine := gin.New()
	engine.GET("/health", text("ok"))

	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	r := NewRouter(engine, WithAPIMiddleware(deny))
	r.Register(NewDomainGroup("jobs", "/jobs").GET("", text("jobs")))
	r.Setup()

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(engine, http.MethodGet, "/api/v1/jobs").Code)
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("backends", "/backends")
		assert.Equal(t, "backends", g.Name())
		assert.Equal(t, "/backends", g.Prefix())
	})

	t.Run("registers every method", func(t *testing.T) {
		engine := gin.New()
		NewDomainGroup("backends", "/backends").
			GET("/:id", text("get")).
			POST("", text("create")).
			PATCH("/:id", text("patch")).
			DELETE("/:id/:model/records/:external_id", text("delete")).
			RegisterRoutes(engine.Group("/api/v1"))

		tests := []struct {
			method, path, want string
		}{
			{http.MethodGet, "/api/v1/backends/1", "get"},
			{http.MethodPost, "/api/v1/backends", "create"},
			{http.MethodPatch, "/api/v1/backends/1", "patch"},
			{http.MethodDelete, "/api/v1/backends/1/magento.product.product/records/SKU-1", "delete"},
		}
		for _, tt := range tests {
			w := serve(engine, tt.method, tt.path)
			assert.Equal(t, http.StatusOK, w.Code, "%s %s", tt.method, tt.path)
			assert.Equal(t, tt.want, w.Body.String())
		}
	})

	t.Run("applies middleware", func(t *testing.T) {
		engine := gin.New()
		NewDomainGroup("jobs", "/jobs").
			Use(func(c *gin.Context) {
				c.Header("X-Test-Middleware", "applied")
				c.Next()
			}).
			GET("", text("ok")).
			RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, http.MethodGet, "/api/v1/jobs")
		assert.Equal(t, "applied", w.Header().Get("X-Test-Middleware"))
	})

	t.Run("subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("bindings", "/bindings")
		g.Group("export", "/:id").POST("/export", text("export")).POST("/export-inventory", text("stock"))
		g.RegisterRoutes(engine.Group("/api/v1"))

		assert.Equal(t, "export", serve(engine, http.MethodPost, "/api/v1/bindings/7/export").Body.String())
		assert.Equal(t, "stock", serve(engine, http.MethodPost, "/api/v1/bindings/7/export-inventory").Body.String())
	})
}
