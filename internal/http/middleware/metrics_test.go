package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteTemplateLabelAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/groups/:id/posts", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.GET("/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseTpl := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/groups/:id/posts", "200"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))
	baseEmpty := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/empty", "204"))

	for _, p := range []string{"/groups/a/posts", "/groups/b/posts", "/nope", "/empty"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	// Concrete ids collapse onto the registered template.
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/groups/:id/posts", "200")); got != baseTpl+2 {
		t.Fatalf("template counter = %v; want %v", got, baseTpl+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != baseMiss+1 {
		t.Fatalf("fallback counter = %v; want %v", got, baseMiss+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/empty", "204")); got != baseEmpty+1 {
		t.Fatalf("204 counter = %v; want %v", got, baseEmpty+1)
	}
	if v := testutil.ToFloat64(httpInflight); v != 0 {
		t.Fatalf("httpInflight = %v; want 0", v)
	}
}

func TestRateLimitRejections_EdgeScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.001, 1, KeyByIP())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	base := testutil.ToFloat64(rateLimitRejections.WithLabelValues("edge"))
	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	}
	if got := testutil.ToFloat64(rateLimitRejections.WithLabelValues("edge")); got != base+2 {
		t.Fatalf("edge rejections = %v; want %v", got, base+2)
	}
}
