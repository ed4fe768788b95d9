package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_RecordsByRoute(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	router := gin.New()
	router.Use(HTTPMetrics(mp))
	router.GET("/api/v1/integrations/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/integrations/"+id, nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	var active int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "http.server.request.total":
				sum := m.Data.(metricdata.Sum[int64])
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("http.route"))
					counts[route.AsString()] += dp.Value
				}
			case "http.server.active_requests":
				sum := m.Data.(metricdata.Sum[int64])
				active = 0
				for _, dp := range sum.DataPoints {
					active += dp.Value
				}
			}
		}
	}

	assert.Equal(t, int64(3), counts["/api/v1/integrations/:id"])
	assert.Equal(t, int64(1), counts["unknown"])
	assert.Equal(t, int64(0), active)
}
