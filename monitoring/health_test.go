package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckHandlerReportsComponents(t *testing.T) {
	RegisterHealthCheck("always-up", func() bool { return true })
	RegisterHealthCheck("always-down", func() bool { return false })

	rec := httptest.NewRecorder()
	HealthCheckHandler(rec, httptest.NewRequest("GET", "/health", nil))

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))

	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "healthy", status.ComponentStatus["always-up"])
	assert.Equal(t, "unhealthy", status.ComponentStatus["always-down"])
}

func TestRegisterHealthCheckDuringServe(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			RegisterHealthCheck(fmt.Sprintf("component-%d", i), func() bool { return true })
		}(i)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			HealthCheckHandler(rec, httptest.NewRequest("GET", "/health", nil))
		}()
	}
	wg.Wait()
}
