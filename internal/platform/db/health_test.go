package db

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHealthResponse_JSONShape(t *testing.T) {
	resp := &HealthResponse{
		Status:  "healthy",
		Service: "carealert",
		Pool: &PoolStats{
			TotalConns:      4,
			IdleConns:       2,
			AcquiredConns:   2,
			MaxConns:        20,
			AcquireCount:    100,
			AcquireDuration: "250ms",
			Healthy:         true,
		},
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)

	if !strings.Contains(body, `"service":"carealert"`) {
		t.Errorf("service name missing from payload: %s", body)
	}
	if strings.Contains(body, `"error"`) {
		t.Errorf("empty error must be omitted: %s", body)
	}

	resp.Status = "unhealthy"
	resp.Error = "connection refused"
	raw, _ = json.Marshal(resp)
	if !strings.Contains(string(raw), `"error":"connection refused"`) {
		t.Errorf("error missing from unhealthy payload: %s", raw)
	}
}
