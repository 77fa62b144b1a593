package telemetry

import (
	"context"
	"testing"

	"github.com/l1jgo/objcore/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		{"disabled", config.TelemetryConfig{Endpoint: "http://localhost:4318"}},
		{"no endpoint", config.TelemetryConfig{Enabled: true}},
		// non-routable address so no actual export happens
		{"exporter", config.TelemetryConfig{Enabled: true, Endpoint: "http://192.0.2.1:4318"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), "objcore-test", tt.cfg)
			require.NoError(t, err)
			require.NoError(t, shutdown(context.Background()))
		})
	}
}
