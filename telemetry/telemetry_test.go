package telemetry

import (
	"context"
	"testing"
)

func TestSetup(t *testing.T) {
	t.Run("no endpoint is a no-op", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), "slackrag", "test", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err = shutdown(context.Background()); err != nil {
			t.Errorf("unexpected shutdown error: %v", err)
		}
	})
	t.Run("an endpoint installs a provider", func(t *testing.T) {
		// The gRPC exporter connects lazily, so no collector is needed.
		shutdown, err := Setup(context.Background(), "slackrag", "test", "localhost:4317")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = shutdown(ctx)
	})
}
