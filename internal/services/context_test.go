package services_test

import (
	"context"
	"testing"

	"murmur/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-42")
	ctx = services.WithModel(ctx, "large-v3")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-42" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if model, ok := services.ModelFromContext(ctx); !ok || model != "large-v3" {
		t.Fatalf("unexpected model: %v %v", model, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	if services.WithJobID(ctx, "") != ctx {
		t.Fatal("expected blank job id to return the original context")
	}
	if _, ok := services.ModelFromContext(services.WithModel(ctx, "")); ok {
		t.Fatal("expected no model for blank value")
	}
}
