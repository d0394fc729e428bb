package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
)

func TestCallIdempotentSucceedsAfterRetries(t *testing.T) {
	f := &Fabric{maxRetries: 5, retryBudget: time.Second}

	attempts := 0
	err := f.CallIdempotent(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return piccoloerr.New(piccoloerr.CodeUnavailable, "", "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("CallIdempotent: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCallIdempotentDoesNotRetryNonRetryableErrors(t *testing.T) {
	f := &Fabric{maxRetries: 5, retryBudget: time.Second}

	attempts := 0
	wantErr := piccoloerr.New(piccoloerr.CodeBadRequest, "", "bad input")
	err := f.CallIdempotent(context.Background(), func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wantErr, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestCallIdempotentGivesUpAfterMaxRetries(t *testing.T) {
	f := &Fabric{maxRetries: 2, retryBudget: time.Second}

	attempts := 0
	err := f.CallIdempotent(context.Background(), func(ctx context.Context) error {
		attempts++
		return piccoloerr.New(piccoloerr.CodeUnavailable, "", "still down")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected maxRetries+1 = 3 attempts, got %d", attempts)
	}
}
