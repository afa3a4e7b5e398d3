package alert

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestNextCronDuration_Valid(t *testing.T) {
	// Every minute: the next fire is at most 60s out.
	d := nextCronDuration("* * * * *")
	if d <= 0 || d > time.Minute {
		t.Errorf("nextCronDuration() = %v, want (0, 1m]", d)
	}
}

func TestNextCronDuration_Invalid(t *testing.T) {
	if d := nextCronDuration("not a cron"); d != 0 {
		t.Errorf("nextCronDuration() = %v, want 0 for bad expression", d)
	}
}

func TestRunDigestLoop_EmptyExprReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunDigestLoop(context.Background(), nil, NopNotifier{}, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDigestLoop did not return for empty expression")
	}
}

func TestRunDigestLoop_InvalidExprReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunDigestLoop(context.Background(), nil, NopNotifier{}, "bogus")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDigestLoop did not return for invalid expression")
	}
}

func TestRunDigestLoop_StopsOnCancel(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunDigestLoop(ctx, db, NopNotifier{}, "0 9 * * *")
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDigestLoop did not stop after cancel")
	}
}
