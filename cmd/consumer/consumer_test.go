package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/models"
)

// fakeApplier fails the first n calls with err.
type fakeApplier struct {
	failFirst int
	err       error
	calls     int
	last      models.Principal
}

func (f *fakeApplier) UpdateLocation(_ context.Context, p models.Principal, loc models.Coord) (models.Driver, error) {
	f.calls++
	f.last = p
	if f.calls <= f.failFirst {
		return models.Driver{}, f.err
	}
	return models.Driver{ID: p.ID, Location: &loc}, nil
}

var update = models.LocationUpdate{DriverID: "d1", Loc: models.Coord{Lat: 1, Lng: 2}}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeApplier{failFirst: 2, err: apperr.Storage("update location", errors.New("conn reset"))}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, update, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if f.last.ID != "d1" || f.last.Role != models.RoleDriver {
		t.Fatalf("applied as %+v", f.last)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("expected backoff between attempts")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeApplier{failFirst: 5, err: apperr.Storage("update location", errors.New("down"))}
	if err := applyWithRetry(context.Background(), f, update, 3, time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestApplyWithRetry_DoesNotRetryRejections(t *testing.T) {
	for _, err := range []error{
		apperr.NotFound("update location", "driver", "d1"),
		apperr.Validation("update location", "coordinate out of range"),
	} {
		f := &fakeApplier{failFirst: 5, err: err}
		if got := applyWithRetry(context.Background(), f, update, 3, time.Millisecond); !errors.Is(got, err) {
			t.Fatalf("expected %v, got %v", err, got)
		}
		if f.calls != 1 {
			t.Fatalf("%v retried %d times", err, f.calls)
		}
	}
}

type scriptedReader struct {
	msgs   [][]byte
	cancel context.CancelFunc
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return kafka.Message{Value: m}, nil
}

func TestConsumeAppliesValidMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &scriptedReader{cancel: cancel, msgs: [][]byte{
		[]byte(`{"driver_id":"d1","loc":{"lat":1,"lng":2}}`),
		[]byte(`not json`),
		[]byte(`{"loc":{"lat":1,"lng":2}}`),
		[]byte(`{"driver_id":"d2","loc":{"lat":3,"lng":4}}`),
	}}
	f := &fakeApplier{}
	consume(ctx, r, f, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if f.calls != 2 || f.last.ID != "d2" {
		t.Fatalf("expected two applied updates ending with d2, got calls=%d last=%+v", f.calls, f.last)
	}
}
