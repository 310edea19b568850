package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestPublishLocationKeysByDriver(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	u := models.LocationUpdate{DriverID: "d7", Loc: models.Coord{Lat: 1.5, Lng: -2.5}, At: at}

	if err := p.PublishLocation(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "d7" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var got models.LocationUpdate
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.DriverID != "d7" || got.Loc != u.Loc || !got.At.Equal(at) {
		t.Fatalf("payload = %+v", got)
	}
	_ = p.Close()
	if !w.closed {
		t.Fatal("writer not closed")
	}
}
