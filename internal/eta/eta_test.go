package eta

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

type stubClient struct {
	v     float64
	err   error
	calls int
}

func (s *stubClient) EstimateMinutes(context.Context, models.Coord, models.Coord) (float64, error) {
	s.calls++
	return s.v, s.err
}

func TestFlatUsesBaselineSpeed(t *testing.T) {
	from := models.Coord{Lat: 0, Lng: 0}
	to := models.Coord{Lat: 0, Lng: 1} // ~111.2 km
	got, err := Flat{}.EstimateMinutes(context.Background(), from, to)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-133.4) > 0.5 {
		t.Fatalf("flat eta = %v, want ~133.4", got)
	}
	slow, _ := Flat{TrafficFactor: 2}.EstimateMinutes(context.Background(), from, to)
	if math.Abs(slow-2*got) > 1e-9 {
		t.Fatalf("traffic factor not applied: %v vs %v", slow, got)
	}
}

func TestChainCachesPrimary(t *testing.T) {
	p := &stubClient{v: 7}
	c := &Chain{Primary: p, Cache: NewCache(time.Minute)}
	a, b := models.Coord{Lat: 1, Lng: 1}, models.Coord{Lat: 2, Lng: 2}
	for i := 0; i < 3; i++ {
		v, err := c.EstimateMinutes(context.Background(), a, b)
		if err != nil || v != 7 {
			t.Fatalf("got %v, %v", v, err)
		}
	}
	if p.calls != 1 {
		t.Fatalf("primary called %d times, want 1", p.calls)
	}
}

func TestChainFallsBack(t *testing.T) {
	p := &stubClient{err: errors.New("down")}
	f := &stubClient{v: 3}
	c := &Chain{Primary: p, Fallback: f}
	v, err := c.EstimateMinutes(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	if err != nil || v != 3 {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(time.Millisecond)
	a, b := models.Coord{Lat: 1}, models.Coord{Lat: 2}
	c.Set(a, b, 5)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestOSRMClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"duration":600}]}`))
	}))
	defer srv.Close()
	got, err := NewOSRMClient(srv.URL).EstimateMinutes(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got != 10 {
		t.Fatalf("got %v minutes, want 10", got)
	}
}
