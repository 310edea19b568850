package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/taxi-dispatch/internal/models"
)

var (
	newYork    = models.Coord{Lat: 40.7128, Lng: -74.0060}
	losAngeles = models.Coord{Lat: 34.0522, Lng: -118.2437}
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	if d := DistanceKm(newYork, newYork); d != 0 {
		t.Fatalf("expected 0 for identical points, got %f", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pts := []models.Coord{
		newYork, losAngeles,
		{Lat: 90, Lng: 180}, {Lat: -90, Lng: -180},
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 180},
		{Lat: 51.5074, Lng: -0.1278}, {Lat: -33.8688, Lng: 151.2093},
	}
	for _, a := range pts {
		for _, b := range pts {
			ab, ba := DistanceKm(a, b), DistanceKm(b, a)
			if ab != ba {
				t.Fatalf("asymmetric %v %v: %f vs %f", a, b, ab, ba)
			}
			if math.IsNaN(ab) || ab < 0 {
				t.Fatalf("bad distance %f for %v %v", ab, a, b)
			}
		}
	}
}

func TestDistanceNewYorkLosAngeles(t *testing.T) {
	d := DistanceKm(newYork, losAngeles)
	if d < 3900 || d > 4000 {
		t.Fatalf("NY-LA = %f km, want 3900..4000", d)
	}
}

func TestValidCoordinate(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.0001, 0, false},
		{0, -180.5, false},
		{math.NaN(), 0, false},
		{0, math.Inf(1), false},
	}
	for _, c := range cases {
		if got := ValidCoordinate(c.lat, c.lng); got != c.want {
			t.Errorf("ValidCoordinate(%v, %v) = %v, want %v", c.lat, c.lng, got, c.want)
		}
	}
}

func TestEstimateTravelMinutes(t *testing.T) {
	cases := []struct {
		dist, factor, want float64
	}{
		{100, 1.0, 120},
		{100, 1.5, 180},
		{100, 0.8, 96},
		{0, 1, 0},
	}
	for _, c := range cases {
		got, err := EstimateTravelMinutes(c.dist, c.factor)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("EstimateTravelMinutes(%v, %v) = %v, want %v", c.dist, c.factor, got, c.want)
		}
	}
	if _, err := EstimateTravelMinutes(10, 0); err == nil {
		t.Fatal("expected error for zero traffic factor")
	}
	if TravelMinutes(100) != 120 {
		t.Fatalf("TravelMinutes(100) = %v", TravelMinutes(100))
	}
}

func TestIndexWithinOrdersNearestFirst(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	_ = idx.Upsert(ctx, "far", losAngeles)
	_ = idx.Upsert(ctx, "near", models.Coord{Lat: 40.7138, Lng: -74.0060})
	_ = idx.Upsert(ctx, "mid", models.Coord{Lat: 40.7300, Lng: -74.0060})

	hits, err := idx.Within(ctx, newYork, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].DriverID != "near" || hits[1].DriverID != "mid" {
		t.Fatalf("unexpected hits %+v", hits)
	}

	_ = idx.Remove(ctx, "near")
	hits, _ = idx.Within(ctx, newYork, 5)
	if len(hits) != 1 || hits[0].DriverID != "mid" {
		t.Fatalf("unexpected hits after remove %+v", hits)
	}
}
