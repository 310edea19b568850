package geo

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// EarthRadiusKm is the sphere radius used for great-circle distance.
const EarthRadiusKm = 6371.0

// BaselineSpeedKmh is the flat speed travel time estimates assume.
const BaselineSpeedKmh = 50.0

var ErrBadTrafficFactor = errors.New("traffic factor must be a positive finite number")

// Haversine distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// DistanceKm is the great-circle distance between two coordinates.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// ValidCoordinate reports whether lat/lng are finite and inside the WGS84 ranges.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func Valid(c models.Coord) bool { return ValidCoordinate(c.Lat, c.Lng) }

// EstimateTravelMinutes assumes BaselineSpeedKmh scaled by trafficFactor
// (>1 congestion, <1 light traffic).
func EstimateTravelMinutes(distanceKm, trafficFactor float64) (float64, error) {
	if trafficFactor <= 0 || math.IsNaN(trafficFactor) || math.IsInf(trafficFactor, 0) {
		return 0, ErrBadTrafficFactor
	}
	return distanceKm / BaselineSpeedKmh * 60 * trafficFactor, nil
}

// TravelMinutes is EstimateTravelMinutes under normal traffic.
func TravelMinutes(distanceKm float64) float64 {
	return distanceKm / BaselineSpeedKmh * 60
}

// Hit is a tracked driver position within a search radius.
type Hit struct {
	DriverID   string
	Loc        models.Coord
	DistanceKm float64
}

// Locator is the driver position index consulted by matching and fed by
// location updates.
type Locator interface {
	Upsert(ctx context.Context, driverID string, loc models.Coord) error
	Remove(ctx context.Context, driverID string) error
	Within(ctx context.Context, center models.Coord, radiusKm float64) ([]Hit, error)
}

type position struct {
	loc     models.Coord
	updated time.Time
}

// Index is an in-memory Locator.
type Index struct {
	mu        sync.RWMutex
	positions map[string]position
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]position)}
}

func (g *Index) Upsert(_ context.Context, driverID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[driverID] = position{loc: loc, updated: time.Now()}
	return nil
}

func (g *Index) Remove(_ context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, driverID)
	return nil
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Within(_ context.Context, center models.Coord, radiusKm float64) ([]Hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Hit, 0)
	for id, p := range g.positions {
		dist := DistanceKm(center, p.loc)
		if dist > radiusKm {
			continue
		}
		out = append(out, Hit{DriverID: id, Loc: p.loc, DistanceKm: dist})
	}
	SortHits(out)
	return out, nil
}

// SortHits orders nearest first, ties by driver id.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceKm != hits[j].DistanceKm {
			return hits[i].DistanceKm < hits[j].DistanceKm
		}
		return hits[i].DriverID < hits[j].DriverID
	})
}
