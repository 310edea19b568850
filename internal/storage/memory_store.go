package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/taxi-dispatch/internal/models"
)

// MemoryStore keeps everything in maps. Transactions are serialized by
// txMu and stage their writes until commit; readers only take mu.
type MemoryStore struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	rides    map[string]models.Ride
	drivers  map[string]models.Driver
	vehicles map[string]models.Vehicle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]models.Ride),
		drivers:  make(map[string]models.Driver),
		vehicles: make(map[string]models.Vehicle),
	}
}

func (m *MemoryStore) Ride(_ context.Context, id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Driver(_ context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) Vehicle(_ context.Context, id string) (models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) OpenRides(_ context.Context) ([]models.Ride, error) {
	return m.filterRides(func(r models.Ride) bool {
		return r.Status == models.StatusRequested && r.DriverID == ""
	}, false), nil
}

func (m *MemoryStore) RidesForDriver(_ context.Context, driverID string) ([]models.Ride, error) {
	return m.filterRides(func(r models.Ride) bool { return r.DriverID == driverID }, true), nil
}

func (m *MemoryStore) RidesForPassenger(_ context.Context, passengerID string) ([]models.Ride, error) {
	return m.filterRides(func(r models.Ride) bool { return r.PassengerID == passengerID }, true), nil
}

func (m *MemoryStore) AvailableDrivers(_ context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0)
	for _, d := range m.drivers {
		if d.IsAvailable {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) filterRides(keep func(models.Ride) bool, newestFirst bool) []models.Ride {
	m.mu.RLock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].RequestedAt, out[j].RequestedAt
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return a.After(b)
		}
		return a.Before(b)
	})
	return out
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{
		store:    m,
		rides:    make(map[string]models.Ride),
		drivers:  make(map[string]models.Driver),
		vehicles: make(map[string]models.Vehicle),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range tx.rides {
		m.rides[id] = r
	}
	for id, d := range tx.drivers {
		m.drivers[id] = d
	}
	for id, v := range tx.vehicles {
		m.vehicles[id] = v
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

type memTx struct {
	store    *MemoryStore
	rides    map[string]models.Ride
	drivers  map[string]models.Driver
	vehicles map[string]models.Vehicle
}

func (t *memTx) Ride(ctx context.Context, id string) (models.Ride, error) {
	if r, ok := t.rides[id]; ok {
		return r.Clone(), nil
	}
	return t.store.Ride(ctx, id)
}

func (t *memTx) Driver(ctx context.Context, id string) (models.Driver, error) {
	if d, ok := t.drivers[id]; ok {
		return d.Clone(), nil
	}
	return t.store.Driver(ctx, id)
}

func (t *memTx) Vehicle(ctx context.Context, id string) (models.Vehicle, error) {
	if v, ok := t.vehicles[id]; ok {
		return v, nil
	}
	return t.store.Vehicle(ctx, id)
}

func (t *memTx) PutRide(_ context.Context, r models.Ride) error {
	t.rides[r.ID] = r.Clone()
	return nil
}

func (t *memTx) PutDriver(_ context.Context, d models.Driver) error {
	t.drivers[d.ID] = d.Clone()
	return nil
}

func (t *memTx) PutVehicle(_ context.Context, v models.Vehicle) error {
	t.store.mu.RLock()
	for id, other := range t.store.vehicles {
		if id != v.ID && other.LicensePlate == v.LicensePlate {
			t.store.mu.RUnlock()
			return ErrDuplicate
		}
	}
	t.store.mu.RUnlock()
	for id, other := range t.vehicles {
		if id != v.ID && other.LicensePlate == v.LicensePlate {
			return ErrDuplicate
		}
	}
	t.vehicles[v.ID] = v
	return nil
}
