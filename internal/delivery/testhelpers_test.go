package delivery_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

func toPGUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func uuidFromPG(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}

// memStore is an in-memory stand-in for the shipment, order and provider
// repositories, with the same compare-and-set semantics as the SQL layer.
type memStore struct {
	mu        sync.Mutex
	shipments map[string]*repo.Shipment
	orders    map[string]*repo.Order
	providers map[string]*repo.Provider

	createErr        error
	updateCheckedErr error
}

func newMemStore() *memStore {
	return &memStore{
		shipments: make(map[string]*repo.Shipment),
		orders:    make(map[string]*repo.Order),
		providers: make(map[string]*repo.Provider),
	}
}

func (m *memStore) addOrder(order repo.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copyOrder := order
	m.orders[uuidFromPG(order.ID).String()] = &copyOrder
}

func (m *memStore) addProvider(p repo.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copyProvider := p
	m.providers[uuidFromPG(p.ID).String()] = &copyProvider
}

func (m *memStore) addShipment(s repo.Shipment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copyShipment := s
	m.shipments[uuidFromPG(s.ID).String()] = &copyShipment
}

func (m *memStore) orderStatus(id pgtype.UUID) repo.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[uuidFromPG(id).String()].Status
}

func (m *memStore) Create(_ context.Context, arg repo.CreateShipmentParams) (repo.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return repo.Shipment{}, m.createErr
	}
	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	shipment := repo.Shipment{
		ID:           toPGUUID(uuid.New()),
		OrderID:      arg.OrderID,
		ProviderID:   arg.ProviderID,
		ProviderType: arg.ProviderType,
		TrackingID:   arg.TrackingID,
		ExternalID:   arg.ExternalID,
		Status:       arg.Status,
		Metadata:     arg.Metadata,
		CODAmount:    arg.CODAmount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.shipments[uuidFromPG(shipment.ID).String()] = &shipment
	copyShipment := shipment
	return copyShipment, nil
}

func (m *memStore) Get(_ context.Context, id pgtype.UUID) (repo.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shipments[uuidFromPG(id).String()]; ok {
		return *s, nil
	}
	return repo.Shipment{}, pgx.ErrNoRows
}

func (m *memStore) ListByOrder(_ context.Context, orderID pgtype.UUID) ([]repo.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Shipment
	for _, s := range m.shipments {
		if s.OrderID == orderID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) UpdateChecked(_ context.Context, arg repo.UpdateCheckedParams) (repo.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateCheckedErr != nil {
		return repo.Shipment{}, m.updateCheckedErr
	}
	s, ok := m.shipments[uuidFromPG(arg.ID).String()]
	if !ok {
		return repo.Shipment{}, pgx.ErrNoRows
	}
	if !s.UpdatedAt.Time.Equal(arg.PrevUpdatedAt.Time) {
		return repo.Shipment{}, pgx.ErrNoRows
	}
	s.Status = arg.Status
	s.RawStatus = arg.RawStatus
	if len(arg.Metadata) > 0 {
		s.Metadata = arg.Metadata
	}
	s.LastChecked = arg.LastChecked
	s.UpdatedAt = pgtype.Timestamptz{Time: s.UpdatedAt.Time.Add(time.Microsecond), Valid: true}
	return *s, nil
}

func (m *memStore) Delete(_ context.Context, id pgtype.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuidFromPG(id).String()
	if _, ok := m.shipments[key]; !ok {
		return false, nil
	}
	delete(m.shipments, key)
	return true, nil
}

// orderStore adapts memStore to the order reconciliation contract.
type orderStore struct{ *memStore }

func (m orderStore) Get(_ context.Context, id pgtype.UUID) (repo.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[uuidFromPG(id).String()]; ok {
		return *o, nil
	}
	return repo.Order{}, pgx.ErrNoRows
}

func (m orderStore) UpdateStatusIfCurrent(_ context.Context, arg repo.UpdateStatusIfCurrentParams) (pgtype.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[uuidFromPG(arg.ID).String()]
	if !ok || o.Status != arg.From {
		return pgtype.UUID{}, pgx.ErrNoRows
	}
	o.Status = arg.To
	o.UpdatedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	return o.ID, nil
}

// providerStore adapts memStore to the provider read contract.
type providerStore struct{ *memStore }

func (m providerStore) Get(_ context.Context, id pgtype.UUID) (repo.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[uuidFromPG(id).String()]; ok {
		return *p, nil
	}
	return repo.Provider{}, pgx.ErrNoRows
}

// fakeAdapter is a canned courier implementation recording what it was asked.
type fakeAdapter struct {
	typeName string

	connection courier.ConnectionResult

	createResult courier.CreateResult
	createErr    error
	createCalls  int
	lastCreate   courier.CreateRequest

	statusResult courier.StatusResult
	statusErr    error
	statusCalls  int
	lastQuery    courier.StatusQuery
}

func (f *fakeAdapter) Type() string {
	if f.typeName == "" {
		return courier.TypePathao
	}
	return f.typeName
}

func (f *fakeAdapter) TestConnection(context.Context) courier.ConnectionResult {
	return f.connection
}

func (f *fakeAdapter) CreateShipment(_ context.Context, req courier.CreateRequest) (courier.CreateResult, error) {
	f.createCalls++
	f.lastCreate = req
	if f.createErr != nil {
		return courier.CreateResult{}, f.createErr
	}
	if f.createResult.TrackingID == "" {
		return courier.CreateResult{TrackingID: "TRK-1", ExternalID: "EXT-1", Raw: json.RawMessage(`{"ok":true}`)}, nil
	}
	return f.createResult, nil
}

func (f *fakeAdapter) CheckStatus(_ context.Context, q courier.StatusQuery) (courier.StatusResult, error) {
	f.statusCalls++
	f.lastQuery = q
	if f.statusErr != nil {
		return courier.StatusResult{}, f.statusErr
	}
	return f.statusResult, nil
}

// fakeFactory hands out a fixed adapter regardless of the stored record.
type fakeFactory struct {
	adapter *fakeAdapter
	err     error
	calls   int
}

func (f *fakeFactory) Create(repo.Provider) (courier.Provider, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}
