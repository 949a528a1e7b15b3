// Package testutil holds fixtures shared by the store, service and handler
// tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"parish-system/internal/services/gateway"
	"parish-system/internal/store"
	"parish-system/models"

	"github.com/stretchr/testify/require"
)

// NewStore opens a migrated in-memory database closed at test end.
func NewStore(t testing.TB) *store.Store {
	t.Helper()

	st, err := store.Open("file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.Migrate()
	require.NoError(t, err)
	return st
}

// SeedUser stores a payer profile that passes every contact check.
func SeedUser(t testing.TB, st *store.Store, id string) *models.User {
	t.Helper()

	u := &models.User{
		ID:             id,
		Name:           "Maria",
		LastName:       "Gomez " + id,
		Email:          id + "@example.com",
		Phone:          "3001234567",
		DocumentType:   "CC",
		DocumentNumber: "1020304050",
	}
	require.NoError(t, st.Conn(context.Background()).PutUser(u))
	return u
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type Notification struct {
	UserID string
	Event  string
	Data   map[string]any
}

// RecordingNotifier keeps every notification it is given.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []Notification
}

func (n *RecordingNotifier) Notify(_ context.Context, userID, event string, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, Notification{UserID: userID, Event: event, Data: data})
}

func (n *RecordingNotifier) Events() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.events...)
}

// Count returns how many notifications of event were sent.
func (n *RecordingNotifier) Count(event string) int {
	total := 0
	for _, e := range n.Events() {
		if e.Event == event {
			total++
		}
	}
	return total
}

// FakeGateway is a scripted gateway. Webhook bodies are JSON-encoded
// Notifications and are trusted as is.
type FakeGateway struct {
	Name        gateway.Provider
	CheckoutErr error
	ResolveErr  error

	mu        sync.Mutex
	checkouts []*gateway.CheckoutRequest
}

func NewFakeGateway(name gateway.Provider) *FakeGateway {
	return &FakeGateway{Name: name}
}

func (g *FakeGateway) Provider() gateway.Provider {
	return g.Name
}

func (g *FakeGateway) CreateCheckout(_ context.Context, req *gateway.CheckoutRequest) (*gateway.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CheckoutErr != nil {
		return nil, g.CheckoutErr
	}
	g.checkouts = append(g.checkouts, req)
	return &gateway.Checkout{
		Provider:      g.Name,
		RedirectURL:   "https://gateway.test/checkout/" + req.ReferenceCode,
		CorrelationID: "corr-" + req.ReferenceCode,
	}, nil
}

func (g *FakeGateway) Resolve(_ context.Context, req *gateway.WebhookRequest) (*gateway.Notification, error) {
	if g.ResolveErr != nil {
		return nil, g.ResolveErr
	}
	var n gateway.Notification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("fake gateway: %w", err)
	}
	n.Provider = g.Name
	n.Raw = req.Body
	return &n, nil
}

func (g *FakeGateway) Checkouts() []*gateway.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*gateway.CheckoutRequest(nil), g.checkouts...)
}

// Webhook builds a delivery the fake gateway resolves to the given status.
func Webhook(t testing.TB, reference string, st models.PaymentStatus, amount int64) *gateway.WebhookRequest {
	t.Helper()

	body, err := json.Marshal(gateway.Notification{
		ReferenceCode:    reference,
		GatewayPaymentID: "pay-" + reference,
		GatewayStatus:    string(st),
		Status:           st,
		Amount:           amount,
	})
	require.NoError(t, err)
	return &gateway.WebhookRequest{Body: body}
}
