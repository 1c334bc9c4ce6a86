package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hardik25812/caidene-order-sub000/internal/models"
	"github.com/hardik25812/caidene-order-sub000/internal/provisioner"
	"github.com/hardik25812/caidene-order-sub000/internal/retry"
	"github.com/hardik25812/caidene-order-sub000/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInventory struct {
	mu         sync.Mutex
	accounts   []models.InventoryAccount
	reserveErr error
	assignErr  error
	releaseErr error
}

func newFakeInventory(emails ...string) *fakeInventory {
	inv := &fakeInventory{}
	for i, email := range emails {
		inv.accounts = append(inv.accounts, models.InventoryAccount{
			ID:        int64(i + 1),
			Email:     email,
			Password:  "secret",
			Status:    models.AccountStatusAvailable,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	return inv
}

func (f *fakeInventory) ReserveAvailable(_ context.Context, n int, orderID string) ([]models.InventoryAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.reserveErr != nil {
		return nil, f.reserveErr
	}

	var reserved []models.InventoryAccount
	for i := range f.accounts {
		if len(reserved) == n {
			break
		}
		if f.accounts[i].Status == models.AccountStatusAvailable {
			f.accounts[i].Status = models.AccountStatusReserved
			f.accounts[i].OrderID = &orderID
			reserved = append(reserved, f.accounts[i])
		}
	}
	return reserved, nil
}

func (f *fakeInventory) Assign(_ context.Context, emails []string, orderID, customerEmail, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.assignErr != nil {
		return f.assignErr
	}

	for _, email := range emails {
		found := false
		for i := range f.accounts {
			if f.accounts[i].Email != email {
				continue
			}
			if f.accounts[i].Status != models.AccountStatusReserved ||
				f.accounts[i].OrderID == nil || *f.accounts[i].OrderID != orderID {
				return fmt.Errorf("account %s: conflict", email)
			}
			f.accounts[i].Status = models.AccountStatusAssigned
			f.accounts[i].CustomerEmail = &customerEmail
			f.accounts[i].Domain = &domain
			found = true
		}
		if !found {
			return fmt.Errorf("account %s: not found", email)
		}
	}
	return nil
}

func (f *fakeInventory) Release(_ context.Context, orderID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.releaseErr != nil {
		return 0, f.releaseErr
	}

	var released int64
	for i := range f.accounts {
		if f.accounts[i].Status == models.AccountStatusReserved &&
			f.accounts[i].OrderID != nil && *f.accounts[i].OrderID == orderID {
			f.accounts[i].Status = models.AccountStatusAvailable
			f.accounts[i].OrderID = nil
			f.accounts[i].CustomerEmail = nil
			f.accounts[i].Domain = nil
			released++
		}
	}
	return released, nil
}

func (f *fakeInventory) Stats(_ context.Context, threshold int) (*models.InventoryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &models.InventoryStats{Threshold: threshold, Total: len(f.accounts)}
	for _, acc := range f.accounts {
		switch acc.Status {
		case models.AccountStatusAvailable:
			stats.Available++
		case models.AccountStatusReserved:
			stats.Reserved++
		case models.AccountStatusAssigned:
			stats.Assigned++
		case models.AccountStatusDepleted:
			stats.Depleted++
		}
	}
	stats.IsLow = stats.Available < threshold
	return stats, nil
}

func (f *fakeInventory) statusOf(email string) models.AccountStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acc := range f.accounts {
		if acc.Email == email {
			return acc.Status
		}
	}
	return ""
}

type fakeOrders struct {
	mu             sync.Mutex
	orders         map[string]*models.Order
	processed      map[string]bool
	reconciliation map[string]bool
	getErr         error
	creates        int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		orders:         make(map[string]*models.Order),
		processed:      make(map[string]bool),
		reconciliation: make(map[string]bool),
	}
}

func (f *fakeOrders) CreateOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	copied := *order
	f.orders[order.ID] = &copied
	return nil
}

func (f *fakeOrders) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	order, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrOrderNotFound, id)
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrders) SetFulfillmentStatus(_ context.Context, orderID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order, ok := f.orders[orderID]; ok {
		order.FulfillmentStatus = status
	}
	return nil
}

func (f *fakeOrders) SaveFulfillmentOutcome(_ context.Context, orderID string, results models.DomainResultList,
	status string, nameservers models.NameserverRecordList, dnsStatus *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	order.FulfillmentResults = results
	order.FulfillmentStatus = status
	order.Nameservers = nameservers
	order.DNSStatus = dnsStatus
	return nil
}

func (f *fakeOrders) MarkNeedsReconciliation(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciliation[orderID] = true
	return nil
}

func (f *fakeOrders) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID], nil
}

func (f *fakeOrders) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (f *fakeAlerts) InsertAlert(_ context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, *alert)
	return nil
}

func (f *fakeAlerts) ofType(alertType string) []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Alert
	for _, a := range f.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

type fakeProvisioner struct {
	mu          sync.Mutex
	addErr      map[string]error
	nsErr       map[string]error
	nameservers map[string][]string
	addCalls    map[string]int
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		addErr:      make(map[string]error),
		nsErr:       make(map[string]error),
		nameservers: make(map[string][]string),
		addCalls:    make(map[string]int),
	}
}

func (f *fakeProvisioner) AddOrder(_ context.Context, req provisioner.AddOrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls[req.Domain]++
	if err := f.addErr[req.Domain]; err != nil {
		return "", err
	}
	return "prov-" + req.Domain, nil
}

func (f *fakeProvisioner) GetNameservers(_ context.Context, providerOrderID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	domain := providerOrderID[len("prov-"):]
	if err := f.nsErr[domain]; err != nil {
		return nil, err
	}
	if ns, ok := f.nameservers[domain]; ok {
		return ns, nil
	}
	return []string{"ns1.infra.email", "ns2.infra.email"}, nil
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
}

func newTestService(inv *fakeInventory, orders *fakeOrders, alerts *fakeAlerts, prov *fakeProvisioner) *FulfillmentService {
	return NewFulfillmentService(inv, orders, alerts, prov, nil, testPolicy(), 0)
}

func seedOrder(orders *fakeOrders, id string, domains ...string) {
	list := make(models.DomainList, 0, len(domains))
	for _, d := range domains {
		list = append(list, models.OrderDomain{Domain: d, ForwardingURL: "https://" + d})
	}
	_ = orders.CreateOrder(context.Background(), &models.Order{
		ID:                id,
		CustomerEmail:     "buyer@example.com",
		Domains:           list,
		FulfillmentStatus: models.FulfillmentStatusPending,
	})
}

func TestFulfillOrderAllDomainsSucceed(t *testing.T) {
	inv := newFakeInventory("a@t1.com", "b@t2.com")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	seedOrder(orders, "order-1", "a.com", "b.com")

	outcome, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, models.FulfillmentStatusCompleted, outcome.FulfillmentStatus)
	assert.Len(t, outcome.Results, 2)
	for _, r := range outcome.Results {
		assert.Equal(t, models.ResultStatusCompleted, r.Status)
		assert.NotEmpty(t, r.Nameservers)
	}
	require.NotNil(t, outcome.DNSStatus)
	assert.Equal(t, models.DNSStatusPendingVerification, *outcome.DNSStatus)

	assert.Equal(t, models.AccountStatusAssigned, inv.statusOf("a@t1.com"))
	assert.Equal(t, models.AccountStatusAssigned, inv.statusOf("b@t2.com"))
}

func TestFulfillOrderInsufficientInventory(t *testing.T) {
	// Pool of 2, order of 3: two domains fulfilled, one failed, order partial.
	inv := newFakeInventory("a@t1.com", "b@t2.com")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	seedOrder(orders, "order-1", "a.com", "b.com", "c.com")

	outcome, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, models.FulfillmentStatusPartial, outcome.FulfillmentStatus)

	var failed *models.DomainResult
	completed := 0
	for i, r := range outcome.Results {
		if r.Status == models.ResultStatusFailed {
			failed = &outcome.Results[i]
		} else {
			completed++
		}
	}
	assert.Equal(t, 2, completed)
	require.NotNil(t, failed)
	assert.Equal(t, "c.com", failed.Domain)
	assert.Equal(t, ErrInsufficientInventory.Error(), failed.Error)

	assert.NotEmpty(t, alerts.ofType(models.AlertTypeLowInventory))
}

func TestFulfillOrderProvisioningFailureKeepsAccountAssigned(t *testing.T) {
	inv := newFakeInventory("a@t1.com")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	prov.addErr["a.com"] = errors.New("upstream 503")
	svc := newTestService(inv, orders, alerts, prov)

	seedOrder(orders, "order-1", "a.com")

	outcome, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)

	require.Len(t, outcome.Results, 1)
	result := outcome.Results[0]
	assert.Equal(t, models.ResultStatusPartial, result.Status)
	assert.Contains(t, result.Error, "provisioning failed")
	assert.Empty(t, result.Nameservers)

	// Inventory is consumed even on provisioning failure: the credential may
	// already be partially registered remotely.
	assert.Equal(t, models.AccountStatusAssigned, inv.statusOf("a@t1.com"))
	assert.Equal(t, 2, prov.addCalls["a.com"]) // retried to the policy limit
}

func TestFulfillOrderMissingNameserversStillCompleted(t *testing.T) {
	inv := newFakeInventory("a@t1.com")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	prov.nsErr["a.com"] = errors.New("not ready yet")
	svc := newTestService(inv, orders, alerts, prov)

	seedOrder(orders, "order-1", "a.com")

	outcome, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)

	require.Len(t, outcome.Results, 1)
	assert.Equal(t, models.ResultStatusCompleted, outcome.Results[0].Status)
	assert.Empty(t, outcome.Results[0].Nameservers)
	assert.Nil(t, outcome.DNSStatus)
}

func TestFulfillOrderAssignFailureReleasesReservation(t *testing.T) {
	inv := newFakeInventory("a@t1.com")
	inv.assignErr = errors.New("db down")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	seedOrder(orders, "order-1", "a.com")

	outcome, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)

	require.Len(t, outcome.Results, 1)
	assert.Equal(t, models.ResultStatusFailed, outcome.Results[0].Status)
	assert.Equal(t, models.AccountStatusAvailable, inv.statusOf("a@t1.com"))
	assert.Empty(t, alerts.ofType(models.AlertTypeRollbackFailure))

	// The failed domain must not enter DNS verification even though
	// provisioning issued nameservers before the assign failure.
	assert.Empty(t, outcome.Nameservers)
	assert.Nil(t, outcome.DNSStatus)
}

func TestFulfillOrderCompensationFailureFlagsReconciliation(t *testing.T) {
	inv := newFakeInventory("a@t1.com")
	inv.assignErr = errors.New("db down")
	inv.releaseErr = errors.New("db still down")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	seedOrder(orders, "order-1", "a.com")

	_, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)

	assert.NotEmpty(t, alerts.ofType(models.AlertTypeRollbackFailure))
	assert.True(t, orders.reconciliation["order-1"])
	// The account stays reserved for the janitor or a manual sweep.
	assert.Equal(t, models.AccountStatusReserved, inv.statusOf("a@t1.com"))
}

func TestRetryOrderOnlyReprocessesFailedDomains(t *testing.T) {
	inv := newFakeInventory("fresh@t3.com")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	completedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	existing := models.DomainResultList{
		{
			Domain:          "a.com",
			AccountEmail:    "old@t1.com",
			ProviderOrderID: "prov-a.com",
			Nameservers:     []string{"ns1.infra.email"},
			Status:          models.ResultStatusCompleted,
			FulfilledAt:     completedAt,
		},
		{Domain: "b.com", Status: models.ResultStatusFailed, Error: "insufficient inventory", FulfilledAt: completedAt},
	}

	_ = orders.CreateOrder(context.Background(), &models.Order{
		ID:            "order-1",
		CustomerEmail: "buyer@example.com",
		Domains: models.DomainList{
			{Domain: "a.com"},
			{Domain: "b.com"},
		},
		FulfillmentStatus:  models.FulfillmentStatusPartial,
		FulfillmentResults: existing,
	})

	outcome, err := svc.RetryOrder(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Processed)
	assert.Equal(t, models.FulfillmentStatusCompleted, outcome.FulfillmentStatus)

	// The completed entry is byte-identical before and after.
	saved, err := orders.GetOrderByID(context.Background(), "order-1")
	require.NoError(t, err)
	untouched := saved.ResultFor("a.com")
	require.NotNil(t, untouched)
	assert.Equal(t, existing[0], *untouched)

	retried := saved.ResultFor("b.com")
	require.NotNil(t, retried)
	assert.Equal(t, models.ResultStatusCompleted, retried.Status)
	assert.NotNil(t, retried.RetriedAt)

	assert.Equal(t, 0, prov.addCalls["a.com"])
	assert.Equal(t, 1, prov.addCalls["b.com"])
}

func TestFulfillOrderDuplicateInvocationIsNoop(t *testing.T) {
	inv := newFakeInventory("a@t1.com")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	seedOrder(orders, "order-1", "a.com")

	first, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)
	second, err := svc.FulfillOrder(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, first.FulfillmentStatus, second.FulfillmentStatus)
	assert.Equal(t, 1, prov.addCalls["a.com"])
}

func TestHandlePaymentConfirmedDeduplicatesEvents(t *testing.T) {
	inv := newFakeInventory("a@t1.com")
	orders := newFakeOrders()
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	event := &models.PaymentSucceededEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypePaymentSucceeded,
			Timestamp: time.Now(),
		},
		OrderID:       "order-1",
		CustomerEmail: "buyer@example.com",
		Domains:       []models.OrderDomain{{Domain: "a.com"}},
	}

	require.NoError(t, svc.HandlePaymentConfirmed(context.Background(), event))
	require.NoError(t, svc.HandlePaymentConfirmed(context.Background(), event))

	assert.Equal(t, 1, prov.addCalls["a.com"])
}

func TestHandlePaymentConfirmedPropagatesStoreOutage(t *testing.T) {
	inv := newFakeInventory("a@t1.com")
	orders := newFakeOrders()
	orders.getErr = fmt.Errorf("get order: %w", store.ErrStoreUnavailable)
	alerts := &fakeAlerts{}
	prov := newFakeProvisioner()
	svc := newTestService(inv, orders, alerts, prov)

	event := &models.PaymentSucceededEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypePaymentSucceeded,
			Timestamp: time.Now(),
		},
		OrderID:       "order-1",
		CustomerEmail: "buyer@example.com",
		Domains:       []models.OrderDomain{{Domain: "a.com"}},
	}

	err := svc.HandlePaymentConfirmed(context.Background(), event)
	require.ErrorIs(t, err, store.ErrStoreUnavailable)

	// An outage must not be mistaken for a missing order.
	assert.Equal(t, 0, orders.creates)
	assert.Equal(t, 0, prov.addCalls["a.com"])
	assert.Equal(t, models.AccountStatusAvailable, inv.statusOf("a@t1.com"))
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all completed", []string{models.ResultStatusCompleted, models.ResultStatusCompleted}, models.FulfillmentStatusCompleted},
		{"all failed", []string{models.ResultStatusFailed, models.ResultStatusFailed}, models.FulfillmentStatusFailed},
		{"mixed", []string{models.ResultStatusCompleted, models.ResultStatusFailed}, models.FulfillmentStatusPartial},
		{"partial counts as neither", []string{models.ResultStatusPartial}, models.FulfillmentStatusPartial},
		{"empty", nil, models.FulfillmentStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(models.DomainResultList, 0, len(tt.statuses))
			for i, s := range tt.statuses {
				results = append(results, models.DomainResult{Domain: fmt.Sprintf("d%d.com", i), Status: s})
			}
			assert.Equal(t, tt.want, aggregateStatus(results))
		})
	}
}

func TestTenantName(t *testing.T) {
	assert.Equal(t, "contoso", tenantName("admin@contoso.onmicrosoft.com"))
	assert.Equal(t, "t1", tenantName("a@t1.com"))
	assert.Equal(t, "localhost", tenantName("a@localhost"))
	assert.Equal(t, "Tenant", tenantName("not-an-email"))
}

func TestMergeResultsReplacesByDomain(t *testing.T) {
	existing := models.DomainResultList{
		{Domain: "a.com", Status: models.ResultStatusCompleted},
		{Domain: "b.com", Status: models.ResultStatusFailed},
	}
	fresh := []models.DomainResult{
		{Domain: "b.com", Status: models.ResultStatusCompleted},
	}

	merged := mergeResults(existing, fresh)
	require.Len(t, merged, 2)
	assert.Equal(t, models.ResultStatusCompleted, merged[0].Status)
	assert.Equal(t, "a.com", merged[0].Domain)
	assert.Equal(t, models.ResultStatusCompleted, merged[1].Status)
	assert.Equal(t, "b.com", merged[1].Domain)
}

func TestMergeNameserverRecordsSkipsFailedDomains(t *testing.T) {
	results := models.DomainResultList{
		{Domain: "a.com", Status: models.ResultStatusCompleted, Nameservers: []string{"ns1.infra.email"}},
		{Domain: "b.com", Status: models.ResultStatusFailed, Nameservers: []string{"ns1.infra.email"}},
		{Domain: "c.com", Status: models.ResultStatusPartial},
	}

	records := mergeNameserverRecords(nil, results)
	require.Len(t, records, 1)
	assert.Equal(t, "a.com", records[0].Domain)
}
