package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AccountStatus is the lifecycle state of an inventory account.
type AccountStatus string

const (
	AccountStatusAvailable AccountStatus = "available"
	AccountStatusReserved  AccountStatus = "reserved"
	AccountStatusAssigned  AccountStatus = "assigned"
	AccountStatusDepleted  AccountStatus = "depleted"
)

// accountTransitions holds the legal status edges. available→reserved→assigned
// is the success path, reserved→available the compensation path; depletion is
// out-of-band and allowed from any state.
var accountTransitions = map[AccountStatus][]AccountStatus{
	AccountStatusAvailable: {AccountStatusReserved, AccountStatusDepleted},
	AccountStatusReserved:  {AccountStatusAssigned, AccountStatusAvailable, AccountStatusDepleted},
	AccountStatusAssigned:  {AccountStatusDepleted},
	AccountStatusDepleted:  {},
}

// CanTransitionTo reports whether the status change is legal.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range accountTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InventoryAccount is one sendable credential unit in the pool.
type InventoryAccount struct {
	ID            int64         `db:"id" json:"id"`
	Email         string        `db:"email" json:"email"`
	Password      string        `db:"password" json:"-"`
	Status        AccountStatus `db:"status" json:"status"`
	OrderID       *string       `db:"order_id" json:"order_id,omitempty"`
	CustomerEmail *string       `db:"customer_email" json:"customer_email,omitempty"`
	Domain        *string       `db:"domain" json:"domain,omitempty"`
	Notes         *string       `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	ReservedAt    *time.Time    `db:"reserved_at" json:"reserved_at,omitempty"`
	AssignedAt    *time.Time    `db:"assigned_at" json:"assigned_at,omitempty"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// InventoryStats is the read-only aggregate over the pool.
type InventoryStats struct {
	Total     int  `json:"total"`
	Available int  `json:"available"`
	Reserved  int  `json:"reserved"`
	Assigned  int  `json:"assigned"`
	Depleted  int  `json:"depleted"`
	IsLow     bool `json:"is_low"`
	Threshold int  `json:"threshold"`
}

// Order fulfillment statuses
const (
	FulfillmentStatusPending    = "pending"
	FulfillmentStatusProcessing = "processing"
	FulfillmentStatusQueued     = "queued"
	FulfillmentStatusPartial    = "partial"
	FulfillmentStatusCompleted  = "completed"
	FulfillmentStatusFailed     = "failed"
	FulfillmentStatusActive     = "active"
)

// DNS statuses
const (
	DNSStatusPendingVerification = "pending_verification"
	DNSStatusVerified            = "verified"
)

// Per-domain result statuses
const (
	ResultStatusCompleted = "completed"
	ResultStatusPartial   = "partial"
	ResultStatusFailed    = "failed"
)

// PersonName is a requested mailbox identity for a domain.
type PersonName struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// OrderDomain is one ordered domain with its forwarding target.
type OrderDomain struct {
	Domain        string       `json:"domain"`
	ForwardingURL string       `json:"forwardingUrl"`
	Names         []PersonName `json:"names,omitempty"`
}

// DomainResult records the fulfillment outcome for a single domain.
type DomainResult struct {
	Domain          string     `json:"domain"`
	ForwardingURL   string     `json:"forwardingUrl,omitempty"`
	AccountEmail    string     `json:"account_email,omitempty"`
	ProviderOrderID string     `json:"provider_order_id,omitempty"`
	Nameservers     []string   `json:"nameservers,omitempty"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	FulfilledAt     time.Time  `json:"fulfilled_at"`
	RetriedAt       *time.Time `json:"retried_at,omitempty"`
}

// NameserverRecord tracks DNS delegation verification for one domain.
type NameserverRecord struct {
	Domain      string     `json:"domain"`
	Nameservers []string   `json:"nameservers"`
	DNSVerified bool       `json:"dns_verified"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// Order is a paid order awaiting or undergoing fulfillment.
type Order struct {
	ID                  string               `db:"id" json:"id"`
	CustomerEmail       string               `db:"customer_email" json:"customer_email"`
	Domains             DomainList           `db:"domains" json:"domains"`
	FulfillmentStatus   string               `db:"fulfillment_status" json:"fulfillment_status"`
	DNSStatus           *string              `db:"dns_status" json:"dns_status,omitempty"`
	FulfillmentResults  DomainResultList     `db:"fulfillment_results" json:"fulfillment_results"`
	Nameservers         NameserverRecordList `db:"nameservers" json:"nameservers"`
	NeedsReconciliation bool                 `db:"needs_reconciliation" json:"needs_reconciliation"`
	DNSLastChecked      *time.Time           `db:"dns_last_checked" json:"dns_last_checked,omitempty"`
	CreatedAt           time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time            `db:"updated_at" json:"updated_at"`
}

// ResultFor returns the fulfillment result for a domain, if any.
func (o *Order) ResultFor(domain string) *DomainResult {
	for i := range o.FulfillmentResults {
		if o.FulfillmentResults[i].Domain == domain {
			return &o.FulfillmentResults[i]
		}
	}
	return nil
}

// Alert types
const (
	AlertTypeLowInventory    = "low_inventory"
	AlertTypeRollbackFailure = "rollback_failure"
	AlertTypeDNSVerified     = "dns_verified"
)

// Alert statuses
const (
	AlertStatusUnread = "unread"
	AlertStatusRead   = "read"
)

// Alert is an append-only operator notification.
type Alert struct {
	ID        string    `db:"id" json:"id"`
	Type      string    `db:"type" json:"type"`
	Message   string    `db:"message" json:"message"`
	Metadata  JSONMap   `db:"metadata" json:"metadata"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// JSONB column types

type DomainList []OrderDomain

type DomainResultList []DomainResult

type NameserverRecordList []NameserverRecord

type JSONMap map[string]interface{}

func (d DomainList) Value() (driver.Value, error)           { return jsonbValue(d) }
func (d *DomainList) Scan(src interface{}) error            { return jsonbScan(src, d) }
func (r DomainResultList) Value() (driver.Value, error)     { return jsonbValue(r) }
func (r *DomainResultList) Scan(src interface{}) error      { return jsonbScan(src, r) }
func (n NameserverRecordList) Value() (driver.Value, error) { return jsonbValue(n) }
func (n *NameserverRecordList) Scan(src interface{}) error  { return jsonbScan(src, n) }
func (m JSONMap) Value() (driver.Value, error)              { return jsonbValue(m) }
func (m *JSONMap) Scan(src interface{}) error               { return jsonbScan(src, m) }

func jsonbValue(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonbScan(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, dst)
	case string:
		return json.Unmarshal([]byte(data), dst)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}
