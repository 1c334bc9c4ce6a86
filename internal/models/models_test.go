package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountStatusTransitions(t *testing.T) {
	tests := []struct {
		from    AccountStatus
		to      AccountStatus
		allowed bool
	}{
		{AccountStatusAvailable, AccountStatusReserved, true},
		{AccountStatusAvailable, AccountStatusDepleted, true},
		{AccountStatusAvailable, AccountStatusAssigned, false},
		{AccountStatusReserved, AccountStatusAssigned, true},
		{AccountStatusReserved, AccountStatusAvailable, true},
		{AccountStatusReserved, AccountStatusDepleted, true},
		{AccountStatusAssigned, AccountStatusDepleted, true},
		{AccountStatusAssigned, AccountStatusReserved, false},
		{AccountStatusAssigned, AccountStatusAvailable, false},
		{AccountStatusDepleted, AccountStatusAvailable, false},
		{AccountStatusDepleted, AccountStatusReserved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestResultFor(t *testing.T) {
	order := &Order{
		FulfillmentResults: DomainResultList{
			{Domain: "a.com", Status: ResultStatusCompleted},
			{Domain: "b.com", Status: ResultStatusFailed},
		},
	}

	result := order.ResultFor("b.com")
	require.NotNil(t, result)
	assert.Equal(t, ResultStatusFailed, result.Status)

	assert.Nil(t, order.ResultFor("missing.com"))
}

func TestDomainResultListScan(t *testing.T) {
	raw := `[{"domain":"a.com","status":"completed","nameservers":["ns1.infra.email"],"fulfilled_at":"2026-01-02T03:04:05Z"}]`

	var list DomainResultList
	require.NoError(t, list.Scan([]byte(raw)))

	require.Len(t, list, 1)
	assert.Equal(t, "a.com", list[0].Domain)
	assert.Equal(t, ResultStatusCompleted, list[0].Status)
	assert.Equal(t, []string{"ns1.infra.email"}, list[0].Nameservers)
}

func TestDomainListValueRoundtrip(t *testing.T) {
	list := DomainList{
		{Domain: "a.com", ForwardingURL: "https://a.com", Names: []PersonName{{FirstName: "Ada", LastName: "Lovelace"}}},
	}

	value, err := list.Value()
	require.NoError(t, err)

	var decoded DomainList
	require.NoError(t, json.Unmarshal(value.([]byte), &decoded))
	assert.Equal(t, list, decoded)
}

func TestJSONMapScanRejectsUnsupportedSource(t *testing.T) {
	var m JSONMap
	assert.Error(t, m.Scan(42))
	assert.NoError(t, m.Scan(nil))
}
