package domain_test

import (
	"testing"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition_Internal(t *testing.T) {
	tests := []struct {
		name string
		from domain.RequestStatus
		to   domain.RequestStatus
		want bool
	}{
		{"pending to fulfilled", domain.StatusPending, domain.StatusFulfilled, true},
		{"pending to rejected", domain.StatusPending, domain.StatusRejected, true},
		{"pending to cancelled", domain.StatusPending, domain.StatusCancelled, true},
		{"fulfilled to delivered", domain.StatusFulfilled, domain.StatusDelivered, true},
		{"pending to approved not part of internal flow", domain.StatusPending, domain.StatusApproved, false},
		{"fulfilled to rejected after stock was drawn", domain.StatusFulfilled, domain.StatusRejected, false},
		{"delivered is terminal", domain.StatusDelivered, domain.StatusRejected, false},
		{"double delivery", domain.StatusDelivered, domain.StatusDelivered, false},
		{"fulfilled to cancelled", domain.StatusFulfilled, domain.StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.CanTransition(domain.RequestInternal, tt.from, tt.to)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition_External(t *testing.T) {
	tests := []struct {
		name string
		from domain.RequestStatus
		to   domain.RequestStatus
		want bool
	}{
		{"pending to approved", domain.StatusPending, domain.StatusApproved, true},
		{"approved to fulfilled", domain.StatusApproved, domain.StatusFulfilled, true},
		{"pending straight to fulfilled skips the supplier hop", domain.StatusPending, domain.StatusFulfilled, false},
		{"approved to rejected", domain.StatusApproved, domain.StatusRejected, true},
		{"approved to cancelled", domain.StatusApproved, domain.StatusCancelled, false},
		{"fulfilled to delivered", domain.StatusFulfilled, domain.StatusDelivered, true},
		{"rejected is terminal", domain.StatusRejected, domain.StatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.CanTransition(domain.RequestExternal, tt.from, tt.to)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestStatus_Terminal(t *testing.T) {
	assert.True(t, domain.StatusDelivered.Terminal())
	assert.True(t, domain.StatusRejected.Terminal())
	assert.True(t, domain.StatusCancelled.Terminal())
	assert.False(t, domain.StatusPending.Terminal())
	assert.False(t, domain.StatusApproved.Terminal())
	assert.False(t, domain.StatusFulfilled.Terminal())
}

func TestDrugStatus(t *testing.T) {
	assert.True(t, domain.DrugAvailable.Orderable())
	assert.True(t, domain.DrugPhasingOut.Orderable())
	assert.False(t, domain.DrugArchived.Orderable())
	assert.False(t, domain.DrugStatus("discontinued").Valid())
}
