package dto

import (
	"time"

	"github.com/deskflow/billing/internal/types"
)

// QuotaResponse describes the quota of a tenant after a check or a consume
type QuotaResponse struct {
	TenantID       string         `json:"tenant_id"`
	Allowed        bool           `json:"allowed"`
	Remaining      int64          `json:"remaining"`
	Unlimited      bool           `json:"unlimited"`
	PlanTier       types.PlanTier `json:"plan_tier,omitempty"`
	MonthlyLimit   int64          `json:"monthly_limit"`
	CurrentCount   int64          `json:"current_count"`
	PeriodStart    time.Time      `json:"period_start"`
	PeriodEnd      time.Time      `json:"period_end"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
}

type RolloverResponse struct {
	TenantID      string    `json:"tenant_id"`
	RolledOver    bool      `json:"rolled_over"`
	CyclesElapsed int       `json:"cycles_elapsed"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

type AllocateInvoiceNumberRequest struct {
	// period in YYYYMM form, the current month when empty
	Period string `json:"period,omitempty"`
}

type AllocateInvoiceNumberResponse struct {
	Period        string `json:"period"`
	InvoiceNumber string `json:"invoice_number"`
}
