package domain

import "context"

// Summary aggregates the ledger for reporting.
type Summary struct {
	TotalCustomers     int     `json:"total_customers"`
	TotalRevenue       float64 `json:"total_revenue"`
	RevenueCents       int64   `json:"revenue_cents"`
	DeliveredCount     int     `json:"delivered_count"`
	PendingCount       int     `json:"pending_count"`
	FailedCount        int     `json:"failed_count"`
	UnknownAmountCount int     `json:"unknown_amount_count"`
}

type Service interface {
	Summarize(ctx context.Context) (Summary, error)
}
