package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale is a qualifying customer transaction.
type Sale struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	BranchID   *string         `json:"branchId,omitempty"`
	CustomerID string          `json:"customerId"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"createdAt,omitempty"`
}

// SaleRequest is the API payload for recording a sale.
type SaleRequest struct {
	ID         string          `json:"id,omitempty"`
	BranchID   *string         `json:"branchId,omitempty"`
	CustomerID string          `json:"customerId"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
}

// ToSale converts a request to a Sale.
func (r *SaleRequest) ToSale(tenantID string) *Sale {
	return &Sale{
		ID:         r.ID,
		TenantID:   tenantID,
		BranchID:   r.BranchID,
		CustomerID: r.CustomerID,
		Date:       r.Date.UTC(),
		Amount:     r.Amount,
		CreatedAt:  time.Now().UTC(),
	}
}
