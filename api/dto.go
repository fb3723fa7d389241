/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupled from the domain types.
  Monetary values cross the boundary as fixed-point decimal strings,
  never JSON numbers; clients that parse them as floats are on their own.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/khata/ledger-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Balance      string `json:"balance"`
	ChainVersion int64  `json:"chain_version"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateCustomerRequest is the request to register a customer.
type CreateCustomerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// LineItemDTO is one priced item on a bill.
type LineItemDTO struct {
	Item     string `json:"item"`
	Quantity string `json:"quantity"`
	Rate     string `json:"rate"`
	Amount   string `json:"amount"`
}

// PaymentDetailDTO carries method-specific payment fields.
type PaymentDetailDTO struct {
	UPIType     string  `json:"upi_type,omitempty"`
	BankName    string  `json:"bank_name,omitempty"`
	CheckNumber string  `json:"check_number,omitempty"`
	CashAmount  *string `json:"cash_amount,omitempty"`
	GpayAmount  *string `json:"gpay_amount,omitempty"`
}

// RecordTransactionRequest is the request to append a bill or payment.
type RecordTransactionRequest struct {
	LineItems     []LineItemDTO     `json:"line_items"`
	PaidAmount    string            `json:"paid_amount"`
	PaymentMethod string            `json:"payment_method"`
	PaymentDetail *PaymentDetailDTO `json:"payment_detail,omitempty"`
	Date          string            `json:"date,omitempty"` // display date, YYYY-MM-DD
}

// EditTransactionRequest carries the mutable fields of a transaction.
// Absent fields are left unchanged.
type EditTransactionRequest struct {
	LineItems       *[]LineItemDTO    `json:"line_items,omitempty"`
	PaidAmount      *string           `json:"paid_amount,omitempty"`
	PaymentMethod   *string           `json:"payment_method,omitempty"`
	PaymentDetail   *PaymentDetailDTO `json:"payment_detail,omitempty"`
	Date            *string           `json:"date,omitempty"`
	ExpectedVersion *int64            `json:"expected_version,omitempty"`
}

// TransactionDTO represents one ledger transaction.
type TransactionDTO struct {
	ID            string            `json:"id"`
	CustomerID    string            `json:"customer_id"`
	Sequence      int64             `json:"sequence"`
	BillNumber    string            `json:"bill_number,omitempty"`
	Date          string            `json:"date"`
	LineItems     []LineItemDTO     `json:"line_items"`
	ItemsTotal    string            `json:"items_total"`
	PaidAmount    string            `json:"paid_amount"`
	PaymentMethod string            `json:"payment_method"`
	PaymentDetail *PaymentDetailDTO `json:"payment_detail,omitempty"`
	BalanceBefore string            `json:"balance_before"`
	BalanceAfter  string            `json:"balance_after"`
	CreatedAt     string            `json:"created_at,omitempty"`
}

// BalanceDTO is the current-balance response. A negative balance is
// advance credit (the business owes the customer).
type BalanceDTO struct {
	CustomerID string `json:"customer_id"`
	Balance    string `json:"balance"`
	AsOf       string `json:"as_of"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:           string(c.ID),
		Name:         c.Name,
		Phone:        c.Phone,
		Balance:      c.Balance.StringFixed(2),
		ChainVersion: c.ChainVersion,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	items := make([]LineItemDTO, len(tx.LineItems))
	for i, it := range tx.LineItems {
		items[i] = LineItemDTO{
			Item:     it.Item,
			Quantity: it.Quantity.String(),
			Rate:     it.Rate.String(),
			Amount:   it.Amount.StringFixed(2),
		}
	}

	dto := TransactionDTO{
		ID:            string(tx.ID),
		CustomerID:    string(tx.CustomerID),
		Sequence:      tx.Sequence,
		BillNumber:    tx.BillNumber,
		Date:          tx.Date.Format("2006-01-02"),
		LineItems:     items,
		ItemsTotal:    tx.ItemsTotal.StringFixed(2),
		PaidAmount:    tx.PaidAmount.StringFixed(2),
		PaymentMethod: string(tx.Method),
		BalanceBefore: tx.BalanceBefore.StringFixed(2),
		BalanceAfter:  tx.BalanceAfter.StringFixed(2),
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
	}

	if d := toPaymentDetailDTO(tx.Detail); d != nil {
		dto.PaymentDetail = d
	}
	return dto
}

func toPaymentDetailDTO(d ledger.PaymentDetail) *PaymentDetailDTO {
	if d.UPIType == "" && d.BankName == "" && d.CheckNumber == "" &&
		d.CashAmount == nil && d.GpayAmount == nil {
		return nil
	}
	dto := &PaymentDetailDTO{
		UPIType:     d.UPIType,
		BankName:    d.BankName,
		CheckNumber: d.CheckNumber,
	}
	if d.CashAmount != nil {
		s := d.CashAmount.StringFixed(2)
		dto.CashAmount = &s
	}
	if d.GpayAmount != nil {
		s := d.GpayAmount.StringFixed(2)
		dto.GpayAmount = &s
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}
