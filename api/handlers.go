/*
handlers.go - HTTP API handlers for the billing ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates everything else to the engine. Handlers do
  no balance arithmetic of their own: the engine computes, the facade
  reads, the formatters display.

ENDPOINTS:
  Customers:
    GET    /api/customers                        List customers
    POST   /api/customers                        Register customer
    GET    /api/customers/{id}                   Customer details
    GET    /api/customers/{id}/balance           Current balance
    GET    /api/customers/{id}/transactions      History (sequence order)
    POST   /api/customers/{id}/transactions      Record a bill/payment

  Transactions:
    PUT    /api/transactions/{id}                Edit (cascades)
    DELETE /api/transactions/{id}                Delete (cascades)
    GET    /api/transactions/{id}/balance        Balance as of that bill

ERROR HANDLING:
  Errors map to HTTP status by taxonomy:
  - 400: validation failures
  - 404: unknown customer/transaction
  - 409: concurrent-write conflict (re-fetch and retry)
  - 503: customer ledger busy (retry with backoff)
  - 500: persistence failures

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/khata/ledger-engine/ledger"
)

// Handler holds the HTTP layer's dependencies.
type Handler struct {
	Engine *ledger.Engine
}

// NewHandler creates a handler over the given engine.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers with their cached balances.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Engine.ListCustomers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer registers a new customer with a zero balance.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.Engine.CreateCustomer(r.Context(), req.Name, req.Phone)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// GetBalance returns the customer's current balance with read-after-write
// consistency. Billing screens use this to preview "previous balance".
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	balance, err := h.Engine.CurrentBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		CustomerID: string(id),
		Balance:    balance.StringFixed(2),
		AsOf:       time.Now().UTC().Format(time.RFC3339),
	})
}

// GetTransactions returns the customer's history in sequence order.
// Optional from/to query parameters (YYYY-MM-DD) filter by display date.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	from, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	txs, err := h.Engine.History(r.Context(), id, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// RecordTransaction appends a bill or payment to the customer's chain.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	var req RecordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input, err := parseRecordRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	tx, err := h.Engine.RecordTransaction(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// EditTransaction replaces the mutable fields of a transaction and
// cascades new balances through the rest of the chain.
func (h *Handler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req EditTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input, err := parseEditRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	tx, err := h.Engine.EditTransaction(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction and cascades.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteTransaction(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GetBalanceAsOf returns the balance as it stood at a given transaction.
// Print and sharing formatters consume this verbatim.
func (h *Handler) GetBalanceAsOf(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	balance, err := h.Engine.BalanceAsOf(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"transaction_id": string(id),
		"balance_after":  balance.StringFixed(2),
	})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

func parseRecordRequest(req RecordTransactionRequest) (ledger.TransactionInput, error) {
	items, err := parseLineItems(req.LineItems)
	if err != nil {
		return ledger.TransactionInput{}, err
	}

	paid := decimal.Zero
	if req.PaidAmount != "" {
		paid, err = decimal.NewFromString(req.PaidAmount)
		if err != nil {
			return ledger.TransactionInput{}, err
		}
	}

	detail, err := parsePaymentDetail(req.PaymentDetail)
	if err != nil {
		return ledger.TransactionInput{}, err
	}

	input := ledger.TransactionInput{
		LineItems:  items,
		PaidAmount: paid,
		Method:     ledger.PaymentMethod(req.PaymentMethod),
		Detail:     detail,
	}
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return ledger.TransactionInput{}, err
		}
		input.Date = d
	}
	return input, nil
}

func parseEditRequest(req EditTransactionRequest) (ledger.EditInput, error) {
	var input ledger.EditInput

	if req.LineItems != nil {
		items, err := parseLineItems(*req.LineItems)
		if err != nil {
			return ledger.EditInput{}, err
		}
		input.LineItems = &items
	}
	if req.PaidAmount != nil {
		paid, err := decimal.NewFromString(*req.PaidAmount)
		if err != nil {
			return ledger.EditInput{}, err
		}
		input.PaidAmount = &paid
	}
	if req.PaymentMethod != nil {
		m := ledger.PaymentMethod(*req.PaymentMethod)
		input.Method = &m
	}
	if req.PaymentDetail != nil {
		detail, err := parsePaymentDetail(req.PaymentDetail)
		if err != nil {
			return ledger.EditInput{}, err
		}
		input.Detail = &detail
	}
	if req.Date != nil {
		d, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			return ledger.EditInput{}, err
		}
		input.Date = &d
	}
	input.ExpectedVersion = req.ExpectedVersion
	return input, nil
}

func parseLineItems(dtos []LineItemDTO) ([]ledger.LineItem, error) {
	items := make([]ledger.LineItem, len(dtos))
	for i, dto := range dtos {
		qty, err := decimal.NewFromString(dto.Quantity)
		if err != nil {
			return nil, err
		}
		rate, err := decimal.NewFromString(dto.Rate)
		if err != nil {
			return nil, err
		}

		amount := ledger.Round2(qty.Mul(rate))
		if dto.Amount != "" {
			amount, err = decimal.NewFromString(dto.Amount)
			if err != nil {
				return nil, err
			}
		}
		items[i] = ledger.LineItem{Item: dto.Item, Quantity: qty, Rate: rate, Amount: amount}
	}
	return items, nil
}

func parsePaymentDetail(dto *PaymentDetailDTO) (ledger.PaymentDetail, error) {
	if dto == nil {
		return ledger.PaymentDetail{}, nil
	}

	detail := ledger.PaymentDetail{
		UPIType:     dto.UPIType,
		BankName:    dto.BankName,
		CheckNumber: dto.CheckNumber,
	}
	if dto.CashAmount != nil {
		d, err := decimal.NewFromString(*dto.CashAmount)
		if err != nil {
			return ledger.PaymentDetail{}, err
		}
		detail.CashAmount = &d
	}
	if dto.GpayAmount != nil {
		d, err := decimal.NewFromString(*dto.GpayAmount)
		if err != nil {
			return ledger.PaymentDetail{}, err
		}
		detail.GpayAmount = &d
	}
	return detail, nil
}

func parseDateParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the ledger error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Concurrent modification, re-fetch and retry", err)
	case errors.Is(err, ledger.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, "Customer ledger busy, retry with backoff", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
