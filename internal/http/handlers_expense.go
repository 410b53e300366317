package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"tidytab/internal/core"
	"tidytab/internal/ingest"
)

// ReceiptScanner turns an uploaded receipt image into a structured OCR
// result. Satisfied by the Taggun client.
type ReceiptScanner interface {
	ProcessReceipt(ctx context.Context, filename string, file io.Reader) (ingest.OCRResult, error)
}

const maxReceiptBytes = 10 << 20

type addExpenseRequest struct {
	Description string            `json:"description"`
	Amount      string            `json:"amount"`
	PaidBy      string            `json:"paidBy"`
	ReceiptURL  string            `json:"receiptURL"`
	Items       []expenseItemBody `json:"items"`
}

type expenseItemBody struct {
	Name       string   `json:"name"`
	Quantity   int64    `json:"quantity"`
	UnitPrice  string   `json:"unitPrice"`
	TotalPrice string   `json:"totalPrice"`
	AssignedTo []string `json:"assignedTo"`
}

type expenseResponse struct {
	Expense core.Expense `json:"expense"`
	Tab     core.Tab     `json:"tab"`
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	var req addExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	amountCents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	src := ingest.ManualSource{
		Description: req.Description,
		AmountCents: amountCents,
		PaidBy:      req.PaidBy,
		CreatedBy:   caller.UID,
		ReceiptURL:  req.ReceiptURL,
	}
	if src.PaidBy == "" {
		src.PaidBy = caller.UID
	}
	for _, it := range req.Items {
		item := ingest.ManualItem{
			Name:       it.Name,
			Quantity:   it.Quantity,
			AssignedTo: it.AssignedTo,
		}
		if it.UnitPrice != "" {
			cents, err := core.ParseDecimalToCents(it.UnitPrice)
			if err != nil {
				writeError(w, r, err)
				return
			}
			item.UnitPriceCents = cents
		}
		if it.TotalPrice != "" {
			cents, err := core.ParseDecimalToCents(it.TotalPrice)
			if err != nil {
				writeError(w, r, err)
				return
			}
			item.TotalPriceCents = cents
		}
		src.Items = append(src.Items, item)
	}

	s.ingestExpense(w, r, id, caller, src)
}

func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if s.scanner == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "receipt scanning is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("receipt")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "missing receipt file")
		return
	}
	defer file.Close()

	result, err := s.scanner.ProcessReceipt(r.Context(), header.Filename, file)
	if err != nil {
		writeErrorMessage(w, http.StatusBadGateway, "receipt scan failed")
		return
	}

	src := ingest.OCRSource{
		Result:     result,
		PaidBy:     r.FormValue("paidBy"),
		CreatedBy:  caller.UID,
		ReceiptURL: r.FormValue("receiptURL"),
	}
	if src.PaidBy == "" {
		src.PaidBy = caller.UID
	}

	s.ingestExpense(w, r, id, caller, src)
}

// ingestExpense normalizes a source against the tab's current membership
// and applies it through the service.
func (s *Server) ingestExpense(w http.ResponseWriter, r *http.Request, tabID string, caller core.Identity, src ingest.Source) {
	tab, err := s.tabs.GetTab(r.Context(), tabID, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}

	expense, err := ingest.Normalize(src, tab, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.tabs.AddExpense(r.Context(), tabID, caller, expense)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateTab(tabID)
	s.logger.LogExpenseAdded(r.Context(), updated.ID, string(updated.Status), updated.Version,
		expense.ID, expense.Description, expense.Amount.Cents)

	writeJSON(w, http.StatusCreated, expenseResponse{Expense: expense, Tab: updated})
}
