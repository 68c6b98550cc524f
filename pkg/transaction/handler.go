package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/budgetwatch/budgetwatch/internal/validation"
	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type TransactionDTO struct {
	ID          int64   `json:"id"`
	Kind        string  `json:"kind" validate:"required,ledger_kind"`
	Description string  `json:"description,omitempty" validate:"max=500"`
	Account     string  `json:"account,omitempty" validate:"max=200"`
	Budget      string  `json:"budget,omitempty" validate:"max=200"`
	Amount      float64 `json:"amount" validate:"gte=0"`
	Note        string  `json:"note,omitempty"`
	Date        int64   `json:"date"`
	// Receipt is the file name inside the receipt directory.
	Receipt string `json:"receipt,omitempty" validate:"omitempty,excludesall=/\\"`
}

type Handler struct {
	service  Service
	receipts *receipt.Dir
}

func NewHandler(service Service, receipts *receipt.Dir) *Handler {
	return &Handler{service: service, receipts: receipts}
}

// List godoc
// @Summary List transactions, newest first
// @Param kind query string false "EXPENSE or REVENUE"
// @Param budget query string false "Budget name"
// @Param from query int false "Start in epoch milliseconds, inclusive"
// @Param to query int false "End in epoch milliseconds, inclusive"
// @Param receipts query bool false "Only transactions with a receipt"
// @Param limit query int false "Maximum number of transactions"
// @Success 200 {array} TransactionDTO
// @Router /api/transaction [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, limit, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	transactions, err := h.service.List(r.Context(), filter, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	dtos := make([]TransactionDTO, 0, len(transactions))
	for _, t := range transactions {
		dtos = append(dtos, TransactionToDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionToDTO(t))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	t, err := h.decode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.service.Create(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransactionToDTO(created))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.decode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if t.ID != 0 && t.ID != id {
		http.Error(w, "Invalid transaction id in request body", http.StatusBadRequest)
		return
	}
	t.ID = id

	ok, err := h.service.Update(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, TransactionToDTO(t))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok, err := h.service.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttachReceipt godoc
// @Summary Store the request body as the receipt of a transaction
// @Param id path int true "Transaction id"
// @Param name query string true "Receipt file name"
// @Success 200 {object} TransactionDTO
// @Router /api/transaction/{id}/receipt [put]
func (h *Handler) AttachReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.service.AttachReceipt(r.Context(), id, r.URL.Query().Get("name"), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionToDTO(t))
}

func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := h.service.OpenReceipt(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", receipt.BaseName(f.Name())))
	if _, err := io.Copy(w, f); err != nil {
		log.Warnf("download of receipt for transaction %d interrupted: %v", id, err)
	}
}

// decode reads a TransactionDTO and maps its receipt name onto the receipt directory.
func (h *Handler) decode(r *http.Request) (ledger.Transaction, error) {
	var dto TransactionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validation.Struct(dto); err != nil {
		return ledger.Transaction{}, err
	}
	t, err := DTOToTransaction(dto)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if dto.Receipt != "" {
		t.ReceiptPath = h.receipts.Resolve(dto.Receipt)
		if t.ReceiptPath == "" {
			return ledger.Transaction{}, fmt.Errorf("receipt %q not found", dto.Receipt)
		}
	}
	return t, nil
}

func parseFilter(r *http.Request) (store.TransactionFilter, int, error) {
	var filter store.TransactionFilter
	query := r.URL.Query()
	if kind := query.Get("kind"); kind != "" {
		k, err := ledger.ParseKindFold(kind)
		if err != nil {
			return filter, 0, err
		}
		filter.Kind = k
	}
	if query.Has("budget") {
		budget := query.Get("budget")
		filter.BudgetName = &budget
	}
	for key, dst := range map[string]**int64{"from": &filter.Start, "to": &filter.End} {
		value := query.Get(key)
		if value == "" {
			continue
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return filter, 0, fmt.Errorf("invalid '%s' parameter: %w", key, err)
		}
		*dst = &ms
	}
	if value := query.Get("receipts"); value != "" {
		receiptsOnly, err := strconv.ParseBool(value)
		if err != nil {
			return filter, 0, fmt.Errorf("invalid 'receipts' parameter: %w", err)
		}
		filter.ReceiptsOnly = receiptsOnly
	}
	limit := 0
	if value := query.Get("limit"); value != "" {
		l, err := strconv.Atoi(value)
		if err != nil || l < 0 {
			return filter, 0, fmt.Errorf("invalid 'limit' parameter: %q", value)
		}
		limit = l
	}
	return filter, limit, nil
}

func pathId(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction id: %w", err)
	}
	return id, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrTransactionNotFound), errors.Is(err, ErrNoReceipt):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ledger.ErrUnknownKind), errors.Is(err, receipt.ErrInvalidName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Errorf("transaction request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("could not encode response: %v", err)
	}
}

func TransactionToDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          t.ID,
		Kind:        t.Kind.String(),
		Description: t.Description,
		Account:     t.Account,
		Budget:      t.BudgetName,
		Amount:      t.Amount,
		Note:        t.Note,
		Date:        t.Timestamp,
		Receipt:     receipt.BaseName(t.ReceiptPath),
	}
}

func DTOToTransaction(dto TransactionDTO) (ledger.Transaction, error) {
	kind, err := ledger.ParseKindFold(dto.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:          dto.ID,
		Kind:        kind,
		Description: dto.Description,
		Account:     dto.Account,
		BudgetName:  dto.Budget,
		Amount:      dto.Amount,
		Note:        dto.Note,
		Timestamp:   dto.Date,
	}, nil
}
