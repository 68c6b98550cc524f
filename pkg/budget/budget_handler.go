package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/internal/validation"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type BudgetDTO struct {
	Name         string `json:"name" validate:"required,trimmed,max=200"`
	Limit        int    `json:"limit"`
	CurrentValue int    `json:"currentValue"`
}

type BudgetHandler struct {
	budgetService BudgetService
	clock         utils.Clock
}

func NewBudgetHandler(budgetService BudgetService, clock utils.Clock) *BudgetHandler {
	return &BudgetHandler{budgetService, clock}
}

func (handler *BudgetHandler) Register(w http.ResponseWriter, r *http.Request) {
	log.Debug("Registering new budget")
	w.Header().Set("Content-Type", "application/json")

	var budgetDTO BudgetDTO
	if err := json.NewDecoder(r.Body).Decode(&budgetDTO); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.Struct(budgetDTO); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	createdBudget, err := handler.budgetService.Create(r.Context(), DTOToBudget(budgetDTO))
	if errors.Is(err, store.ErrConflict) {
		http.Error(w, "Budget already exists", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(BudgetToDTO(createdBudget)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// GetAll godoc
// @Summary List budgets with their current value
// @Description The current value sums expenses minus revenues booked between from and to.
// @Description Without a range the current month is used.
// @Param from query int false "Start of the window in epoch milliseconds"
// @Param to query int false "End of the window in epoch milliseconds"
// @Success 200 {array} BudgetDTO
// @Router /api/budget [get]
func (handler *BudgetHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	window, err := handler.window(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	budgets, err := handler.budgetService.GetAll(r.Context(), window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	budgetsDTO := make([]BudgetDTO, 0, len(budgets))
	for _, budget := range budgets {
		budgetsDTO = append(budgetsDTO, BudgetToDTO(budget))
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(budgetsDTO); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (handler *BudgetHandler) Update(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	name := mux.Vars(r)["name"]

	var budgetDTO BudgetDTO
	if err := json.NewDecoder(r.Body).Decode(&budgetDTO); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if budgetDTO.Name == "" {
		budgetDTO.Name = name
	}
	if budgetDTO.Name != name {
		http.Error(w, "Budget name in request body does not match the path", http.StatusBadRequest)
		return
	}

	ok, err := handler.budgetService.Update(r.Context(), DTOToBudget(budgetDTO))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Budget not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(budgetDTO); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (handler *BudgetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ok, err := handler.budgetService.Delete(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Budget not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (handler *BudgetHandler) window(r *http.Request) (Window, error) {
	window := MonthOf(handler.clock.Now())
	query := r.URL.Query()
	if from := query.Get("from"); from != "" {
		ms, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			return Window{}, fmt.Errorf("invalid 'from' parameter: %w", err)
		}
		window.Start = ms
	}
	if to := query.Get("to"); to != "" {
		ms, err := strconv.ParseInt(to, 10, 64)
		if err != nil {
			return Window{}, fmt.Errorf("invalid 'to' parameter: %w", err)
		}
		window.End = ms
	}
	if window.Start > window.End {
		return Window{}, errors.New("'from' must not be after 'to'")
	}
	return window, nil
}

func BudgetToDTO(budget Budget) BudgetDTO {
	return BudgetDTO{
		Name:         budget.Name,
		Limit:        budget.Limit,
		CurrentValue: budget.CurrentValue,
	}
}

func DTOToBudget(budgetDTO BudgetDTO) Budget {
	return Budget{
		Name:  budgetDTO.Name,
		Limit: budgetDTO.Limit,
	}
}
