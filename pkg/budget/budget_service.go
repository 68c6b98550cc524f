package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/budgetwatch/budgetwatch/pkg/store"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidName = errors.New("budget name must not be empty")

type BudgetService interface {
	// GetAll returns every budget with its current value over window.
	GetAll(ctx context.Context, window Window) ([]Budget, error)
	Get(ctx context.Context, name string) (Budget, error)
	Create(ctx context.Context, budget Budget) (Budget, error)
	Update(ctx context.Context, budget Budget) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
}

type BudgetServiceImpl struct {
	store store.Store
}

func NewBudgetServiceImpl(st store.Store) *BudgetServiceImpl {
	return &BudgetServiceImpl{store: st}
}

func (s *BudgetServiceImpl) GetAll(ctx context.Context, window Window) ([]Budget, error) {
	budgets, err := s.store.BudgetTotals(ctx, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to compute budget totals: %w", err)
	}
	return budgets, nil
}

func (s *BudgetServiceImpl) Get(ctx context.Context, name string) (Budget, error) {
	return s.store.GetBudget(ctx, name)
}

func (s *BudgetServiceImpl) Create(ctx context.Context, budget Budget) (Budget, error) {
	budget.Name = strings.TrimSpace(budget.Name)
	if budget.Name == "" {
		return Budget{}, ErrInvalidName
	}
	budget.CurrentValue = 0
	if err := s.store.InsertBudget(ctx, budget); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warnf("budget %q already exists", budget.Name)
		}
		return Budget{}, err
	}
	return budget, nil
}

func (s *BudgetServiceImpl) Update(ctx context.Context, budget Budget) (bool, error) {
	updated, err := s.store.UpdateBudget(ctx, budget)
	if err != nil {
		return false, err
	}
	if !updated {
		log.Warnf("budget not updated, probably because it does not exist (%q)", budget.Name)
	}
	return updated, nil
}

// Delete removes the budget only. Transactions keep referring to it by name.
func (s *BudgetServiceImpl) Delete(ctx context.Context, name string) (bool, error) {
	deleted, err := s.store.DeleteBudget(ctx, name)
	if err != nil {
		return false, err
	}
	if !deleted {
		log.Warnf("budget not deleted, probably because it does not exist (%q)", name)
	}
	return deleted, nil
}
