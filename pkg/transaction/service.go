package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	ErrInvalidAmount = errors.New("amount must be a finite, non-negative number")
	ErrNoReceipt     = errors.New("transaction has no receipt")
)

type Service interface {
	// List returns at most limit matching transactions, newest first. A limit of zero or
	// less means no limit.
	List(ctx context.Context, filter store.TransactionFilter, limit int) ([]ledger.Transaction, error)
	Get(ctx context.Context, id int64) (ledger.Transaction, error)
	Create(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error)
	Update(ctx context.Context, t ledger.Transaction) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	// AttachReceipt stores the content of r as the receipt of transaction id.
	AttachReceipt(ctx context.Context, id int64, name string, r io.Reader) (ledger.Transaction, error)
	OpenReceipt(ctx context.Context, id int64) (afero.File, error)
}

type ServiceImpl struct {
	store    store.Store
	receipts *receipt.Dir
}

func NewService(st store.Store, receipts *receipt.Dir) *ServiceImpl {
	return &ServiceImpl{store: st, receipts: receipts}
}

func validate(t ledger.Transaction) error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %v", ledger.ErrUnknownKind, t.Kind)
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s *ServiceImpl) List(ctx context.Context, filter store.TransactionFilter, limit int) ([]ledger.Transaction, error) {
	transactions := []ledger.Transaction{}
	for t, err := range s.store.QueryTransactions(ctx, filter) {
		if err != nil {
			return nil, fmt.Errorf("failed to query transactions: %w", err)
		}
		transactions = append(transactions, t)
		if limit > 0 && len(transactions) == limit {
			break
		}
	}
	return transactions, nil
}

func (s *ServiceImpl) Get(ctx context.Context, id int64) (ledger.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// Create stores t under a new id chosen by the store.
func (s *ServiceImpl) Create(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	if err := validate(t); err != nil {
		return ledger.Transaction{}, err
	}
	t.ID = 0
	id, err := s.store.InsertTransaction(ctx, t)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.ID = id
	return t, nil
}

func (s *ServiceImpl) Update(ctx context.Context, t ledger.Transaction) (bool, error) {
	if err := validate(t); err != nil {
		return false, err
	}
	updated, err := s.store.UpdateTransaction(ctx, t)
	if err != nil {
		return false, err
	}
	if !updated {
		log.Warnf("transaction not updated, probably because it does not exist (%d)", t.ID)
	}
	return updated, nil
}

// Delete removes the transaction. Its receipt file stays, other transactions may share it.
func (s *ServiceImpl) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.store.DeleteTransaction(ctx, id)
	if err != nil {
		return false, err
	}
	if !deleted {
		log.Warnf("transaction not deleted, probably because it does not exist (%d)", id)
	}
	return deleted, nil
}

func (s *ServiceImpl) AttachReceipt(ctx context.Context, id int64, name string, r io.Reader) (ledger.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	path, created, err := s.receipts.Write(name, r)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.ReceiptPath = path
	updated, err := s.store.UpdateTransaction(ctx, t)
	if err == nil && !updated {
		err = store.ErrTransactionNotFound
	}
	if err != nil {
		if created {
			if rmErr := s.receipts.Remove(path); rmErr != nil {
				log.Warn(rmErr)
			}
		}
		return ledger.Transaction{}, err
	}
	return t, nil
}

func (s *ServiceImpl) OpenReceipt(ctx context.Context, id int64) (afero.File, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.HasReceipt() {
		return nil, ErrNoReceipt
	}
	f, err := s.receipts.Open(t.ReceiptPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoReceipt, err)
	}
	return f, nil
}
