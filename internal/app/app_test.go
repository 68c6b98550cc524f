package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/config"
	"github.com/budgetwatch/budgetwatch/internal/test_utils"
	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/pkg/budget"
	"github.com/budgetwatch/budgetwatch/pkg/job"
	"github.com/budgetwatch/budgetwatch/pkg/store/sqlstore"
	"github.com/budgetwatch/budgetwatch/pkg/transaction"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Application {
	cfg := config.Defaults()
	cfg.Receipts.Dir = "/data/receipts"
	cfg.Transfer.Dir = "/data/transfers"
	return cfg
}

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := sqlstore.New(test_utils.SetupTestDB(t))
	clock := utils.NewMockClock(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	deps, err := BuildDependencies(st, testConfig(), afero.NewMemMapFs(), clock)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = deps.JobManager.Shutdown(context.Background())
	})
	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)
	return server
}

func call(t *testing.T, server *httptest.Server, method, path string, body []byte, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if raw, ok := out.(*[]byte); ok {
			*raw, err = io.ReadAll(resp.Body)
		} else {
			err = json.NewDecoder(resp.Body).Decode(out)
		}
		require.NoError(t, err)
	}
	return resp.StatusCode
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func waitForJob(t *testing.T, server *httptest.Server, id string) job.JobDTO {
	t.Helper()
	var dto job.JobDTO
	require.Eventually(t, func() bool {
		dto = job.JobDTO{}
		req, err := http.NewRequest(http.MethodGet, server.URL+"/api/job/"+id, nil)
		if err != nil {
			return false
		}
		resp, err := server.Client().Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&dto) == nil && dto.State.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return dto
}

func TestApplication_ExportThenImportIntoAnotherInstance(t *testing.T) {
	// given
	source := setupServer(t)
	require.Equal(t, http.StatusCreated, call(t, source, http.MethodPost, "/api/budget",
		mustJSON(t, budget.BudgetDTO{Name: "rent", Limit: 1000}), nil))
	require.Equal(t, http.StatusCreated, call(t, source, http.MethodPost, "/api/transaction",
		mustJSON(t, transaction.TransactionDTO{Kind: "EXPENSE", Budget: "rent", Amount: 950, Date: 1710460800000}), nil))
	require.Equal(t, http.StatusCreated, call(t, source, http.MethodPost, "/api/transaction",
		mustJSON(t, transaction.TransactionDTO{Kind: "REVENUE", Budget: "rent", Amount: 50, Date: 1710547200000}), nil))
	require.Equal(t, http.StatusOK, call(t, source, http.MethodPut, "/api/transaction/1/receipt?name=lease.pdf",
		[]byte("%PDF-1.7"), nil))

	var started job.JobDTO
	require.Equal(t, http.StatusAccepted, call(t, source, http.MethodPost, "/api/export?format=zip", nil, &started))
	finished := waitForJob(t, source, started.ID)
	require.Equal(t, job.Succeeded, finished.State, finished.Error)
	var archive []byte
	require.Equal(t, http.StatusOK, call(t, source, http.MethodGet, "/api/job/"+started.ID+"/file", nil, &archive))

	// when
	target := setupServer(t)
	require.Equal(t, http.StatusAccepted, call(t, target, http.MethodPost, "/api/import?format=zip", archive, &started))
	finished = waitForJob(t, target, started.ID)

	// then
	require.Equal(t, job.Succeeded, finished.State, finished.Error)
	assert.Equal(t, 4, finished.Processed)

	var budgets []budget.BudgetDTO
	require.Equal(t, http.StatusOK, call(t, target, http.MethodGet, "/api/budget", nil, &budgets))
	assert.Equal(t, []budget.BudgetDTO{{Name: "rent", Limit: 1000, CurrentValue: 900}}, budgets)

	var transactions []transaction.TransactionDTO
	require.Equal(t, http.StatusOK, call(t, target, http.MethodGet, "/api/transaction", nil, &transactions))
	require.Len(t, transactions, 2)
	assert.Equal(t, "lease.pdf", transactions[1].Receipt)

	var receiptBytes []byte
	require.Equal(t, http.StatusOK, call(t, target, http.MethodGet, "/api/transaction/1/receipt", nil, &receiptBytes))
	assert.Equal(t, "%PDF-1.7", string(receiptBytes))
}

func TestApplication_RejectedImportLeavesTargetEmpty(t *testing.T) {
	server := setupServer(t)
	csv := "_id,type,description,account,budget,value,note,date,receipt\n" +
		"1,EXPENSE,,,rent,100,,1000,\n" +
		"rent,BUDGET,,,,1000,,,\n" +
		"ThisStringIsNotPartOfAnyFormat\n"

	var started job.JobDTO
	require.Equal(t, http.StatusAccepted, call(t, server, http.MethodPost, "/api/import?format=csv", []byte(csv), &started))
	finished := waitForJob(t, server, started.ID)

	assert.Equal(t, job.Failed, finished.State)
	assert.Equal(t, "format", finished.ErrorKind)
	var transactions []transaction.TransactionDTO
	require.Equal(t, http.StatusOK, call(t, server, http.MethodGet, "/api/transaction", nil, &transactions))
	assert.Empty(t, transactions)
}

func TestOpenStore(t *testing.T) {
	t.Run("sqlite file", func(t *testing.T) {
		cfg := config.Defaults().Database
		cfg.Path = filepath.Join(t.TempDir(), "nested", "budgetwatch.db")

		st, err := OpenStore(context.Background(), cfg)
		require.NoError(t, err)
		defer st.Close()

		names, err := st.QueryBudgetNames(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := config.Defaults().Database
		cfg.Driver = "oracle"

		_, err := OpenStore(context.Background(), cfg)
		assert.ErrorContains(t, err, `unsupported database driver "oracle"`)
	})
}
