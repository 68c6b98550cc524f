package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "EXPENSE", want: Expense},
		{in: "REVENUE", want: Revenue},
		{in: "expense", wantErr: true},
		{in: "BUDGET", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParseKindFold(t *testing.T) {
	k, err := ParseKindFold(" revenue ")
	assert.NoError(t, err)
	assert.Equal(t, Revenue, k)
}

func TestTransaction_Signed(t *testing.T) {
	assert.Equal(t, 12.5, Transaction{Kind: Expense, Amount: 12.5}.Signed())
	assert.Equal(t, -12.5, Transaction{Kind: Revenue, Amount: 12.5}.Signed())
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, Expense.Valid())
	assert.True(t, Revenue.Valid())
	assert.False(t, Kind(0).Valid())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}
