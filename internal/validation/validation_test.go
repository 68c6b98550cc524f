package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type request struct {
	Name string  `json:"name" validate:"required,trimmed,max=10"`
	Kind string  `json:"kind" validate:"ledger_kind"`
	Gt   float64 `json:"gt" validate:"gte=0"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     request
		wantErr string
	}{
		{name: "valid", req: request{Name: "food", Kind: "expense"}},
		{name: "missing name", req: request{Kind: "REVENUE"}, wantErr: "Name: must satisfy required"},
		{name: "padded name", req: request{Name: " food", Kind: "REVENUE"}, wantErr: "Name: must satisfy trimmed"},
		{name: "long name", req: request{Name: "groceries and more", Kind: "REVENUE"}, wantErr: "Name: must satisfy max=10"},
		{name: "budget is no kind", req: request{Name: "food", Kind: "BUDGET"}, wantErr: "Kind: must satisfy ledger_kind"},
		{name: "negative", req: request{Name: "food", Kind: "EXPENSE", Gt: -1}, wantErr: "Gt: must satisfy gte=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
