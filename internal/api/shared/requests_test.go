package shared

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type selfValidating struct {
	Name string
}

func (v *selfValidating) Validate() error {
	if v.Name == "invalid" {
		return errors.New("invalid name")
	}
	return nil
}

type tagged struct {
	Status string `validate:"omitempty,oneof=pending claimed"`
	Limit  int    `validate:"gte=0"`
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{}
		wantErr bool
	}{
		{"self validating ok", &selfValidating{Name: "test"}, false},
		{"self validating fails", &selfValidating{Name: "invalid"}, true},
		{"tags ok", &tagged{Status: "pending", Limit: 10}, false},
		{"tags empty ok", &tagged{}, false},
		{"bad oneof", &tagged{Status: "tagged"}, true},
		{"negative", &tagged{Limit: -1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	var verrs validator.ValidationErrors
	require.ErrorAs(t, ValidateRequest(&tagged{Limit: -1}), &verrs)
	assert.Equal(t, "Limit", verrs[0].Field())
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=25&offset=abc&empty=", nil)

	n, err := QueryInt(r, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = QueryInt(r, "missing", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = QueryInt(r, "empty", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = QueryInt(r, "offset", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
