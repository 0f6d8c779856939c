package response_test

import (
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/payment-pipeline/internal/http/response"
)

func TestOK(t *testing.T) {
	resp := response.OK()
	assert.Equal(t, response.StatusOK, resp.Status)
	assert.Empty(t, resp.Error)
}

func TestOKWithData(t *testing.T) {
	resp := response.OKWithData(map[string]any{"verified": true})
	assert.Equal(t, response.StatusOK, resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestError(t *testing.T) {
	resp := response.Error("something went wrong")
	assert.Equal(t, response.StatusError, resp.Status)
	assert.Equal(t, "something went wrong", resp.Error)
}

func TestValidationError(t *testing.T) {
	type request struct {
		OrderID  string  `validate:"required"`
		UserUID  string  `validate:"required,uuid"`
		PlanType string  `validate:"required,oneof=1_month 3_month 6_month"`
		Amount   float64 `validate:"gt=0"`
	}

	err := validator.New().Struct(request{
		UserUID:  "not-a-uuid",
		PlanType: "lifetime",
		Amount:   -1,
	})
	require.Error(t, err)

	var errs validator.ValidationErrors
	require.ErrorAs(t, err, &errs)

	resp := response.ValidationError(errs)
	assert.Equal(t, response.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "field OrderID is a required field")
	assert.Contains(t, resp.Error, "field UserUID can contain only uuid")
	assert.Contains(t, resp.Error, "field PlanType has an unsupported value")
	assert.Contains(t, resp.Error, "field Amount must be greater than zero")
}
