package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createPaymentInput struct {
	BrokerID    string `validate:"required"`
	Amount      string `validate:"required"`
	Currency    string `validate:"required,len=3"`
	Description string `validate:"max=10"`
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(createPaymentInput{
		BrokerID: "dummy",
		Amount:   "100.00",
		Currency: "PLN",
	})
	assert.NoError(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	err := Validate(createPaymentInput{Currency: "PLN"})
	require.Error(t, err)

	valErr, ok := err.(*ValidationError)
	require.True(t, ok)
	fields := valErr.Fields()
	assert.Contains(t, fields, "BrokerID")
	assert.Contains(t, fields, "Amount")
	assert.Equal(t, "is required", fields["BrokerID"])
}

func TestValidate_WrongLength(t *testing.T) {
	err := Validate(createPaymentInput{
		BrokerID: "dummy",
		Amount:   "100.00",
		Currency: "PLNX",
	})
	require.Error(t, err)

	valErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "must be exactly 3 characters", valErr.Fields()["Currency"])
}

func TestValidate_MaxExceeded(t *testing.T) {
	err := Validate(createPaymentInput{
		BrokerID:    "dummy",
		Amount:      "100.00",
		Currency:    "PLN",
		Description: "this description is too long",
	})
	require.Error(t, err)

	valErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "must be at most 10 characters", valErr.Fields()["Description"])
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(createPaymentInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BrokerID")
	assert.Contains(t, err.Error(), "is required")
}
