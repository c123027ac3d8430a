package money

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moneysaga/engine/internal/errs"
)

func TestValidatePositiveAcceptsPositive(t *testing.T) {
	require.NoError(t, ValidatePositive("test/op", 1))
	require.NoError(t, ValidatePositive("test/op", 100_00))
}

func TestValidatePositiveRejectsZero(t *testing.T) {
	err := ValidatePositive("test/op", 0)
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestValidatePositiveRejectsNegative(t *testing.T) {
	err := ValidatePositive("test/op", -1)
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}
