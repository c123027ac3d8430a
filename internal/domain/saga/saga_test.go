package saga

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moneysaga/engine/internal/errs"
)

const (
	testSenderWalletID   = "11111111-1111-1111-1111-111111111111"
	testReceiverWalletID = "22222222-2222-2222-2222-222222222222"
)

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusDebited.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestValidateInitiateRejectsMissingWallets(t *testing.T) {
	err := ValidateInitiate("", testReceiverWalletID, 100)
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	err = ValidateInitiate(testSenderWalletID, "", 100)
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestValidateInitiateRejectsSameWallet(t *testing.T) {
	err := ValidateInitiate(testSenderWalletID, testSenderWalletID, 100)
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestValidateInitiateRejectsNonPositiveAmount(t *testing.T) {
	err := ValidateInitiate(testSenderWalletID, testReceiverWalletID, 0)
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestValidateInitiateAcceptsValidInput(t *testing.T) {
	require.NoError(t, ValidateInitiate(testSenderWalletID, testReceiverWalletID, 500))
}
