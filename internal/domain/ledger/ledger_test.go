package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moneysaga/engine/internal/errs"
)

func TestValidateCreateWalletRejectsEmptyUserID(t *testing.T) {
	err := ValidateCreateWallet("")
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestValidateCreateWalletAcceptsUserID(t *testing.T) {
	require.NoError(t, ValidateCreateWallet("user-1"))
}

func TestRefundTransactionIDIsDeterministic(t *testing.T) {
	first := RefundTransactionID("transfer-123")
	second := RefundTransactionID("transfer-123")
	require.Equal(t, first, second)
}

func TestRefundTransactionIDDiffersByTransfer(t *testing.T) {
	require.NotEqual(t, RefundTransactionID("transfer-1"), RefundTransactionID("transfer-2"))
}

func TestRefundTransactionIDDoesNotCollideWithTransferID(t *testing.T) {
	transferID := "transfer-123"
	require.NotEqual(t, transferID, RefundTransactionID(transferID))
}
