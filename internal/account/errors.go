package account

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountStatusInvalid   = errors.New("account status invalid")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidTransfer        = errors.New("invalid transfer")
	ErrWithdrawLimitExceeded  = fmt.Errorf("%w: daily withdrawal limit exceeded", ErrInsufficientBalance)
	ErrTransferLimitExceeded  = fmt.Errorf("%w: daily transfer limit exceeded", ErrInsufficientBalance)
	ErrDuplicateAccountNumber = errors.New("account number already exists")
)

func statusError(action string) error {
	return fmt.Errorf("%s failed: %w", action, ErrAccountStatusInvalid)
}
