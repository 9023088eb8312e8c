package repo

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrInsufficientBalance is returned by DebitWallet when the wallet is
// missing or holds less than the requested amount.
var ErrInsufficientBalance = errors.New("insufficient balance")
