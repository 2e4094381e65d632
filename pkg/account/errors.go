package account

import "errors"

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")

	ErrFailedToLoadAccount = errors.New("failed to load account")
	ErrFailedToSaveAccount = errors.New("failed to save account")
	ErrConcurrentUpdate    = errors.New("account was modified concurrently")
)
