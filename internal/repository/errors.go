package repository

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrLockConflict = errors.New("seat locked by another session")
	ErrNotOwner     = errors.New("lock owned by another session")
	ErrSeatSold     = errors.New("seat already sold")
	ErrSaleClosed   = errors.New("sale record already completed")
)
