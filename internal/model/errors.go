package model

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrManagerClosed = errors.New("manager closed")
)
