package models

import "errors"

var (
	ErrNoCredential   = errors.New("session has no credential")
	ErrInvalidAccount = errors.New("account info has no uid")
	ErrUnusableRecord = errors.New("persisted session is not usable")
)
