package service

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrSessionLocked      = errors.New("session is locked")
	ErrSessionFinished    = errors.New("session already finished")
	ErrInvalidInput       = errors.New("invalid input")
	ErrThrottled          = errors.New("too many join attempts")
)
