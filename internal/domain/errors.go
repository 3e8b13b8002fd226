package domain

import "errors"

var (
	ErrScreenNotFound       = errors.New("screen not found")
	ErrContentNotFound      = errors.New("content not found")
	ErrPlaylistNotFound     = errors.New("playlist not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrAreaNotFound         = errors.New("area not found")

	ErrNotApproved    = errors.New("screen not approved")
	ErrInvalidAction  = errors.New("invalid remote control action")
	ErrCaptureTimeout = errors.New("capture request timed out")

	ErrCodeConflict = errors.New("screen code already in use")
	ErrIPConflict   = errors.New("ip address already registered")

	ErrForbidden    = errors.New("operator may not act on this resource")
	ErrUnauthorized = errors.New("missing or invalid operator credentials")
	ErrInvalidInput = errors.New("invalid input")
)
