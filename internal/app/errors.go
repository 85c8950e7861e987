package app

import "errors"

var (
	// ErrUserNotFound is returned when no account exists for the given email.
	ErrUserNotFound = errors.New("No account found with this email address")

	// ErrInvalidCredentials is returned when the supplied password does not match.
	ErrInvalidCredentials = errors.New("Invalid password")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrNameRequired             = errors.New("name required")
	ErrPasswordMismatch         = errors.New("passwords do not match")
	ErrEmailAlreadyExists       = errors.New("email already exists")

	ErrMessagesRequired  = errors.New("messages required")
	ErrSpecialtyRequired = errors.New("specialty required")
	ErrUnknownSpecialty  = errors.New("unknown specialty")

	ErrConsultationNotFound = errors.New("consultation not found")

	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrAttachmentRequired = errors.New("attachment file required")
)
