package types

import "github.com/m-mizutani/goerr/v2"

// Error tags classify failures across layers so that controllers can map
// them to HTTP responses without inspecting error strings.
var (
	ErrTagNotFound     = goerr.NewTag("not_found")
	ErrTagValidation   = goerr.NewTag("validation")
	ErrTagConflict     = goerr.NewTag("conflict")
	ErrTagExpired      = goerr.NewTag("expired")
	ErrTagUnauthorized = goerr.NewTag("unauthorized")
)
