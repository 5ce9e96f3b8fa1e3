package app

import "errors"

var (
	// ErrNotFound indicates a referenced member, letter, or audio file does
	// not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest indicates required fields are missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAlreadyFollowing indicates the follow relationship already exists.
	ErrAlreadyFollowing = errors.New("already following")
)
