package models

import "errors"

// ErrNotFound is wrapped by stores when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is wrapped by stores when a unique key is already taken.
var ErrConflict = errors.New("already exists")
