// Package storage holds the errors shared by the deployment record stores.
package storage

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrServiceExists = errors.New("service already exists")
)
