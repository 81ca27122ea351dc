package gidcache

import "errors"

var (
	ErrNotReady         = errors.New("gid table not active")
	ErrNotFound         = errors.New("gid not found")
	ErrCapacityExceeded = errors.New("gid table full")
	ErrPermissionDenied = errors.New("default gid cannot be deleted")
	ErrRetry            = errors.New("gid entry update in progress")
	ErrOutOfRange       = errors.New("gid index out of range")
	ErrAllocation       = errors.New("gid table allocation failed")
)
