package config

import "errors"

var (
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
	// ErrInvalidBatchSize is returned when a batch size is not greater than 0
	ErrInvalidBatchSize = errors.New("batch sizes must be greater than 0")
	// ErrInvalidMaxLength is returned when sanitizer.max_length is not greater than 0
	ErrInvalidMaxLength = errors.New("sanitizer.max_length must be greater than 0")
	// ErrUnknownProvider is returned for an unsupported analyzer provider
	ErrUnknownProvider = errors.New("analyzer.provider must be \"anthropic\"")
	// ErrInvalidMaxTokens is returned when analyzer.max_tokens is not greater than 0
	ErrInvalidMaxTokens = errors.New("analyzer.max_tokens must be greater than 0")
	// ErrInvalidTimeout is returned when analyzer.timeout is not greater than 0
	ErrInvalidTimeout = errors.New("analyzer.timeout must be greater than 0")
	// ErrInvalidRateLimit is returned when analyzer.requests_per_minute is negative
	ErrInvalidRateLimit = errors.New("analyzer.requests_per_minute cannot be negative")
	// ErrInvalidLockTTL is returned when lock_ttl is not greater than 0
	ErrInvalidLockTTL = errors.New("lock_ttl must be greater than 0")
	// ErrInvalidStaleTimeout is returned when stale_queue_timeout is negative
	ErrInvalidStaleTimeout = errors.New("stale_queue_timeout cannot be negative")
)
