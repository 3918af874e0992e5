package metrics

import "codeberg.org/mutker/itrack/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("metrics_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("metrics_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("metrics_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("metrics_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("metrics_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrStoreFailed  = errors.ErrStoreMetrics
	ErrQueryFailed  = errors.ErrQueryMetrics

	// Service Errors
	ErrServiceShutdown = errors.ErrShutdownFailed
	ErrInvalidBatch    = errors.ErrorCode("metrics_invalid_batch")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
