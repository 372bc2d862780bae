package errors

// Convenience functions for common error patterns

// Lookup and state errors

func NotFound(entity, name string) *PulpManagerError {
	return New(CategoryNotFound, SeverityError, entity+" not found").
		WithContext("name", name)
}

func InvalidState(message string) *PulpManagerError {
	return New(CategoryInvalidState, SeverityError, message)
}

func InvalidArgument(message string) *PulpManagerError {
	return New(CategoryInvalidArgument, SeverityWarning, message)
}

// Store errors

func FilterError(key string) *PulpManagerError {
	return New(CategoryFilter, SeverityWarning, "invalid filter key").
		WithContext("key", key)
}

func PageSizeTooLarge(requested, max int) *PulpManagerError {
	return New(CategoryPageSizeTooLarge, SeverityWarning, "page size exceeds configured maximum").
		WithContext("requested", requested).
		WithContext("max", max)
}

func IntegrityFailure(operation string, cause error) *PulpManagerError {
	return Wrap(cause, CategoryIntegrity, SeverityError, "database constraint violation").
		WithContext("operation", operation)
}

func StorageError(operation string, cause error) *PulpManagerError {
	return Wrap(cause, CategoryStorage, SeverityError, "database operation failed").
		WithContext("operation", operation)
}

// Content-server errors

func UpstreamFailure(message string, cause error) *PulpManagerError {
	return Wrap(cause, CategoryUpstream, SeverityError, message)
}

func UpstreamTransient(message string, cause error) *PulpManagerError {
	return WrapRetryable(cause, CategoryUpstream, SeverityWarning, message)
}

func SigningServiceMissing(name string) *PulpManagerError {
	return New(CategoryExternalResourceMissing, SeverityError, "signing service not found").
		WithContext("signing_service", name)
}

// External collaborator errors

func GitCloneError(repo string, cause error) *PulpManagerError {
	return Wrap(cause, CategoryGit, SeverityFatal, "repository clone failed").
		WithContext("repository", repo)
}

func VaultError(path string, cause error) *PulpManagerError {
	return Wrap(cause, CategoryVault, SeverityError, "secret read failed").
		WithContext("path", path)
}

func QueueError(operation string, cause error) *PulpManagerError {
	return Wrap(cause, CategoryQueue, SeverityError, "queue operation failed").
		WithContext("operation", operation)
}

// Config errors

func ConfigNotFound(path string) *PulpManagerError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *PulpManagerError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

// Internal errors

func InternalError(message string, cause error) *PulpManagerError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
