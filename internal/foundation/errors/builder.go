package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
type ErrorBuilder struct {
	category  ErrorCategory
	severity  ErrorSeverity
	retryable bool
	message   string
	cause     error
	context   ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError,
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.cause = err
	return b
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

func (b *ErrorBuilder) Warning() *ErrorBuilder {
	return b.WithSeverity(SeverityWarning)
}

// Retryable marks the error as transient.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	b.retryable = true
	return b
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category:  b.category,
		severity:  b.severity,
		retryable: b.retryable,
		message:   b.message,
		cause:     b.cause,
		context:   b.context,
	}
}

// UnknownKey reports a key no handler owns.
func UnknownKey(key string) *ErrorBuilder {
	return NewError(CategoryUnknownKey, "unknown key").WithContext("key", key)
}

// InvalidValue reports a candidate rejected by validation. reason is the
// handler-specific diagnostic surfaced to the caller.
func InvalidValue(key, reason string) *ErrorBuilder {
	if reason == "" {
		reason = "invalid value"
	}
	return NewError(CategoryInvalidValue, reason).WithContext("key", key)
}

// ApplyFailed reports a committed value whose side effects did not complete.
func ApplyFailed(key string, cause error) *ErrorBuilder {
	return WrapError(cause, CategoryApplyFailed, "value stored but not applied").
		WithContext("key", key).
		Warning()
}

// RestoreFailed reports a default restoration that produced no valid value.
func RestoreFailed(key, reason string) *ErrorBuilder {
	return NewError(CategoryRestoreFailed, reason).WithContext("key", key)
}

// ProviderUnavailable reports a native collaborator that could not be initialized.
func ProviderUnavailable(provider string) *ErrorBuilder {
	return NewError(CategoryProviderUnavailable, "no working provider available").
		WithContext("provider", provider)
}

// DuplicateKey reports two handlers claiming the same key. Always fatal.
func DuplicateKey(key, existing, incoming string) *ErrorBuilder {
	return NewError(CategoryDuplicateKey, "duplicate key registration").
		WithContext("key", key).
		WithContext("owner", existing).
		WithContext("claimant", incoming).
		Fatal()
}

func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message)
}

// StorageError creates a persistence error (typically retryable).
func StorageError(message string) *ErrorBuilder {
	return NewError(CategoryStorage, message).Retryable()
}

func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message)
}

func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
