// Package errors provides the classified error primitives shared by every prefsd package.
//
// Each error carries a category that names the failure kind surfaced to callers
// (unknown key, invalid value, apply failed, restore failed, provider unavailable,
// duplicate key registration) or an ambient infrastructure category, a severity,
// and structured context. Adapters turn a classified error into a service reply,
// an HTTP status or a CLI exit code.
//
// Example usage:
//
//	err := errors.InvalidValue("wallpaper", "file does not exist").
//		WithContext("path", path).
//		Build()
package errors
