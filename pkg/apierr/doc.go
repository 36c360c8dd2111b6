// Package apierr defines the typed error kinds used across the registry and
// their mapping to HTTP statuses and the {errors:[{detail}]} envelope.
package apierr
