// Package ptrx has pointer helpers for optional fields in patch structs.
package ptrx

import "time"

// To returns a pointer to v.
func To[T any](v T) *T { return &v }

func String(v string) *string     { return &v }
func Bool(v bool) *bool           { return &v }
func Time(v time.Time) *time.Time { return &v }

// Value dereferences v, returning the zero value for nil.
func Value[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

// ValueOr dereferences v, returning def for nil.
func ValueOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
