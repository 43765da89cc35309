package encoding

import (
	"errors"
	"fmt"
)

// UnknownVariantError is returned when a sum type carries a tag this build
// does not know.
type UnknownVariantError struct {
	Type string
	Tag  uint64
}

func (e UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown %s variant tag %d", e.Type, e.Tag)
}

// NewUnknownVariantError returns a new UnknownVariantError.
func NewUnknownVariantError(typ string, tag uint64) UnknownVariantError {
	return UnknownVariantError{Type: typ, Tag: tag}
}

// IsUnknownVariantError returns true if err is an UnknownVariantError.
func IsUnknownVariantError(err error) bool {
	var e UnknownVariantError
	return errors.As(err, &e)
}

// FieldTooLargeError is returned when a decoded field exceeds its bound.
type FieldTooLargeError struct {
	Field string
	Size  int
	Limit int
}

func (e FieldTooLargeError) Error() string {
	return fmt.Sprintf("field %s has size %d, exceeding limit %d", e.Field, e.Size, e.Limit)
}

// NewFieldTooLargeError returns a new FieldTooLargeError.
func NewFieldTooLargeError(field string, size int, limit int) FieldTooLargeError {
	return FieldTooLargeError{Field: field, Size: size, Limit: limit}
}

// IsFieldTooLargeError returns true if err is a FieldTooLargeError.
func IsFieldTooLargeError(err error) bool {
	var e FieldTooLargeError
	return errors.As(err, &e)
}

// CheckLen returns a FieldTooLargeError when size exceeds limit.
func CheckLen(field string, size int, limit int) error {
	if size > limit {
		return NewFieldTooLargeError(field, size, limit)
	}
	return nil
}
