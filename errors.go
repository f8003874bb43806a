package mmdbwriter

import "github.com/pkg/errors"

// ConfigError indicates a problem with the Options passed to New, e.g. an
// unsupported IPVersion or a language declared without a matching
// Description entry.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func newConfigError(format string, args ...interface{}) error {
	return &ConfigError{msg: errors.Errorf(format, args...).Error()}
}

// PrefixError indicates that a network passed to InsertNetwork or InsertSet
// cannot be inserted into this Tree, e.g. an IPv6 prefix into an IPv4-only
// tree.
type PrefixError struct {
	msg string
}

func (e *PrefixError) Error() string { return e.msg }

func newPrefixError(format string, args ...interface{}) error {
	return &PrefixError{msg: errors.Errorf(format, args...).Error()}
}

// ValueError indicates that a DataType could not be encoded, e.g. an
// integer that does not fit in its declared width or a map with a
// non-string key.
type ValueError struct {
	msg string
}

func (e *ValueError) Error() string { return e.msg }

func newValueError(format string, args ...interface{}) error {
	return &ValueError{msg: errors.Errorf(format, args...).Error()}
}

// CapacityError indicates that the database being written has grown beyond
// what the MMDB format can address: an encoded value's length reached the
// header's maximum, or the node records would require more than 32 bits
// each.
type CapacityError struct {
	msg string
}

func (e *CapacityError) Error() string { return e.msg }

func newCapacityError(format string, args ...interface{}) error {
	return &CapacityError{msg: errors.Errorf(format, args...).Error()}
}

// IOError wraps an underlying os/io failure encountered while writing the
// serialized database, e.g. creating, writing to, or renaming the output
// file. The original error is preserved and reachable via Unwrap, so
// callers can still errors.Is/errors.As against it.
type IOError struct {
	msg   string
	cause error
}

func (e *IOError) Error() string { return e.msg }

func (e *IOError) Unwrap() error { return e.cause }

func newIOError(cause error, format string, args ...interface{}) error {
	return &IOError{
		msg:   errors.Wrapf(cause, format, args...).Error(),
		cause: cause,
	}
}
