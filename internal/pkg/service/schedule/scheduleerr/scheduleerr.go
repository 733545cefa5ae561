// Package scheduleerr contains typed errors of the schedule coordination.
// Errors can be matched by errors.As, each error has a machine-readable ErrorName.
package scheduleerr

import (
	"fmt"

	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// InvalidNameError - an identifier contains the reserved "$" separator.
type InvalidNameError struct {
	name string
}

func NewInvalidNameError(name string) InvalidNameError {
	return InvalidNameError{name: name}
}

func (InvalidNameError) ErrorName() string {
	return "invalidName"
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf(`base task type "%s" must not contain "$"`, e.name)
}

// DuplicateDefinitionError - a task type definition already exists.
type DuplicateDefinitionError struct {
	baseTaskType string
}

func NewDuplicateDefinitionError(baseTaskType string) DuplicateDefinitionError {
	return DuplicateDefinitionError{baseTaskType: baseTaskType}
}

func (DuplicateDefinitionError) ErrorName() string {
	return "duplicateDefinition"
}

func (e DuplicateDefinitionError) Error() string {
	return fmt.Sprintf(`task type "%s" already exists, delete it first to re-create it`, e.baseTaskType)
}

// DoubleRegistrationError - the server handle is already registered.
type DoubleRegistrationError struct {
	uuid string
}

func NewDoubleRegistrationError(uuid string) DoubleRegistrationError {
	return DoubleRegistrationError{uuid: uuid}
}

func (DoubleRegistrationError) ErrorName() string {
	return "doubleRegistration"
}

func (e DoubleRegistrationError) Error() string {
	return fmt.Sprintf(`server "%s" is already registered`, e.uuid)
}

// NotFoundError - a required node is missing.
type NotFoundError struct {
	what string
	key  string
}

func NewNotFoundError(what, key string) NotFoundError {
	return NotFoundError{what: what, key: key}
}

func (e NotFoundError) ErrorName() string {
	return "notFound"
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf(`%s "%s" not found`, e.what, e.key)
}

// NotImplementedError - the operation is explicitly unsupported.
type NotImplementedError struct {
	operation string
}

func NewNotImplementedError(operation string) NotImplementedError {
	return NotImplementedError{operation: operation}
}

func (NotImplementedError) ErrorName() string {
	return "notImplemented"
}

func (e NotImplementedError) Error() string {
	return fmt.Sprintf(`operation "%s" is not implemented`, e.operation)
}

// StoreError wraps a failure of the coordination store.
type StoreError struct {
	operation string
	err       error
}

// WrapStore returns nil if the err is nil.
func WrapStore(operation string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(StoreError{operation: operation, err: err})
}

func (StoreError) ErrorName() string {
	return "storeError"
}

func (e StoreError) Error() string {
	return fmt.Sprintf(`cannot %s: %s`, e.operation, e.err.Error())
}

func (e StoreError) Unwrap() error {
	return e.err
}

func IsInvalidName(err error) bool {
	var target InvalidNameError
	return errors.As(err, &target)
}

func IsDuplicateDefinition(err error) bool {
	var target DuplicateDefinitionError
	return errors.As(err, &target)
}

func IsDoubleRegistration(err error) bool {
	var target DoubleRegistrationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsNotImplemented(err error) bool {
	var target NotImplementedError
	return errors.As(err, &target)
}

func IsStoreError(err error) bool {
	var target StoreError
	return errors.As(err, &target)
}
