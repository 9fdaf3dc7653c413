package outbox

import "errors"

var (
	// ErrStoreRequired indicates the runner was built without an event store.
	ErrStoreRequired = errors.New("outbox: event store is required")
	// ErrHandlerRegistryRequired indicates the runner was built without handlers.
	ErrHandlerRegistryRequired = errors.New("outbox: handler registry is required")
	// ErrRunnerRunning indicates Run was called on an already running runner.
	ErrRunnerRunning = errors.New("outbox: runner is already running")
	// ErrEventTypeRequired indicates a handler registration without an event type.
	ErrEventTypeRequired = errors.New("outbox: event type is required")
	// ErrEventHandlerRequired indicates a nil handler registration.
	ErrEventHandlerRequired = errors.New("outbox: event handler is required")
	// ErrHandlerAlreadyRegistered indicates a duplicate handler registration.
	ErrHandlerAlreadyRegistered = errors.New("outbox: handler already registered")
	// ErrHandlerNotRegistered indicates no handler matches an event type.
	ErrHandlerNotRegistered = errors.New("outbox: no handler registered for event type")
	// ErrEventRequired indicates a nil event was dispatched.
	ErrEventRequired = errors.New("outbox: event is required")
)
