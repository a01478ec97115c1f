package core

// Notifier is an interface to receive notifications about committed mutations
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
