package engine

// Notifier wakes up a worker waiting for work. Any number of notifications
// sent while nobody listens collapse into one, so a worker must drain all
// pending work on every wake-up. Notifier is safe to pass by value.
type Notifier struct {
	notifier chan struct{}
}

func NewNotifier() Notifier {
	// the single buffered slot covers the window between a worker finding the
	// queue empty and starting to listen again
	return Notifier{notifier: make(chan struct{}, 1)}
}

// Notify sends a notification without blocking.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns the channel notifications are delivered on.
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
