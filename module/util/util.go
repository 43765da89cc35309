package util

// CheckClosed reports whether done is closed, without blocking.
func CheckClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// WaitError blocks until an error arrives on errs or done closes. Since done may close
// because an error was thrown, errs is drained once more before reporting nil.
func WaitError(errs <-chan error, done <-chan struct{}) error {
	select {
	case err := <-errs:
		return err
	case <-done:
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}
