package retrieve

import "time"

// SetChtimes replaces the call that sets file times and returns a func
// that puts the original back.
func SetChtimes(f func(string, time.Time, time.Time) error) func() {
	orig := chtimes
	chtimes = f
	return func() { chtimes = orig }
}
