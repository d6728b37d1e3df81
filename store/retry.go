package store

import "time"

const (
	retryAttempts = 3
	retryBaseWait = 50 * time.Millisecond
)

// withRetry runs op up to retryAttempts times with exponential backoff.
// Removable media can produce transient I/O errors (e.g. a bus hiccup);
// a discrete read or write is worth a couple of retries before the whole
// sync attempt is failed.
func withRetry(op func() error) error {
	var err error
	wait := retryBaseWait
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt < retryAttempts-1 {
			time.Sleep(wait)
			wait *= 2
		}
	}
	return err
}
