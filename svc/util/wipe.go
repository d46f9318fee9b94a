package util

import "runtime"

// Wipe zeroes key material once it is no longer needed. Nil slices are skipped.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		for i := range b {
			b[i] = 0
		}
		runtime.KeepAlive(b)
	}
}
