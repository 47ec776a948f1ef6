// Package download fetches mod archives over HTTP.
//
// A download streams the response body into a temporary file while hashing
// it, so the sha256 digest is known the moment the last byte lands. Progress
// is reported as a fraction scaled into a caller supplied sub-range, letting
// several downloads share one monotonic progress bar.
//
// Downloads are attempted once. Retrying is up to the caller.
package download
