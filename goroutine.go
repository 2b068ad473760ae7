package tinyioc

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutineHeader = []byte("goroutine ")

// goid returns ID of the calling goroutine.
// ok is false if it can't be parsed from the stack header.
func goid() (id int64, ok bool) {
	var buf [64]byte

	return parseGoroutineID(buf[:runtime.Stack(buf[:], false)])
}

// parseGoroutineID reads ID from stack header like "goroutine 42 [running]:".
func parseGoroutineID(header []byte) (int64, bool) {
	header, ok := bytes.CutPrefix(header, goroutineHeader)
	if !ok {
		return 0, false
	}

	end := bytes.IndexByte(header, ' ')
	if end < 0 {
		return 0, false
	}

	id, err := strconv.ParseInt(string(header[:end]), 10, 64)

	return id, err == nil && id > 0
}
