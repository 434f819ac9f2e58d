package machine

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineTag extracts the runtime's goroutine id from the current stack
// trace header ("goroutine 123 [running]:"). It exists solely so Sim can
// give each test goroutine a stable simulated CPU id without requiring
// every caller to thread one through explicitly; it is never used outside
// of the Sim machine implementation.
func goroutineTag() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}

func runtimeGosched() {
	runtime.Gosched()
}
