package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// GenMessageID returns a unique, roughly time-ordered message id. The
// counter suffix keeps ids unique when several messages share a
// nanosecond timestamp.
func GenMessageID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenUserID returns a unique user id for callers that do not bring an
// external identity.
func GenUserID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("user-%d-%d", n, s)
}
