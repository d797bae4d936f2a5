package ordercore

import (
	"fmt"
	"sync/atomic"
	"time"
)

// localIDCounter is a process-wide monotonic counter; every generated id
// also carries the wall-clock unix second, so restarts don't collide within
// a reasonable window (spec.md §9 "Global id counters").
var localIDCounter uint64

// GenLocalID mints a new local order id: the current unix second modulo
// 1e6, followed by a 4-digit wrapping counter. Grounded on the original
// gen_local_id()'s "timestamp + 4 digit counter" scheme.
func GenLocalID() string {
	sec := time.Now().Unix() % 1_000_000
	n := atomic.AddUint64(&localIDCounter, 1) % 10000
	return fmt.Sprintf("%06d%04d", sec, n)
}
