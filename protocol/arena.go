package protocol

import "github.com/valyala/bytebufferpool"

// arenaPool backs every Task's per-reply scratch buffer. A pool rather than a fresh allocation per task, per the
// design note in spec section 9 about replacing the original's intrusive memory pools with an owned, deterministic
// allocation that is released at task end - pooling keeps that release from costing a garbage collection per task.
var arenaPool bytebufferpool.Pool

// checkoutArena acquires a scratch buffer for the duration of one WriteReply call.
func checkoutArena() *bytebufferpool.ByteBuffer {
	return arenaPool.Get()
}

// releaseArena returns a scratch buffer to the pool. Callers must not touch buf afterwards.
func releaseArena(buf *bytebufferpool.ByteBuffer) {
	arenaPool.Put(buf)
}
