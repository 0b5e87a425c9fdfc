package vouch

import (
	"fmt"
	"sync"
)

// Assert checks a proof obligation. During verification it compiles to
// an assertion property; at runtime it panics when cond is false so a
// replayed counterexample fails the same way.
func Assert(cond bool) {
	if !cond {
		panic("vouch: assertion failed")
	}
}

// Assume restricts verification to executions where cond holds. At
// runtime it does nothing.
func Assume(cond bool) {}

// Cover checks that cond is satisfiable at this point during
// verification. At runtime it does nothing.
func Cover(cond bool) {}

// Nondeterministic input generators. During verification each call is a
// distinct unconstrained input. During normal execution they return
// zero values; under Playback they return the recorded bytes in order.

// AnyBool returns an unconstrained bool.
func AnyBool() bool { return playbackByte() != 0 }

// AnyRawBool returns a bool whose backing byte is not constrained to 0
// or 1 during verification.
func AnyRawBool() bool { return playbackByte() != 0 }

// AnyInt8 returns an unconstrained int8.
func AnyInt8() int8 { return int8(playbackUint(1)) }

// AnyInt16 returns an unconstrained int16.
func AnyInt16() int16 { return int16(playbackUint(2)) }

// AnyInt32 returns an unconstrained int32.
func AnyInt32() int32 { return int32(playbackUint(4)) }

// AnyInt64 returns an unconstrained int64.
func AnyInt64() int64 { return int64(playbackUint(8)) }

// AnyInt returns an unconstrained int.
func AnyInt() int { return int(playbackUint(8)) }

// AnyUint8 returns an unconstrained uint8.
func AnyUint8() uint8 { return uint8(playbackUint(1)) }

// AnyUint16 returns an unconstrained uint16.
func AnyUint16() uint16 { return uint16(playbackUint(2)) }

// AnyUint32 returns an unconstrained uint32.
func AnyUint32() uint32 { return uint32(playbackUint(4)) }

// AnyUint64 returns an unconstrained uint64.
func AnyUint64() uint64 { return playbackUint(8) }

// AnyUint returns an unconstrained uint.
func AnyUint() uint { return uint(playbackUint(8)) }

// AnyBytes returns n unconstrained bytes. n must be a constant for
// verification to model the call.
func AnyBytes(n int) []byte {
	b, ok := playbackNext(n)
	if !ok {
		return make([]byte, n)
	}
	return b
}

// playback is the process-wide replay state. Empty outside Playback.
var playback struct {
	mu     sync.Mutex
	active bool
	queue  [][]byte
}

// Playback runs fn substituting each nondeterministic generator call
// with the next recorded byte sequence, in order. Generated replay
// tests are the only intended caller.
func Playback(values [][]byte, fn func()) {
	playback.mu.Lock()
	if playback.active {
		playback.mu.Unlock()
		panic("vouch: nested Playback")
	}
	playback.active = true
	playback.queue = append([][]byte(nil), values...)
	playback.mu.Unlock()

	defer func() {
		playback.mu.Lock()
		playback.active = false
		playback.queue = nil
		playback.mu.Unlock()
	}()
	fn()
}

// playbackNext pops the next recorded value, sized to n bytes.
func playbackNext(n int) ([]byte, bool) {
	playback.mu.Lock()
	defer playback.mu.Unlock()
	if !playback.active {
		return nil, false
	}
	if len(playback.queue) == 0 {
		panic(fmt.Sprintf("vouch: playback exhausted, need %d more bytes", n))
	}
	v := playback.queue[0]
	playback.queue = playback.queue[1:]

	b := make([]byte, n)
	copy(b, v)
	return b, true
}

func playbackByte() byte {
	b, ok := playbackNext(1)
	if !ok {
		return 0
	}
	return b[0]
}

// playbackUint decodes the next n recorded bytes little-endian.
func playbackUint(n int) uint64 {
	b, ok := playbackNext(n)
	if !ok {
		return 0
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
