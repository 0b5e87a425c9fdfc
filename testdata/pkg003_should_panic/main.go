package main

import "github.com/vouchverify/vouch"

// HarnessDivZero divides by an input that may be zero and expects the
// failure.
//
//vouch:should_panic
func HarnessDivZero() {
	d := vouch.AnyUint8()
	vouch.Assume(d <= 1)
	q := uint8(10) / d
	vouch.Assert(q >= 10)
}

func main() {}
