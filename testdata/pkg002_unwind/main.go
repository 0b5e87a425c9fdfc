package main

import "github.com/vouchverify/vouch"

// HarnessLoop runs a counting loop whose trip count depends on an
// unconstrained input, so any fixed unwind bound can be exceeded.
//
//vouch:unwind 3
func HarnessLoop() {
	n := vouch.AnyUint8()
	vouch.Assume(n <= 4)

	var sum uint8
	for i := uint8(0); i < n; i++ {
		sum += 1
	}
	vouch.Assert(sum == n)
}

func main() {}
