package main

import "github.com/vouchverify/vouch"

// HarnessAdd adds two unconstrained bytes. The sum can wrap, so the
// overflow check in front of the addition is falsifiable.
func HarnessAdd() {
	a := vouch.AnyUint8()
	b := vouch.AnyUint8()
	vouch.Assume(a >= 100)
	vouch.Assume(b >= 100)
	c := a + b
	vouch.Assert(c >= a)
}

func main() {}
