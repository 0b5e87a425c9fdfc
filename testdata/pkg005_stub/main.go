package main

import "github.com/vouchverify/vouch"

// lookup is the real dependency: its body cannot be modeled.
func lookup(key uint8) uint8 {
	m := map[uint8]uint8{key: key}
	return m[key]
}

// lookupStub replaces lookup during verification.
func lookupStub(key uint8) uint8 {
	return key
}

// HarnessStubbed verifies against the stubbed dependency.
//
//vouch:stub lookup lookupStub
func HarnessStubbed() {
	k := vouch.AnyUint8()
	vouch.Assert(lookup(k) == k)
}

func main() {}
