package main

import "github.com/vouchverify/vouch"

// poke takes the address of a stack local; the allocation dies when
// poke returns.
func poke() uint8 {
	var tmp uint8 = 3
	q := &tmp
	*q = 5
	return *q
}

// escape leaks the address of a local, forcing it onto the heap.
func escape() *uint8 {
	v := uint8(7)
	return &v
}

// HarnessDeref mixes live and dead-scope allocations around pointer
// reads.
func HarnessDeref() {
	x := poke()
	p := escape()
	vouch.Assert(*p == 7)
	vouch.Assert(x == 5)
}

func main() {}
