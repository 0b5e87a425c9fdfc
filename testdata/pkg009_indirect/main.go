package main

import "github.com/vouchverify/vouch"

func double(x uint8) uint8 {
	return x * 2
}

// apply dispatches through a function value.
func apply(f func(uint8) uint8, x uint8) uint8 {
	return f(x)
}

// HarnessApply exercises an indirect call site.
func HarnessApply() {
	vouch.Assert(apply(double, 2) == 4)
}

func main() {}
