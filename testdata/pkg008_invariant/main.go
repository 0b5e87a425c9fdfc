package main

import "github.com/vouchverify/vouch"

// Percent is a calibrated reading that never exceeds 200.
type Percent uint8

// HarnessPercent converts a free byte into a refined reading.
func HarnessPercent() {
	x := vouch.AnyUint8()
	p := Percent(x)
	vouch.Assert(uint8(p) <= 200)
}

func main() {}
