package main

import "github.com/vouchverify/vouch"

// HarnessCover checks that both branches of a comparison are live.
func HarnessCover() {
	x := vouch.AnyUint8()
	if x > 200 {
		vouch.Cover(x == 255)
	} else {
		vouch.Cover(x == 0)
	}
}

func main() {}
