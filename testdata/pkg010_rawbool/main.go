package main

import "github.com/vouchverify/vouch"

// HarnessRawFlag reads a flag whose backing byte may hold any pattern.
func HarnessRawFlag() {
	on := vouch.AnyRawBool()
	if on {
		vouch.Cover(true)
	}
}

func main() {}
