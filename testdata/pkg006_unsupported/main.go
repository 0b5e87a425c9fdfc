package main

import "github.com/vouchverify/vouch"

var done = make(chan struct{})

// HarnessSpawn starts a goroutine, which has no translation. The
// harness must fail if this path runs, never silently pass.
func HarnessSpawn() {
	x := vouch.AnyBool()
	if x {
		go func() { close(done) }()
	}
	vouch.Assert(true)
}

func main() {}
