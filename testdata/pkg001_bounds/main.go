package main

import "github.com/vouchverify/vouch"

// HarnessIndex reads a table slot chosen by an unconstrained index.
func HarnessIndex() {
	var table [4]uint8
	i := vouch.AnyInt()
	table[i] = 1
	vouch.Assert(table[i] == 1)
}

func main() {}
