package vouch_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vouchverify/vouch"
)

func TestAssert(t *testing.T) {
	vouch.Assert(true)

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		vouch.Assert(false)
	}()
	if recovered == nil {
		t.Fatal("expected panic")
	}
}

func TestAny_ZeroOutsidePlayback(t *testing.T) {
	if got, exp := vouch.AnyUint8(), uint8(0); got != exp {
		t.Fatalf("AnyUint8()=%d, expected %d", got, exp)
	}
	if got, exp := vouch.AnyInt64(), int64(0); got != exp {
		t.Fatalf("AnyInt64()=%d, expected %d", got, exp)
	}
	if vouch.AnyBool() {
		t.Fatal("AnyBool()=true, expected false")
	}
	if got, exp := vouch.AnyBytes(3), []byte{0, 0, 0}; cmp.Diff(got, exp) != "" {
		t.Fatalf("AnyBytes(3)=%v, expected %v", got, exp)
	}
}

func TestPlayback(t *testing.T) {
	t.Run("PopsInOrder", func(t *testing.T) {
		var a uint8
		var b uint16
		var c bool
		vouch.Playback([][]byte{{0xc8}, {0x34, 0x12}, {0x01}}, func() {
			a = vouch.AnyUint8()
			b = vouch.AnyUint16()
			c = vouch.AnyBool()
		})
		if got, exp := a, uint8(0xc8); got != exp {
			t.Fatalf("a=%#x, expected %#x", got, exp)
		}
		if got, exp := b, uint16(0x1234); got != exp {
			t.Fatalf("b=%#x, expected %#x", got, exp)
		}
		if !c {
			t.Fatal("c=false, expected true")
		}
	})

	t.Run("ShortValueZeroExtended", func(t *testing.T) {
		var v uint32
		vouch.Playback([][]byte{{0xff}}, func() {
			v = vouch.AnyUint32()
		})
		if got, exp := v, uint32(0xff); got != exp {
			t.Fatalf("v=%#x, expected %#x", got, exp)
		}
	})

	t.Run("ResetsAfterReturn", func(t *testing.T) {
		vouch.Playback([][]byte{{0x07}}, func() {
			_ = vouch.AnyUint8()
		})
		if got, exp := vouch.AnyUint8(), uint8(0); got != exp {
			t.Fatalf("AnyUint8()=%d, expected %d", got, exp)
		}
	})

	t.Run("ExhaustedQueuePanics", func(t *testing.T) {
		var recovered interface{}
		func() {
			defer func() { recovered = recover() }()
			vouch.Playback(nil, func() {
				vouch.AnyUint8()
			})
		}()
		if recovered == nil {
			t.Fatal("expected panic")
		}
	})

	t.Run("NestedPanics", func(t *testing.T) {
		var recovered interface{}
		vouch.Playback([][]byte{{0x01}}, func() {
			func() {
				defer func() { recovered = recover() }()
				vouch.Playback(nil, func() {})
			}()
		})
		if recovered == nil {
			t.Fatal("expected panic")
		}
	})

	t.Run("ReplaysRecordedFailure", func(t *testing.T) {
		// The pkg000 harness body, replayed with the wrapping inputs.
		var recovered interface{}
		func() {
			defer func() { recovered = recover() }()
			vouch.Playback([][]byte{{0xc8}, {0xc8}}, func() {
				a := vouch.AnyUint8()
				b := vouch.AnyUint8()
				vouch.Assume(a >= 100)
				vouch.Assume(b >= 100)
				c := a + b
				vouch.Assert(c >= a)
			})
		}()
		if recovered == nil {
			t.Fatal("expected replay to panic")
		}
	})
}
