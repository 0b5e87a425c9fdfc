package vouch_test

import (
	"go/token"
	"go/types"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vouchverify/vouch"
)

func TestLayoutResolver_Resolve(t *testing.T) {
	r := vouch.NewLayoutResolver(nil)

	t.Run("Basic", func(t *testing.T) {
		layout, err := r.Resolve(types.Typ[types.Uint32])
		if err != nil {
			t.Fatal(err)
		}
		if got, exp := layout.Size, int64(4); got != exp {
			t.Fatalf("size=%d, expected %d", got, exp)
		}
		if got, exp := layout.Bits(), uint(32); got != exp {
			t.Fatalf("bits=%d, expected %d", got, exp)
		}
	})

	t.Run("Struct", func(t *testing.T) {
		st := types.NewStruct([]*types.Var{
			types.NewField(token.NoPos, nil, "a", types.Typ[types.Uint8], false),
			types.NewField(token.NoPos, nil, "b", types.Typ[types.Uint32], false),
		}, nil)
		layout, err := r.Resolve(st)
		if err != nil {
			t.Fatal(err)
		}
		if got, exp := layout.Size, int64(8); got != exp {
			t.Fatalf("size=%d, expected %d", got, exp)
		}
		if got, exp := layout.Offsets, []int64{0, 4}; cmp.Diff(got, exp) != "" {
			t.Fatalf("unexpected offsets: %v", got)
		}
	})

	t.Run("Array", func(t *testing.T) {
		at := types.NewArray(types.Typ[types.Uint16], 3)
		layout, err := r.Resolve(at)
		if err != nil {
			t.Fatal(err)
		}
		if got, exp := layout.Size, int64(6); got != exp {
			t.Fatalf("size=%d, expected %d", got, exp)
		}
	})

	t.Run("Float", func(t *testing.T) {
		if _, err := r.Resolve(types.Typ[types.Float64]); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLayoutResolver_Idempotent(t *testing.T) {
	r := vouch.NewLayoutResolver(nil)
	candidates := []types.Type{
		types.Typ[types.Bool],
		types.Typ[types.Int8],
		types.Typ[types.Int16],
		types.Typ[types.Int32],
		types.Typ[types.Int64],
		types.Typ[types.Uint8],
		types.Typ[types.Uint16],
		types.Typ[types.Uint32],
		types.Typ[types.Uint64],
		types.NewArray(types.Typ[types.Uint32], 5),
		types.NewStruct([]*types.Var{
			types.NewField(token.NoPos, nil, "a", types.Typ[types.Uint8], false),
			types.NewField(token.NoPos, nil, "b", types.Typ[types.Uint64], false),
		}, nil),
	}

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("repeated resolution is identical", prop.ForAll(
		func(i int) bool {
			typ := candidates[i%len(candidates)]
			first, err := r.Resolve(typ)
			if err != nil {
				return false
			}
			second, err := r.Resolve(typ)
			if err != nil {
				return false
			}
			return first.Size == second.Size &&
				first.Align == second.Align &&
				cmp.Diff(first.Offsets, second.Offsets) == ""
		},
		gen.IntRange(0, 1000),
	))
	properties.TestingRun(t)
}

func TestLayoutResolver_ResolveInterface(t *testing.T) {
	r := vouch.NewLayoutResolver(nil)
	iface := types.NewInterfaceType(nil, nil)

	t.Run("Empty", func(t *testing.T) {
		layout, err := r.ResolveInterface(iface, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !layout.Unconstructible {
			t.Fatal("expected unconstructible layout")
		}
	})

	t.Run("StableTagOrder", func(t *testing.T) {
		a := types.Typ[types.Int16]
		b := types.Typ[types.Uint8]

		l0, err := r.ResolveInterface(iface, []types.Type{a, b})
		if err != nil {
			t.Fatal(err)
		}
		l1, err := r.ResolveInterface(iface, []types.Type{b, a})
		if err != nil {
			t.Fatal(err)
		}
		if got, exp := l0.Discriminant.Tag(a), l1.Discriminant.Tag(a); got != exp {
			t.Fatalf("tag=%d, expected %d", got, exp)
		}
		if got, exp := l0.Discriminant.Tag(b), l1.Discriminant.Tag(b); got != exp {
			t.Fatalf("tag=%d, expected %d", got, exp)
		}
	})

	t.Run("DiscriminantBits", func(t *testing.T) {
		cands := []types.Type{
			types.Typ[types.Int8], types.Typ[types.Int16],
			types.Typ[types.Int32], types.Typ[types.Int64],
			types.Typ[types.Uint8],
		}
		layout, err := r.ResolveInterface(iface, cands)
		if err != nil {
			t.Fatal(err)
		}
		if got, exp := layout.Discriminant.Bits, uint(3); got != exp {
			t.Fatalf("bits=%d, expected %d", got, exp)
		}
	})
}
