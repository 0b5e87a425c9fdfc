package vouch

import (
	"fmt"
	"go/types"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/immutable"
)

// TypeLayout describes the byte-level shape of a type on the target.
// Layouts are immutable once resolved.
type TypeLayout struct {
	Type  types.Type
	Size  int64
	Align int64

	// Field offsets, for structs. Indexed by field position.
	Offsets []int64

	// Discriminant describes dynamic dispatch encoding, for interfaces.
	Discriminant *Discriminant

	// Unconstructible marks a type no reachable code can produce a
	// value of, such as an interface with an empty candidate set.
	Unconstructible bool
}

// Bits returns the size of the type in bits.
func (l *TypeLayout) Bits() uint {
	return uint(l.Size) * 8
}

// String returns a short description of the layout.
func (l *TypeLayout) String() string {
	if l.Unconstructible {
		return fmt.Sprintf("(layout %s unconstructible)", l.Type)
	}
	return fmt.Sprintf("(layout %s size=%d align=%d)", l.Type, l.Size, l.Align)
}

// Discriminant describes how an interface value's dynamic type is
// encoded. Candidates are ordered deterministically so the same program
// always produces the same tag assignment.
type Discriminant struct {
	Bits       uint
	Candidates []types.Type
}

// Tag returns the tag value assigned to the given candidate, or -1.
func (d *Discriminant) Tag(typ types.Type) int {
	for i, c := range d.Candidates {
		if types.Identical(c, typ) {
			return i
		}
	}
	return -1
}

// LayoutResolver computes and caches type layouts. It is safe for
// concurrent use across harnesses; the cache is shared process-wide
// since layout depends only on the type and the target sizes.
type LayoutResolver struct {
	mu    sync.Mutex
	sizes types.Sizes
	cache *immutable.SortedMap[string, *TypeLayout]
}

// NewLayoutResolver returns a resolver using the given target sizes.
// Passing nil sizes selects 64-bit sizes matching gc on amd64.
func NewLayoutResolver(sizes types.Sizes) *LayoutResolver {
	if sizes == nil {
		sizes = types.SizesFor("gc", "amd64")
	}
	return &LayoutResolver{
		sizes: sizes,
		cache: immutable.NewSortedMap[string, *TypeLayout](nil),
	}
}

// PointerWidth returns the width of a pointer in bits.
func (r *LayoutResolver) PointerWidth() uint {
	return uint(r.sizes.Sizeof(types.Typ[types.UnsafePointer])) * 8
}

// Resolve returns the layout of typ, computing and caching it if needed.
func (r *LayoutResolver) Resolve(typ types.Type) (*TypeLayout, error) {
	key := typ.String()

	r.mu.Lock()
	if layout, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		return layout, nil
	}
	r.mu.Unlock()

	layout, err := r.resolve(typ)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache = r.cache.Set(key, layout)
	r.mu.Unlock()
	return layout, nil
}

func (r *LayoutResolver) resolve(typ types.Type) (*TypeLayout, error) {
	switch u := typ.Underlying().(type) {
	case *types.Basic:
		if u.Info()&types.IsFloat != 0 || u.Info()&types.IsComplex != 0 {
			return nil, fmt.Errorf("unsupported type: %s", typ)
		}
		return &TypeLayout{Type: typ, Size: r.sizes.Sizeof(typ), Align: r.sizes.Alignof(typ)}, nil

	case *types.Pointer:
		return &TypeLayout{Type: typ, Size: r.sizes.Sizeof(typ), Align: r.sizes.Alignof(typ)}, nil

	case *types.Struct:
		fields := make([]*types.Var, u.NumFields())
		for i := 0; i < u.NumFields(); i++ {
			fields[i] = u.Field(i)
			if _, err := r.resolve(fields[i].Type()); err != nil {
				return nil, err
			}
		}
		layout := &TypeLayout{Type: typ, Size: r.sizes.Sizeof(typ), Align: r.sizes.Alignof(typ)}
		if len(fields) > 0 {
			layout.Offsets = r.sizes.Offsetsof(fields)
		}
		return layout, nil

	case *types.Array:
		if _, err := r.resolve(u.Elem()); err != nil {
			return nil, err
		}
		return &TypeLayout{Type: typ, Size: r.sizes.Sizeof(typ), Align: r.sizes.Alignof(typ)}, nil

	default:
		return nil, fmt.Errorf("unsupported type: %s", typ)
	}
}

// ResolveInterface returns the layout of an interface type given its
// reachable candidate set. Candidates are sorted by type string so tag
// assignment is stable across runs. An empty candidate set yields an
// unconstructible layout.
func (r *LayoutResolver) ResolveInterface(typ types.Type, candidates []types.Type) (*TypeLayout, error) {
	if len(candidates) == 0 {
		return &TypeLayout{Type: typ, Unconstructible: true}, nil
	}

	sorted := make([]types.Type, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].String(), sorted[j].String()) < 0
	})

	// The value is a tag plus the payload of the widest candidate.
	var max int64
	var align int64 = 1
	for _, c := range sorted {
		layout, err := r.Resolve(c)
		if err != nil {
			return nil, err
		}
		if layout.Size > max {
			max = layout.Size
		}
		if layout.Align > align {
			align = layout.Align
		}
	}

	bits := minBits(uint(len(sorted)))
	tagBytes := int64(minBytes(bits))

	size := tagBytes + max
	if rem := size % align; rem != 0 {
		size += align - rem
	}

	return &TypeLayout{
		Type:  typ,
		Size:  size,
		Align: align,
		Discriminant: &Discriminant{
			Bits:       bits,
			Candidates: sorted,
		},
	}, nil
}
