package vouch

import (
	"fmt"
)

// Array represents a symbolic region of memory, addressed by byte.
// Writes are tracked as a linked list of updates over the initial contents.
type Array struct {
	ID      uint64
	Name    string
	Size    uint
	Updates *ArrayUpdate
}

// NewArray returns a new instance of Array.
func NewArray(id uint64, name string, size uint) *Array {
	return &Array{ID: id, Name: name, Size: size}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.Name != "" {
		return fmt.Sprintf("(array %s %d)", a.Name, a.Size)
	}
	return fmt.Sprintf("(array a%d %d)", a.ID, a.Size)
}

// Select returns an expression reading width bits at index.
// Multi-byte reads are assembled little-endian.
func (a *Array) Select(index Expr, width uint) Expr {
	assert(width > 0, "select width cannot be zero")

	if width == WidthBool {
		return NewExtractExpr(a.selectByte(index), 0, WidthBool)
	}

	value := a.selectByte(index)
	for i := uint(1); i < minBytes(width); i++ {
		b := a.selectByte(NewBinaryExpr(ADD, index, NewConstantExpr(uint64(i), ExprWidth(index))))
		value = NewConcatExpr(b, value)
	}
	if width%8 != 0 {
		value = NewExtractExpr(value, 0, width)
	}
	return value
}

// selectByte returns an expression reading a single byte at index.
func (a *Array) selectByte(index Expr) Expr {
	// Walk update list backwards and return a matching update, if possible.
	// Unresolvable comparisons end the search and fall back to a symbolic read.
	for upd := a.Updates; upd != nil; upd = upd.Next {
		if CompareExpr(upd.Index, index) == 0 {
			return upd.Value
		}

		updIndex, ok0 := upd.Index.(*ConstantExpr)
		idx, ok1 := index.(*ConstantExpr)
		if !ok0 || !ok1 {
			break
		} else if updIndex.Value == idx.Value {
			return upd.Value
		}
	}
	return NewSelectExpr(a, index)
}

// Store writes value at index and returns the updated array.
// Multi-byte values are written little-endian.
func (a *Array) Store(index, value Expr) *Array {
	width := ExprWidth(value)

	if width == WidthBool {
		return a.storeByte(index, NewCastExpr(value, 8, false))
	}

	other := a
	for i := uint(0); i < minBytes(width); i++ {
		b := NewExtractExpr(value, i*8, min(8, width-i*8))
		if ExprWidth(b) != 8 {
			b = NewCastExpr(b, 8, false)
		}
		other = other.storeByte(NewBinaryExpr(ADD, index, NewConstantExpr(uint64(i), ExprWidth(index))), b)
	}
	return other
}

// storeByte writes a single byte at index and returns the updated array.
func (a *Array) storeByte(index, value Expr) *Array {
	next := a.Updates

	// Drop a superseded head update when both indexes are constant.
	if next != nil {
		if prev, ok := next.Index.(*ConstantExpr); ok {
			if idx, ok := index.(*ConstantExpr); ok && prev.Value == idx.Value {
				next = next.Next
			}
		}
	}

	return &Array{
		ID:      a.ID,
		Name:    a.Name,
		Size:    a.Size,
		Updates: &ArrayUpdate{Index: index, Value: value, Next: next},
	}
}

// Equal returns an expression comparing the entire contents of a and other.
func (a *Array) Equal(other *Array) Expr {
	assert(a.Size == other.Size, "array size mismatch: %d != %d", a.Size, other.Size)

	expr := Expr(NewBoolConstantExpr(true))
	for i := uint(0); i < a.Size; i++ {
		index := NewConstantExpr64(uint64(i))
		expr = NewBinaryExpr(AND, expr, NewBinaryExpr(EQ, a.selectByte(index), other.selectByte(index)))
	}
	return expr
}

// ArrayUpdate represents a single byte write to an array.
type ArrayUpdate struct {
	Index Expr
	Value Expr
	Next  *ArrayUpdate
}

// String returns a string representation of the update.
func (u *ArrayUpdate) String() string {
	return fmt.Sprintf("(store %s %s)", u.Index, u.Value)
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if a.ID != b.ID {
		if a.ID < b.ID {
			return -1
		}
		return 1
	}
	if a.Size != b.Size {
		if a.Size < b.Size {
			return -1
		}
		return 1
	}
	return compareArrayUpdate(a.Updates, b.Updates)
}

func compareArrayUpdate(a, b *ArrayUpdate) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	}
	if cmp := CompareExpr(a.Value, b.Value); cmp != 0 {
		return cmp
	}
	return compareArrayUpdate(a.Next, b.Next)
}

func min(a, b uint) uint {
	if a < b {
		return a
	}
	return b
}
