package engine

import "fmt"

// Value is a raw engine value. Immediates (small integers and the special
// values) are encoded in the word itself; everything else is a reference into
// the context heap and is only valid while something keeps it rooted.
type Value uint64

// Tag is the low-bit tag of a raw Value.
type Tag uint8

// TagSpecialBits is the number of low bits that carry the tag.
const TagSpecialBits = 4

const tagMask = 1<<TagSpecialBits - 1

const (
	TagInt           Tag = 0x0
	TagPtr           Tag = 0x1
	TagBool          Tag = 0x3
	TagNull          Tag = 0x5
	TagUndefined     Tag = 0x7
	TagException     Tag = 0x9
	TagUninitialized Tag = 0xb
)

// MakeSpecial builds a special value from its tag and payload.
func MakeSpecial(tag Tag, v uint32) Value {
	return Value(uint64(tag) | uint64(v)<<TagSpecialBits)
}

var (
	Undefined     = MakeSpecial(TagUndefined, 0)
	Null          = MakeSpecial(TagNull, 0)
	False         = MakeSpecial(TagBool, 0)
	True          = MakeSpecial(TagBool, 1)
	Exception     = MakeSpecial(TagException, 0)
	Uninitialized = MakeSpecial(TagUninitialized, 0)
)

// MakeBool returns True or False.
func MakeBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// MakeInt encodes a 32-bit integer immediate.
func MakeInt(i int32) Value {
	return Value(uint64(uint32(i))<<32 | uint64(TagInt))
}

// MaxSlots is the largest heap slot index a pointer value can carry.
const MaxSlots = 1 << (32 - TagSpecialBits)

// MakePtr encodes a heap reference to slot index with the given generation.
func MakePtr(index, gen uint32) Value {
	if index >= MaxSlots {
		panic(fmt.Sprintf("engine: slot index %d out of range", index))
	}
	return Value(uint64(gen)<<32 | uint64(index)<<TagSpecialBits | uint64(TagPtr))
}

// SpecialTag extracts the tag bits.
func (v Value) SpecialTag() Tag { return Tag(v & tagMask) }

func (v Value) IsInt() bool           { return v.SpecialTag() == TagInt }
func (v Value) IsPtr() bool           { return v.SpecialTag() == TagPtr }
func (v Value) IsBool() bool          { return v.SpecialTag() == TagBool }
func (v Value) IsNull() bool          { return v.SpecialTag() == TagNull }
func (v Value) IsUndefined() bool     { return v.SpecialTag() == TagUndefined }
func (v Value) IsException() bool     { return v.SpecialTag() == TagException }
func (v Value) IsUninitialized() bool { return v.SpecialTag() == TagUninitialized }

// Int returns the payload of an integer immediate.
func (v Value) Int() int32 { return int32(uint32(v >> 32)) }

// Bool returns the payload of a bool special value.
func (v Value) Bool() bool { return uint32(v>>TagSpecialBits) != 0 }

// Ptr returns the slot index and generation of a heap reference.
func (v Value) Ptr() (index, gen uint32) {
	return uint32(v) >> TagSpecialBits, uint32(v >> 32)
}

func (v Value) String() string {
	switch v.SpecialTag() {
	case TagInt:
		return fmt.Sprintf("int(%d)", v.Int())
	case TagPtr:
		index, gen := v.Ptr()
		return fmt.Sprintf("ptr(%d@%d)", index, gen)
	case TagBool:
		return fmt.Sprintf("bool(%t)", v.Bool())
	case TagNull:
		return "null"
	case TagUndefined:
		return "undefined"
	case TagException:
		return "exception"
	case TagUninitialized:
		return "uninitialized"
	}
	return fmt.Sprintf("value(%#x)", uint64(v))
}
