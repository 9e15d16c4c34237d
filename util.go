package permcheck

import (
	"go/types"
)

// Tracked reports whether values of type t are pointers whose permissions are
// inferred: pointers, unsafe.Pointer and slices. Maps, channels, interfaces
// and functions are reference-like but opaque to the analysis.
func Tracked(t types.Type) bool {
	switch t := types.Unalias(t).(type) {
	case *types.Pointer, *types.Slice:
		return true
	case *types.Basic:
		return t.Kind() == types.UnsafePointer
	case *types.Named:
		return Tracked(t.Underlying())
	default:
		return false
	}
}
