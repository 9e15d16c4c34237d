// Package perm defines the permission lattice assigned to pointers and the
// tables used to store one permission set per pointer.
package perm

import (
	"fmt"
	"strings"
)

// PermissionSet is a set of flags describing how a pointer may be used.
// Sets are ordered by inclusion: None is the bottom element and All the top.
type PermissionSet uint16

const (
	// Read means the pointee may be read through the pointer.
	Read PermissionSet = 1 << iota
	// Write means the pointee may be written through the pointer.
	Write
	// Unique means no other pointer aliases the pointee while this one is
	// live, i.e. the pointer may be used for exclusive access.
	Unique
	// Linear means the pointer is never copied.
	Linear
	// OffsetAdd allows positive pointer arithmetic.
	OffsetAdd
	// OffsetSub allows negative pointer arithmetic.
	OffsetSub
)

const (
	None PermissionSet = 0
	All               = Read | Write | Unique | Linear | OffsetAdd | OffsetSub
)

var flagNames = [...]struct {
	flag PermissionSet
	name string
}{
	{Read, "READ"},
	{Write, "WRITE"},
	{Unique, "UNIQUE"},
	{Linear, "LINEAR"},
	{OffsetAdd, "OFFSET_ADD"},
	{OffsetSub, "OFFSET_SUB"},
}

func (p PermissionSet) IsEmpty() bool { return p == None }

// Contains reports whether every flag of flags is present in p.
func (p PermissionSet) Contains(flags PermissionSet) bool { return p&flags == flags }

// Remove clears flags from p in place.
func (p *PermissionSet) Remove(flags PermissionSet) { *p &^= flags }

func (p PermissionSet) Intersect(o PermissionSet) PermissionSet { return p & o }

// Difference returns the flags of p that are not in o.
func (p PermissionSet) Difference(o PermissionSet) PermissionSet { return p &^ o }

// Union is only used to build initial hypotheses. Refinement never adds
// flags to an existing set.
func (p PermissionSet) Union(o PermissionSet) PermissionSet { return p | o }

func (p PermissionSet) String() string {
	if p.IsEmpty() {
		return "NONE"
	}

	var parts []string
	for _, fn := range flagNames {
		if p.Contains(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if rest := p &^ All; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

// ParsePermissionSet parses the format produced by String. Flag names are
// case-insensitive and may be separated by '|', ',' or whitespace.
func ParsePermissionSet(s string) (PermissionSet, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' ' || r == '\t'
	})

	var res PermissionSet
	for _, f := range fields {
		f = strings.ToUpper(f)
		switch f {
		case "NONE":
			continue
		case "ALL":
			res |= All
			continue
		}

		found := false
		for _, fn := range flagNames {
			if fn.name == f {
				res |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown permission flag %q", f)
		}
	}
	return res, nil
}
