package rfs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates directory children.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is the backend's description of one directory child. It is an
// immutable snapshot taken per listing call and carries no identity of its
// own; identity is assigned by the mount's inode table.
type Entry struct {
	Kind       Kind
	Size       uint64
	ModifiedAt time.Time
}

// IsDir reports whether the entry describes a directory.
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// Listing is an ordered name → Entry mapping for one directory. Iteration
// order is the backend's natural order; it must never be re-sorted because
// directory enumeration offsets are positions in this order.
type Listing struct {
	names   []string
	entries map[string]Entry
}

// NewListing returns an empty listing.
func NewListing() *Listing {
	return &Listing{entries: make(map[string]Entry)}
}

// Add appends a named entry, preserving insertion order. Re-adding a name
// replaces the entry but keeps its original position.
func (l *Listing) Add(name string, e Entry) {
	if _, ok := l.entries[name]; !ok {
		l.names = append(l.names, name)
	}
	l.entries[name] = e
}

// Get returns the entry for name.
func (l *Listing) Get(name string) (Entry, bool) {
	e, ok := l.entries[name]
	return e, ok
}

// Len returns the number of entries.
func (l *Listing) Len() int {
	return len(l.names)
}

// At returns the i-th entry in natural order. The index must be in
// [0, Len()).
func (l *Listing) At(i int) (string, Entry) {
	name := l.names[i]
	return name, l.entries[name]
}

// Names returns the entry names in natural order. The slice is shared;
// callers must not mutate it.
func (l *Listing) Names() []string {
	return l.names
}

// entryDTO is the JSON wire representation of one listing element.
type entryDTO struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Size       uint64    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// DecodeListing parses the wire form of a directory listing: a JSON array
// of entries in the backend's natural order.
func DecodeListing(data []byte) (*Listing, error) {
	var dtos []entryDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}

	l := NewListing()
	for i, dto := range dtos {
		if dto.Name == "" {
			return nil, fmt.Errorf("listing entry %d has an empty name", i)
		}
		kind, err := parseKind(dto.Kind)
		if err != nil {
			return nil, fmt.Errorf("listing entry %q: %w", dto.Name, err)
		}
		l.Add(dto.Name, Entry{Kind: kind, Size: dto.Size, ModifiedAt: dto.ModifiedAt})
	}
	return l, nil
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "file":
		return KindFile, nil
	case "directory":
		return KindDirectory, nil
	default:
		return 0, fmt.Errorf("unknown entry kind %q", s)
	}
}
