// Package errcode defines the stable error identifiers shared across
// clrand's packages, mirroring the rave_errno_t enum in the original
// librave implementation (include/rave/errno.h) so that every component
// — the binary loader, the metadata provider, the transform engine and
// the public handle — reports failures through the same vocabulary.
package errcode

import "errors"

// Code is a stable error identifier. Code zero is always success.
type Code int

const (
	Success Code = iota

	// Binary loader and ELF validation.
	ElfInit
	ElfMemory
	ElfNotSupported
	ElfHeader
	FileOpen
	FileStat
	Mapping
	FileClose
	SectionHeader
	NoSection
	SectionData
	NoSegment
	ProgramHeader
	MapFailed
	SegmentNotLoadable

	// Metadata provider.
	Dwarf

	// Transform engine and permutation pass.
	Transform

	// Generic.
	Fatal
	Invalid
	NoMemory
)

var names = map[Code]string{
	Success:            "Success",
	ElfInit:            "ElfInit",
	ElfMemory:          "ElfMemory",
	ElfNotSupported:    "ElfNotSupported",
	ElfHeader:          "ElfHeader",
	FileOpen:           "FileOpen",
	FileStat:           "FileStat",
	Mapping:            "Mapping",
	FileClose:          "FileClose",
	SectionHeader:      "SectionHeader",
	NoSection:          "NoSection",
	SectionData:        "SectionData",
	NoSegment:          "NoSegment",
	ProgramHeader:      "ProgramHeader",
	MapFailed:          "MapFailed",
	SegmentNotLoadable: "SegmentNotLoadable",
	Dwarf:              "Dwarf",
	Transform:          "Transform",
	Fatal:              "Fatal",
	Invalid:            "Invalid",
	NoMemory:           "NoMemory",
}

// String implements fmt.Stringer: a small lookup table plus an "Unknown"
// fallback for any code added without a name entry.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "Unknown"
}

// Error wraps an underlying cause with a stable Code, the Go analogue of
// librave's integer rave_errno_t return values.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error for code with the given underlying cause (which may
// be nil).
func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
