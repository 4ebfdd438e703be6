// Package identifier defines the structured identifier types that name
// service types, instances, and individual elements (events, fields,
// methods) across the binding.
package identifier

import (
	"errors"
	"fmt"
)

// ErrInvalidIdentifier reports a malformed identifier string.
var ErrInvalidIdentifier = errors.New("identifier: invalid")

// ServiceId identifies a service type. Shared-memory and partial-restart
// marker names render it as 16 zero-padded lowercase hex digits; the
// discovery tree names its directory in decimal.
type ServiceId uint16

// InstanceId identifies a service instance within a service type.
// Canonical path form is a 5-digit lowercase hex string; the leading
// (most significant) nibble of the underlying 16-bit value is reserved to
// encode the binding, so the printable width is one digit wider than the
// natural 4-hex-digit width of a uint16.
type InstanceId uint16

// QualityType is the ASIL safety quality of a service instance or consumer.
type QualityType int

const (
	// QualityInvalid is a placeholder value only; it never names a real
	// offer or consumer.
	QualityInvalid QualityType = iota
	QualityQM
	QualityASILB
)

func (q QualityType) String() string {
	switch q {
	case QualityQM:
		return "asil-qm"
	case QualityASILB:
		return "asil-b"
	default:
		return "invalid"
	}
}

// ParseQualityTypeFromString matches the suffixes used in discovery flag
// file names. Anything unrecognised maps to QualityInvalid; callers decide
// whether that is a fault.
func ParseQualityTypeFromString(s string) QualityType {
	switch s {
	case "asil-qm":
		return QualityQM
	case "asil-b":
		return QualityASILB
	default:
		return QualityInvalid
	}
}

// ElementType distinguishes the three kinds of service element.
type ElementType int

const (
	ElementEvent ElementType = iota
	ElementField
	ElementMethod
)

func (e ElementType) String() string {
	switch e {
	case ElementEvent:
		return "event"
	case ElementField:
		return "field"
	case ElementMethod:
		return "method"
	default:
		return "unknown"
	}
}

// ElementFqId fully qualifies a service element: it uniquely names a
// service element within a process.
type ElementFqId struct {
	ServiceId  ServiceId
	ElementId  uint16
	InstanceId InstanceId
	Type       ElementType
}

// ToHashString renders a dense, comparable key for the element. The
// element type occupies the leading nibble so elements of different
// kinds never collide even when their numeric ids coincide.
func (e ElementFqId) ToHashString() string {
	return fmt.Sprintf("%01x%04x%04x%04x", e.Type, e.ServiceId, e.ElementId, e.InstanceId)
}

// ServiceIdentifierType names a service type by (name, major, minor)
// version, matching an AUTOSAR ServiceInterfaceDeployment identity.
type ServiceIdentifierType struct {
	Name  string
	Major uint32
	Minor uint32
}

// SerializedForm is the canonical string used for equality, ordering, and
// hashing of a ServiceIdentifierType.
func (s ServiceIdentifierType) SerializedForm() string {
	return fmt.Sprintf("%s:%d.%d", s.Name, s.Major, s.Minor)
}

func (s ServiceIdentifierType) Less(other ServiceIdentifierType) bool {
	return s.SerializedForm() < other.SerializedForm()
}

// InstanceSpecifier is a validated human-readable path string used as a
// configuration key (e.g. "/my_app/port/instance"). Construct via
// NewInstanceSpecifier; the zero value is not valid.
type InstanceSpecifier struct {
	value string
}

// NewInstanceSpecifier validates s and wraps it. A valid specifier is a
// non-empty, '/'-separated path of non-empty segments.
func NewInstanceSpecifier(s string) (InstanceSpecifier, error) {
	if s == "" {
		return InstanceSpecifier{}, fmt.Errorf("%w: empty instance specifier", ErrInvalidIdentifier)
	}

	if s[0] != '/' {
		return InstanceSpecifier{}, fmt.Errorf("%w: instance specifier %q must start with '/'", ErrInvalidIdentifier, s)
	}

	segments := splitNonEmpty(s[1:], '/')
	if len(segments) == 0 {
		return InstanceSpecifier{}, fmt.Errorf("%w: instance specifier %q has no segments", ErrInvalidIdentifier, s)
	}

	for _, seg := range segments {
		if seg == "" {
			return InstanceSpecifier{}, fmt.Errorf("%w: instance specifier %q has an empty segment", ErrInvalidIdentifier, s)
		}
	}

	return InstanceSpecifier{value: s}, nil
}

func (i InstanceSpecifier) String() string { return i.value }

func splitNonEmpty(s string, sep byte) []string {
	var out []string

	start := 0

	for idx := 0; idx <= len(s); idx++ {
		if idx == len(s) || s[idx] == sep {
			out = append(out, s[start:idx])
			start = idx + 1
		}
	}

	return out
}

// HandleType is the public object by which a discovered offer is named: a
// ServiceIdentifierType qualified by an optional concrete instance id (a
// nil InstanceId means "matches any instance" in collaborator contracts
// that accept a HandleType).
type HandleType struct {
	Identifier ServiceIdentifierType
	InstanceId *InstanceId
}

// ToHashString renders a dense key analogous to ElementFqId.ToHashString,
// with the binding-disambiguating leading nibble fixed at 0 for Lola (a
// hypothetical SomeIp binding sharing this key space would use 1).
func (h HandleType) ToHashString() string {
	inst := "any"
	if h.InstanceId != nil {
		inst = fmt.Sprintf("%04x", uint16(*h.InstanceId))
	}

	return fmt.Sprintf("0%s:%s", h.Identifier.SerializedForm(), inst)
}
