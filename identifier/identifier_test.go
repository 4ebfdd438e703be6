package identifier

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseQualityTypeFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]QualityType{
		"asil-qm": QualityQM,
		"asil-b":  QualityASILB,
		"":        QualityInvalid,
		"garbage": QualityInvalid,
	}

	for in, want := range cases {
		got := ParseQualityTypeFromString(in)
		require.Equalf(t, want, got, "input %q", in)
	}
}

func TestElementFqIdToHashStringDisambiguatesType(t *testing.T) {
	t.Parallel()

	base := ElementFqId{ServiceId: 0x1234, ElementId: 7, InstanceId: 1}

	event := base
	event.Type = ElementEvent

	method := base
	method.Type = ElementMethod

	require.NotEqual(t, event.ToHashString(), method.ToHashString())
}

func TestElementFqIdToHashStringIsDeterministic(t *testing.T) {
	t.Parallel()

	id := ElementFqId{ServiceId: 0x1234, ElementId: 1, InstanceId: 1, Type: ElementEvent}

	if diff := cmp.Diff(id.ToHashString(), id.ToHashString()); diff != "" {
		t.Fatalf("ToHashString is not stable: %s", diff)
	}
}

func TestNewInstanceSpecifier(t *testing.T) {
	t.Parallel()

	valid := []string{"/a", "/a/b", "/a/b/c"}
	for _, s := range valid {
		spec, err := NewInstanceSpecifier(s)
		require.NoErrorf(t, err, "expected %q to be valid", s)
		require.Equal(t, s, spec.String())
	}

	invalid := []string{"", "a/b", "/a//b", "/"}
	for _, s := range invalid {
		_, err := NewInstanceSpecifier(s)
		require.Errorf(t, err, "expected %q to be invalid", s)
	}
}

func TestServiceIdentifierTypeOrdering(t *testing.T) {
	t.Parallel()

	a := ServiceIdentifierType{Name: "svc", Major: 1, Minor: 0}
	b := ServiceIdentifierType{Name: "svc", Major: 2, Minor: 0}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestHandleTypeToHashStringAnyInstance(t *testing.T) {
	t.Parallel()

	h := HandleType{Identifier: ServiceIdentifierType{Name: "svc", Major: 1, Minor: 0}}
	require.Contains(t, h.ToHashString(), "any")

	inst := InstanceId(5)
	h.InstanceId = &inst
	require.NotContains(t, h.ToHashString(), "any")
}
