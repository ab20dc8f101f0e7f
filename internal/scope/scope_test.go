package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Canonical(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"generic nil", nil, "*"},
		{"generic empty values", Key{"domain": "", "system": ""}, "*"},
		{"single dimension", Key{"domain": "sales"}, "domain=sales"},
		{"sorted by dimension name", Key{"system": "crm", "domain": "sales"}, "domain=sales|system=crm"},
		{"unspecified dropped", Key{"domain": "sales", "team": ""}, "domain=sales"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Canonical())
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Key
		want Relation
	}{
		{"both generic", Key{}, Key{}, Equal},
		{"same pins", Key{"domain": "sales"}, Key{"domain": "sales"}, Equal},
		{"superset is more specific", Key{"domain": "sales", "system": "crm"}, Key{"domain": "sales"}, MoreSpecific},
		{"subset is less specific", Key{"domain": "sales"}, Key{"domain": "sales", "system": "crm"}, LessSpecific},
		{"anything beats generic", Key{"team": "data-eng"}, Key{}, MoreSpecific},
		{"conflicting value", Key{"domain": "sales"}, Key{"domain": "finance"}, Incomparable},
		{"disjoint pins", Key{"domain": "sales"}, Key{"system": "crm"}, Incomparable},
		{"conflict on shared despite superset", Key{"domain": "sales", "system": "crm"}, Key{"domain": "finance"}, Incomparable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestKey_Clone_Independent(t *testing.T) {
	orig := Key{"domain": "sales", "system": ""}
	clone := orig.Clone()

	clone["domain"] = "finance"

	assert.Equal(t, "sales", orig["domain"])
	assert.False(t, clone.Has("system"))
}

func TestImmediateParents(t *testing.T) {
	key := Key{"domain": "sales", "system": "crm"}

	parents := ImmediateParents(key)
	require.Len(t, parents, 2)

	// Sorted by the dropped dimension name: domain dropped first.
	assert.Equal(t, "system=crm", parents[0].Canonical())
	assert.Equal(t, "domain=sales", parents[1].Canonical())
}

func TestImmediateParents_GenericHasNone(t *testing.T) {
	assert.Nil(t, ImmediateParents(Key{}))
	assert.Nil(t, ImmediateParents(nil))
}
