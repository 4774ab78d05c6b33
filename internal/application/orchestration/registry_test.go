package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(GenericFlow("lp", "generic", ""), GenericFlow("lp", "other", ""))
	assert.ErrorContains(t, err, `duplicate flow key "lp"`)

	_, err = NewRegistry(GenericFlow("lp", "generic", ""), GenericFlow("mip", "generic", ""))
	assert.ErrorContains(t, err, `duplicate flow path "generic"`)

	_, err = NewRegistry(GenericFlow("", "generic", ""))
	assert.Error(t, err)
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry(GenericFlow("lp", "generic", "linear"), GenericFlow("mip", "generic-mip", "integer"))
	require.NoError(t, err)

	f, err := reg.Lookup("mip")
	require.NoError(t, err)
	assert.Equal(t, "generic-mip", f.Path)
	assert.True(t, f.Generic())

	f, err = reg.LookupPath("generic")
	require.NoError(t, err)
	assert.Equal(t, "lp", f.Key)

	_, err = reg.Lookup("nope")
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedProblemType))
	assert.Contains(t, err.Error(), "nope")

	assert.Equal(t, []string{"lp", "mip"}, reg.Keys())
}

func TestRegistry_FlowsIsACopy(t *testing.T) {
	reg, err := NewRegistry(GenericFlow("lp", "generic", ""))
	require.NoError(t, err)

	flows := reg.Flows()
	flows[0].Key = "changed"

	f, err := reg.Lookup("lp")
	require.NoError(t, err)
	assert.Equal(t, "lp", f.Key)
}

func TestCatalog_KeysAndPathsAreUnique(t *testing.T) {
	reg, err := Catalog()
	require.NoError(t, err)
	assert.Len(t, reg.Keys(), len(DefaultFlows()))

	_, err = Catalog(GenericFlow("vap", "vap-again", ""))
	assert.Error(t, err, "an extra flow cannot shadow a built-in key")

	reg, err = Catalog(GenericFlow("lp_relaxed", "generic-relaxed", "relaxation"))
	require.NoError(t, err)
	_, err = reg.Lookup("lp_relaxed")
	assert.NoError(t, err)
}

func TestCatalog_DirectFlows(t *testing.T) {
	reg, err := Catalog()
	require.NoError(t, err)

	direct := map[string]bool{}
	for _, f := range reg.Flows() {
		if f.Kind == KindDirect {
			direct[f.Key] = true
		}
	}
	assert.Equal(t, map[string]bool{
		"vrp":                            true,
		"material_delivery_planning":     true,
		"risk_simulation":                true,
		"material_delivery_optimization": true,
		"change_order_impact":            true,
	}, direct)
}
