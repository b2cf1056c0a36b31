package core

import (
	"testing"

	"custodychain/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTableIsLinear(t *testing.T) {
	ops := Operations()
	require.Len(t, ops, len(transitions))
	prev := StageInit
	for _, op := range ops {
		assert.Equal(t, prev, op.From(), op.String())
		assert.Equal(t, op.From()+1, op.To(), op.String())
		prev = op.To()
	}
	assert.Equal(t, StageSold, prev)
	assert.Nil(t, transitions[OpMarkSold].assign)
	assert.NotNil(t, transitions[OpMarkSold].assigned)
	assert.Equal(t, RoleRetailer, OpMarkSold.RequiredRole())
}

func TestParseOperation(t *testing.T) {
	cases := map[string]Operation{
		"supplyRawMaterial":   OpSupplyRawMaterial,
		"supply-raw-material": OpSupplyRawMaterial,
		"MANUFACTURE":         OpManufacture,
		" distribute ":        OpDistribute,
		"retail":              OpRetail,
		"mark_sold":           OpMarkSold,
	}
	for in, want := range cases {
		got, err := ParseOperation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOperation("recall")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
