package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

func TestCountTextIsNonNegativeAndDeterministic(t *testing.T) {
	a := CountText("use tabs, not spaces")
	b := CountText("use tabs, not spaces")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
}

func TestCountIsAdditiveOverDisjointMessages(t *testing.T) {
	msgsA := []canonical.Message{{Role: canonical.RoleUser, Content: canonical.NewTextContent("hello there")}}
	msgsB := []canonical.Message{{Role: canonical.RoleAssistant, Content: canonical.NewTextContent("general kenobi")}}

	combined := append(append([]canonical.Message{}, msgsA...), msgsB...)

	countA := Count(msgsA, canonical.System{}, nil)
	countB := Count(msgsB, canonical.System{}, nil)
	countCombined := Count(combined, canonical.System{}, nil)

	assert.Equal(t, countA+countB, countCombined)
}

func TestCountVisitsToolsAndSystem(t *testing.T) {
	sys := canonical.NewSystemText("be terse")
	tools := []canonical.Tool{{Name: "search", Description: "search the web", InputSchema: []byte(`{"type":"object"}`)}}
	total := Count(nil, sys, tools)
	assert.Greater(t, total, 0)
}
