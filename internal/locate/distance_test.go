package locate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRSSIToDistance_UnityAtReferencePower(t *testing.T) {
	for _, n := range []float64{1.5, 2.0, 2.2, 3.0} {
		got := RSSIToDistance(-59, -59, n)
		assert.InDelta(t, 1.0, got, 1e-9)
	}
}

func TestRSSIToDistance_WeakerSignalIsFarther(t *testing.T) {
	near := RSSIToDistance(-50, -59, 2.2)
	far := RSSIToDistance(-70, -59, 2.2)
	assert.Less(t, near, far)
}
