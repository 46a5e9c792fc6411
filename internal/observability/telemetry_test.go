package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, "shard-engine", o.ServiceName)
	assert.Equal(t, 1.0, o.SampleRatio)

	o = Options{ServiceName: "gen", SampleRatio: 0.25}.withDefaults()
	assert.Equal(t, "gen", o.ServiceName)
	assert.Equal(t, 0.25, o.SampleRatio)
	assert.Contains(t, o.sampler().Description(), "TraceIDRatioBased")

	o = Options{SampleRatio: 3}.withDefaults()
	assert.Contains(t, o.sampler().Description(), "AlwaysOnSampler")
}
