package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitLabelCacheSplitsAndCaches(t *testing.T) {
	c := NewBitLabelCache(2)
	labels := c.Labels("Fault|Warn|Ready")
	assert.Equal(t, []string{"Fault", "Warn", "Ready"}, labels)

	// Second call must hit the cache and return the identical slice.
	again := c.Labels("Fault|Warn|Ready")
	assert.Equal(t, labels, again)
}

func TestBitLabelCacheEmptyIsNil(t *testing.T) {
	c := NewBitLabelCache(0)
	assert.Nil(t, c.Labels(""))
}

func TestConvertIntParsesAndRejects(t *testing.T) {
	n, ok := ConvertInt(" 7 ")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = ConvertInt("not-a-number")
	assert.False(t, ok)
}
