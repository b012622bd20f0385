package dispatch

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BitLabelCache memoizes a BitDecoderArray column's parsed label list so
// the alarm logger's per-callback expansion (ExpandBitDecoder) does not
// re-split the same request-row string on every fired alarm.
type BitLabelCache struct {
	cache *lru.Cache[string, []string]
}

// NewBitLabelCache builds a cache holding up to size distinct
// BitDecoderArray strings. size <= 0 falls back to a small default, since
// a request table rarely names more than a few dozen distinct decoder
// arrays.
func NewBitLabelCache(size int) *BitLabelCache {
	if size <= 0 {
		size = 64
	}
	c, _ := lru.New[string, []string](size)
	return &BitLabelCache{cache: c}
}

// Labels splits a BitDecoderArray column value into its ordered bit labels,
// caching the result. The column is a "|"-separated list, one label per
// bit position starting at bit 0; a blank entry between two separators
// leaves that bit unlabeled and therefore never expanded.
func (c *BitLabelCache) Labels(raw string) []string {
	if raw == "" {
		return nil
	}
	if labels, ok := c.cache.Get(raw); ok {
		return labels
	}
	labels := strings.Split(raw, "|")
	c.cache.Add(raw, labels)
	return labels
}

// ConvertInt parses a scalar value's formatted string as a signed integer,
// the representation ExpandBitDecoder needs for its bitmask walk. Returns
// ok=false when the value does not convert, which ExpandBitDecoder reports
// as a single error row.
func ConvertInt(value string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 0, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
