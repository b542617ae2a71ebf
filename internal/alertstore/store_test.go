package alertstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestListFilterNormalized(t *testing.T) {
	f := ListFilter{}.normalized()
	assert.Equal(t, defaultListLimit, f.Limit)
	assert.Equal(t, 0, f.Offset)

	f = ListFilter{Limit: 10_000, Offset: -3}.normalized()
	assert.Equal(t, maxListLimit, f.Limit)
	assert.Equal(t, 0, f.Offset)

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f = ListFilter{Limit: 25, Offset: 5, Since: &since}.normalized()
	assert.Equal(t, 25, f.Limit)
	assert.Equal(t, 5, f.Offset)
	assert.Equal(t, &since, f.Since)
}

func TestNilIfEmpty(t *testing.T) {
	assert.Nil(t, nilIfEmpty(""))
	v := nilIfEmpty("x")
	assert.NotNil(t, v)
	assert.Equal(t, "x", *v)
}
