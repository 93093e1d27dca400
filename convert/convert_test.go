package convert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHan(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"城東區", true},
		{"烏來-新店", true},
		{"", false},
		{"성동구", false},
		{"Seongdong", false},
		{"城東區 ", false},
		{"city東", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsHan(tt.text), tt.text)
	}
}

func TestContainsHan(t *testing.T) {
	assert.True(t, ContainsHan("城東區 (首爾)"))
	assert.True(t, ContainsHan("東"))
	assert.False(t, ContainsHan("Seongdong District"))
	assert.False(t, ContainsHan("성동구"))
	assert.False(t, ContainsHan(""))
}

type identityConverter struct{}

func (identityConverter) Convert(s string) (string, error) { return s, nil }

type mappingConverter map[string]string

func (m mappingConverter) Convert(s string) (string, error) {
	if out, ok := m[s]; ok {
		return out, nil
	}
	return s, nil
}

type failingConverter struct{}

func (failingConverter) Convert(string) (string, error) {
	return "", errors.New("no dictionary")
}

func TestIsSimplified(t *testing.T) {
	t2s := mappingConverter{"城東區": "城东区"}
	assert.True(t, IsSimplified("城东区", t2s), "unchanged under t2s")
	assert.False(t, IsSimplified("城東區", t2s), "changes under t2s")
	assert.False(t, IsSimplified("성동구", t2s), "not Han at all")
	assert.False(t, IsSimplified("城东区", nil))
	assert.False(t, IsSimplified("城东区", failingConverter{}))
}

func TestIsTraditional(t *testing.T) {
	s2t := mappingConverter{"城东区": "城東區"}
	assert.True(t, IsTraditional("城東區", s2t))
	assert.False(t, IsTraditional("城东区", s2t))
	assert.False(t, IsTraditional("Seongdong", identityConverter{}))
}
