package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompanyFromUsername(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ops@acme.com", "ops"},
		{"Jean.Dupont@fleet.fr", "jean-dupont"},
		{"josé@x.io", "jose"},
		{"--weird--@x", "weird"},
		{"", "default"},
		{"@x.io", "default"},
		{"Ops_Team@x", "ops_team"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CompanyFromUsername(c.in), "input %q", c.in)
	}
}

func TestNormIDs(t *testing.T) {
	assert.Equal(t, []string{"a1", "42", "7.5"}, normIDs([]any{"a1", float64(42), 7.5, "", true}))
	assert.Empty(t, normIDs(nil))
}
