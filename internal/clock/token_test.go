package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken_Compare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Token
		expected CompareResult
	}{
		{
			name:     "higher counter wins",
			a:        Token{Mode: Distributed, Counter: 2, Node: "a"},
			b:        Token{Mode: Distributed, Counter: 1, Node: "z"},
			expected: After,
		},
		{
			name:     "lower counter loses",
			a:        Token{Mode: Coordinated, Counter: 1, Node: "z"},
			b:        Token{Mode: Coordinated, Counter: 2, Node: "a"},
			expected: Before,
		},
		{
			name:     "counter tie broken by node id",
			a:        Token{Mode: Distributed, Counter: 7, Node: "n2"},
			b:        Token{Mode: Distributed, Counter: 7, Node: "n1"},
			expected: After,
		},
		{
			name:     "identical tokens",
			a:        Token{Mode: Distributed, Counter: 7, Node: "n1"},
			b:        Token{Mode: Distributed, Counter: 7, Node: "n1"},
			expected: Equal,
		},
		{
			name:     "coordinated orders after distributed",
			a:        Token{Mode: Coordinated, Counter: 1, Node: "a"},
			b:        Token{Mode: Distributed, Counter: 1 << 50, Node: "z"},
			expected: After,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Compare(tt.b))
		})
	}
}

func TestToken_CompareAntisymmetric(t *testing.T) {
	tokens := []Token{
		{Mode: Distributed, Counter: 1, Node: "a"},
		{Mode: Distributed, Counter: 1, Node: "b"},
		{Mode: Distributed, Counter: 2, Node: "a"},
		{Mode: Coordinated, Counter: 1, Node: "a"},
		{Mode: Coordinated, Counter: 3, Node: "c"},
	}
	for _, a := range tokens {
		for _, b := range tokens {
			ab, ba := a.Compare(b), b.Compare(a)
			switch ab {
			case After:
				if ba != Before {
					t.Errorf("%s vs %s: %v but reverse is %v", a, b, ab, ba)
				}
			case Before:
				if ba != After {
					t.Errorf("%s vs %s: %v but reverse is %v", a, b, ab, ba)
				}
			case Equal:
				if a != b {
					t.Errorf("%s and %s compare Equal but differ", a, b)
				}
			}
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"DISTRIBUTED": Distributed,
		"clock":       Distributed,
		"Coordinated": Coordinated,
		"PRIMARY":     Coordinated,
	} {
		got, err := ParseMode(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("quorum")
	assert.Error(t, err)
}

func TestToken_String(t *testing.T) {
	assert.Equal(t, "D:12@n1", Token{Mode: Distributed, Counter: 12, Node: "n1"}.String())
	assert.Equal(t, "C:3@n2", Token{Mode: Coordinated, Counter: 3, Node: "n2"}.String())
	assert.True(t, Token{}.IsZero())
}
