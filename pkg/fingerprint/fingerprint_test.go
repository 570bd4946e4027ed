package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Muestra   todos\tlos USUARIOS \n", "muestra todos los usuarios"},
		{"how many users", "how many users"},
		// decomposed "á" (a + combining acute) composes to the same form
		{"cua\u0301ntos usuarios", "cu\u00e1ntos usuarios"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("Show all users", "cfg-1", "")
	k2 := Key("  show   ALL users ", "cfg-1", "")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestKeyComponentsMatter(t *testing.T) {
	base := Key("show all users", "cfg-1", "")
	assert.NotEqual(t, base, Key("show all users", "cfg-2", ""))
	assert.NotEqual(t, base, Key("show all users", "cfg-1", "users"))
	assert.NotEqual(t, Key("show all users", "cfg-1", "users"), Key("show all users", "cfg-1", "orders"))
}

func TestShard(t *testing.T) {
	key := Key("show all users", "cfg-1", "")
	assert.Equal(t, key[:2], Shard(key))
	assert.Equal(t, "00", Shard("a"))
}
