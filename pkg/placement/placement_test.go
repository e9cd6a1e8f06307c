package placement

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyToPath(t *testing.T) {
	// MD5("hello") = 5d41402abc4b2a76b9719d911017c592; 0x5d = 93, 0x41 = 65.
	assert.Equal(t, "/93/65/XUFAKrxLKna5cZ2REBfFkg==", KeyToPath("hello"))

	// Deterministic
	assert.Equal(t, KeyToPath("hello"), KeyToPath("hello"))
	assert.NotEqual(t, KeyToPath("hello"), KeyToPath("hello2"))
}

func TestKeyToPathStructure(t *testing.T) {
	for _, key := range []string{"", "a", "some/nested/key", "\x00binary\xff"} {
		digest := md5.Sum([]byte(key))
		expected := fmt.Sprintf("/%d/%d/%s", digest[0], digest[1], base64.StdEncoding.EncodeToString(digest[:]))
		assert.Equal(t, expected, KeyToPath(key))
	}
}

func TestKeyToVolumes(t *testing.T) {
	volumes := []string{"v1", "v2", "v3", "v4"}

	got := KeyToVolumes("hello", volumes, 3, 1)
	require.Len(t, got, 3)
	// Rendezvous order of MD5("hello"+v) for v1..v4.
	assert.Equal(t, []string{"v2", "v3", "v1"}, got)

	// Deterministic
	assert.Equal(t, got, KeyToVolumes("hello", volumes, 3, 1))
}

func TestKeyToVolumesReplicaCount(t *testing.T) {
	volumes := []string{"v1", "v2", "v3", "v4", "v5"}
	for n := 1; n <= len(volumes); n++ {
		assert.Len(t, KeyToVolumes("somekey", volumes, n, 1), n)
	}
}

func TestKeyToVolumesSubvolumes(t *testing.T) {
	volumes := []string{"v1", "v2", "v3", "v4"}

	got := KeyToVolumes("hello", volumes, 3, 10)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"v2/sv01", "v3/sv09", "v1/sv05"}, got)

	for _, v := range got {
		parts := strings.SplitN(v, "/", 2)
		require.Len(t, parts, 2)
		assert.Regexp(t, `^sv\d\d$`, parts[1])
	}
}

func TestKeyToVolumesSubvolumeRange(t *testing.T) {
	volumes := []string{"v1", "v2", "v3"}
	for i := 0; i < 200; i++ {
		for _, v := range KeyToVolumes(fmt.Sprintf("key%d", i), volumes, 2, 4) {
			idx := strings.Index(v, "/sv")
			require.GreaterOrEqual(t, idx, 0)
			n, err := strconv.Atoi(v[idx+3:])
			require.NoError(t, err)
			assert.Less(t, n, 4)
		}
	}
}

// Adding one volume should move only a bounded share of keys: the defining
// property of rendezvous hashing.
func TestKeyToVolumesChurn(t *testing.T) {
	before := []string{"v1", "v2", "v3", "v4"}
	after := []string{"v1", "v2", "v3", "v4", "v5"}

	const sample = 1000
	moved := 0
	for i := 0; i < sample; i++ {
		key := fmt.Sprintf("churn-key-%d", i)
		a := KeyToVolumes(key, before, 3, 1)
		b := KeyToVolumes(key, after, 3, 1)
		if NeedsRebalance(a, b) {
			moved++
		}
	}

	// Expected churn for N=3 over 4→5 volumes is about 3/5 of keys; anything
	// near-total indicates the placement is not rendezvous-stable.
	assert.Less(t, moved, sample*8/10)
	assert.Greater(t, moved, 0)
}

func TestNeedsRebalance(t *testing.T) {
	tests := []struct {
		name     string
		current  []string
		target   []string
		expected bool
	}{
		{name: "equal", current: []string{"v1", "v2"}, target: []string{"v1", "v2"}, expected: false},
		{name: "different length", current: []string{"v1"}, target: []string{"v1", "v2"}, expected: true},
		{name: "different order", current: []string{"v2", "v1"}, target: []string{"v1", "v2"}, expected: true},
		{name: "different member", current: []string{"v1", "v3"}, target: []string{"v1", "v2"}, expected: true},
		{name: "both empty", current: nil, target: []string{}, expected: false},
		{name: "empty current", current: nil, target: []string{"v1"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NeedsRebalance(tt.current, tt.target))
		})
	}
}
