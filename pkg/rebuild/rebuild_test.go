package rebuild

import (
	"crypto/md5"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keva-io/keva/pkg/index"
	"github.com/keva-io/keva/pkg/keylock"
	"github.com/keva-io/keva/pkg/log"
	"github.com/keva-io/keva/pkg/placement"
	"github.com/keva-io/keva/pkg/types"
	"github.com/keva-io/keva/pkg/volume"
	"github.com/keva-io/keva/test/voltest"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fixture struct {
	cfg  *types.Config
	idx  *index.Index
	vols []*voltest.Volume
	r    *Rebuilder
}

func newFixture(t *testing.T, nvols int) *fixture {
	t.Helper()

	vols := make([]*voltest.Volume, nvols)
	ids := make([]string, nvols)
	for i := range vols {
		vols[i] = voltest.New(t)
		ids[i] = vols[i].ID()
	}

	cfg := &types.Config{
		Port:       3000,
		Volumes:    ids,
		Replicas:   2,
		Subvolumes: 1,
		DataDir:    t.TempDir(),
	}

	idx, err := index.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return &fixture{
		cfg:  cfg,
		idx:  idx,
		vols: vols,
		r:    New(cfg, idx, keylock.NewTable(), volume.NewClient()),
	}
}

// digestKey is the identity a rebuilt record is stored under: leaf filenames
// encode the key's digest, not the key itself.
func digestKey(key string) string {
	sum := md5.Sum([]byte(key))
	return string(sum[:])
}

func TestRunRecoversRecords(t *testing.T) {
	f := newFixture(t, 3)

	// Both test keys hash to two-character byte directories, so the walk
	// validation accepts them.
	f.vols[0].Store(placement.KeyToPath("hello"), []byte("world"))
	f.vols[1].Store(placement.KeyToPath("hello"), []byte("world"))
	f.vols[2].Store(placement.KeyToPath("key3"), []byte("other"))

	// Pre-existing garbage must be wiped by the rebuild
	require.NoError(t, f.idx.Put("stale", "leftover"))

	require.NoError(t, f.r.Run())

	n, err := f.idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	value, found, err := f.idx.Get(digestKey("hello"))
	require.NoError(t, err)
	require.True(t, found)
	rec := types.DecodeRecord(value)
	assert.Equal(t, types.DeleteStateLive, rec.Deleted)
	assert.Empty(t, rec.Hash)
	assert.ElementsMatch(t, []string{f.vols[0].ID(), f.vols[1].ID()}, rec.RVolumes)

	value, found, err = f.idx.Get(digestKey("key3"))
	require.NoError(t, err)
	require.True(t, found)
	rec = types.DecodeRecord(value)
	assert.Equal(t, []string{f.vols[2].ID()}, rec.RVolumes)
}

func TestRunWalksSubvolumes(t *testing.T) {
	f := newFixture(t, 2)

	f.vols[0].Store("/sv03"+placement.KeyToPath("hello"), []byte("world"))
	f.vols[0].Store("/sv07"+placement.KeyToPath("key3"), []byte("other"))

	require.NoError(t, f.r.Run())

	value, found, err := f.idx.Get(digestKey("hello"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{f.vols[0].ID() + "/sv03"}, types.DecodeRecord(value).RVolumes)

	value, found, err = f.idx.Get(digestKey("key3"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{f.vols[0].ID() + "/sv07"}, types.DecodeRecord(value).RVolumes)
}

func TestRunIgnoresForeignEntries(t *testing.T) {
	f := newFixture(t, 1)

	f.vols[0].Store("/lost+found/junk", []byte("x"))
	f.vols[0].Store("/93/not-a-byte-dir/file", []byte("x"))
	f.vols[0].Store("/readme.txt", []byte("x"))
	f.vols[0].Store(placement.KeyToPath("hello"), []byte("world"))

	require.NoError(t, f.r.Run())

	n, err := f.idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := f.idx.Get(digestKey("hello"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMergeVolumes(t *testing.T) {
	tests := []struct {
		name     string
		target   []string
		current  []string
		vol      string
		expected []string
	}{
		{
			name:     "fresh volume joins target-first ordering",
			target:   []string{"v2", "v3"},
			current:  []string{"v1"},
			vol:      "v2",
			expected: []string{"v2", "v1"},
		},
		{
			name:     "historical replica kept after target",
			target:   []string{"v1", "v2"},
			current:  []string{"v4", "v1"},
			vol:      "v2",
			expected: []string{"v1", "v2", "v4"},
		},
		{
			name:     "duplicate discovery is a no-op",
			target:   []string{"v1"},
			current:  []string{"v1"},
			vol:      "v1",
			expected: []string{"v1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mergeVolumes(tt.target, tt.current, tt.vol))
		})
	}
}

func TestIsSubvolumeDir(t *testing.T) {
	dir := func(name string) types.VolumeFile {
		return types.VolumeFile{Name: name, FileType: "directory"}
	}

	assert.True(t, isSubvolumeDir(dir("sv00")))
	assert.True(t, isSubvolumeDir(dir("sv99")))
	assert.False(t, isSubvolumeDir(dir("sv1")))
	assert.False(t, isSubvolumeDir(dir("svxy")))
	assert.False(t, isSubvolumeDir(dir("xx03")))
	assert.False(t, isSubvolumeDir(types.VolumeFile{Name: "sv03", FileType: "file"}))
}

func TestIsByteDir(t *testing.T) {
	dir := func(name string) types.VolumeFile {
		return types.VolumeFile{Name: name, FileType: "directory"}
	}

	assert.True(t, isByteDir(dir("93")))
	assert.True(t, isByteDir(dir("ff")))
	assert.False(t, isByteDir(dir("9")))
	assert.False(t, isByteDir(dir("123")))
	assert.False(t, isByteDir(dir("zz")))
	assert.False(t, isByteDir(types.VolumeFile{Name: "93", FileType: "file"}))
}
