package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncode(t *testing.T) {
	tests := []struct {
		name     string
		rec      Record
		expected string
	}{
		{
			name:     "live with hash",
			rec:      Record{RVolumes: []string{"v1:3001", "v2:3001"}, Deleted: DeleteStateLive, Hash: "7d793037a0760186574b0282f2f435e7"},
			expected: "HASH7d793037a0760186574b0282f2f435e7v1:3001,v2:3001",
		},
		{
			name:     "soft deleted with hash",
			rec:      Record{RVolumes: []string{"v1:3001"}, Deleted: DeleteStateSoft, Hash: "7d793037a0760186574b0282f2f435e7"},
			expected: "DELETEDHASH7d793037a0760186574b0282f2f435e7v1:3001",
		},
		{
			name:     "in-progress write",
			rec:      Record{RVolumes: []string{"v1:3001", "v2:3001"}, Deleted: DeleteStateSoft},
			expected: "DELETEDv1:3001,v2:3001",
		},
		{
			name:     "live without hash",
			rec:      Record{RVolumes: []string{"v1:3001"}, Deleted: DeleteStateLive},
			expected: "v1:3001",
		},
		{
			name:     "subvolume suffixes survive",
			rec:      Record{RVolumes: []string{"v1:3001/sv03", "v2:3001/sv07"}, Deleted: DeleteStateLive},
			expected: "v1:3001/sv03,v2:3001/sv07",
		},
		{
			name:     "no volumes",
			rec:      Record{Deleted: DeleteStateSoft},
			expected: "DELETED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.rec.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, encoded)
		})
	}
}

func TestRecordEncodeHardDeleted(t *testing.T) {
	_, err := Record{Deleted: DeleteStateHard}.Encode()
	assert.Error(t, err)
}

func TestRecordEncodeShortHashOmitted(t *testing.T) {
	// Anything but a full 32-char hash is treated as unknown.
	encoded, err := Record{RVolumes: []string{"v1"}, Deleted: DeleteStateLive, Hash: "abc"}.Encode()
	require.NoError(t, err)
	assert.Equal(t, "v1", encoded)
}

func TestRecordRoundTrip(t *testing.T) {
	records := []Record{
		{RVolumes: []string{"v1:3001", "v2:3001", "v3:3001"}, Deleted: DeleteStateLive, Hash: "5d41402abc4b2a76b9719d911017c592"},
		{RVolumes: []string{"v1:3001"}, Deleted: DeleteStateSoft, Hash: "5d41402abc4b2a76b9719d911017c592"},
		{RVolumes: []string{"v1:3001/sv00"}, Deleted: DeleteStateSoft},
		{RVolumes: []string{"v2:3001"}, Deleted: DeleteStateLive},
		{Deleted: DeleteStateSoft},
	}

	for _, rec := range records {
		encoded, err := rec.Encode()
		require.NoError(t, err)
		assert.Equal(t, rec, DecodeRecord(encoded))
	}
}

func TestDecodeRecord(t *testing.T) {
	rec := DecodeRecord("DELETEDHASH5d41402abc4b2a76b9719d911017c592v1:3001,v2:3001")
	assert.Equal(t, DeleteStateSoft, rec.Deleted)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", rec.Hash)
	assert.Equal(t, []string{"v1:3001", "v2:3001"}, rec.RVolumes)

	rec = DecodeRecord("v1:3001")
	assert.Equal(t, DeleteStateLive, rec.Deleted)
	assert.Empty(t, rec.Hash)
	assert.Equal(t, []string{"v1:3001"}, rec.RVolumes)
}

func TestNewRecordIsHardDeleted(t *testing.T) {
	rec := NewRecord()
	assert.Equal(t, DeleteStateHard, rec.Deleted)
	assert.Empty(t, rec.RVolumes)
	assert.Empty(t, rec.Hash)
}
