package fileref

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileIDRoundTrip(t *testing.T) {
	s := EncodeFileID("10.0.0.1", 1000, 42, 0xDEADBEEF, 7)
	assert.NotContains(t, s, "/")

	id, err := DecodeFileID(s)
	require.NoError(t, err)
	assert.Equal(t, FileID{
		OriginHost: "10.0.0.1",
		CreatedAt:  1000,
		ByteLength: 42,
		CRC32:      0xDEADBEEF,
		Nonce:      7,
	}, id)
	assert.Equal(t, s, id.String())
}

func TestFileIDNeverContainsSlash(t *testing.T) {
	for nonce := uint64(0); nonce < 2000; nonce++ {
		s := EncodeFileID("host?>", 1<<40, 1<<33, 0xFFFFFFFF, nonce)
		require.NotContains(t, s, "/")
	}
}

func TestDecodeFileIDErrors(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"four fields", enc("h_1_2_3"), ErrMalformedID},
		{"six fields", enc("h_1_2_3_4_5"), ErrMalformedID},
		{"not base64", "!!!", ErrMalformedID},
		{"not utf-8", enc("\xff\xfe_1_2_3_4"), ErrMalformedID},
		{"bad timestamp", enc("h_x_2_3_4"), ErrInvalidField},
		{"negative length", enc("h_1_-2_3_4"), ErrInvalidField},
		{"crc overflow", enc("h_1_2_4294967296_4"), ErrInvalidField},
		{"bad nonce", enc("h_1_2_3_"), ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFileID(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReferenceRoundTrip(t *testing.T) {
	fileID := EncodeFileID("node1", 1700000000, 5, 1234, 99)
	s := EncodeReference("group1", "vol0", 0x1A, fileID, "jpg")
	assert.Equal(t, "group1/vol0/1A/1A/"+fileID+"/jpg", s)

	ref, err := DecodeReference(s)
	require.NoError(t, err)
	assert.Equal(t, Reference{
		Group:  "group1",
		Volume: "vol0",
		Shard0: 0x1A,
		Shard1: 0x1A,
		FileID: fileID,
		Ext:    "jpg",
	}, ref)
	assert.Equal(t, s, ref.String())
	assert.Equal(t, filepath.Join("/data/vol0", "1A", "1A", fileID+".jpg"), ref.Path("/data/vol0"))
}

func TestReferenceWithoutExtension(t *testing.T) {
	s := EncodeReference("g", "v", 3, "abc", "")

	ref, err := DecodeReference(s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/r", "03", "03", "abc"), ref.Path("/r"))
}

func TestDecodeReferenceErrors(t *testing.T) {
	tests := []string{
		"",
		"g/v/00/00/id",
		"g/v/00/00/id/ext/extra",
		"/v/00/00/id/ext",
		"g//00/00/id/ext",
		"g/v/00/00//ext",
		"g/v/../../id/ext",
		"g/v/FF/00/id/ext",
		"g/v/0/00/id/ext",
		"g/v/zz/00/id/ext",
		"g/v/00/00/../ext",
		"g/v/00/00/id/" + strings.Repeat("e", MaxExtensionLen+1),
		"g/v/00/00/id/a?b",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := DecodeReference(input)
			assert.ErrorIs(t, err, ErrMalformedReference)
		})
	}
}

func TestShardFor(t *testing.T) {
	data := []byte("the same bytes")
	first := ShardFor(data)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ShardFor(data))
	}

	for i := 0; i < 1000; i++ {
		assert.Less(t, ShardFor([]byte(strings.Repeat("x", i))), uint32(ShardCount))
	}

	// crc32("") == 0, a fixed point that must not change across releases.
	assert.Equal(t, uint32(0), ShardFor(nil))
}

func TestCleanExtension(t *testing.T) {
	ext, err := CleanExtension(".png")
	require.NoError(t, err)
	assert.Equal(t, "png", ext)

	ext, err = CleanExtension("")
	require.NoError(t, err)
	assert.Equal(t, "", ext)

	ext, err = CleanExtension("tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "tar.gz", ext)

	ext, err = CleanExtension("Web_P-2")
	require.NoError(t, err)
	assert.Equal(t, "Web_P-2", ext)

	for _, bad := range []string{"a/b", `a\b`, "..", "a\x00", "a?b", "a#b", "a%3F", "a b", "é"} {
		_, err := CleanExtension(bad)
		assert.ErrorIs(t, err, ErrInvalidExtension, bad)
	}
}
