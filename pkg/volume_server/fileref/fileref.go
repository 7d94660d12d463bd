// Package fileref encodes and decodes the names handed out for stored files.
//
//	reference: group/volume/shard/shard/file_id/ext
//	file_id:   base64(host_createdAt_length_crc32_nonce)
//
// The shard directory is repeated at both levels of the on-disk layout.
package fileref

import (
	"encoding/base64"
	"errors"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// ShardCount bounds the fan-out of each shard directory level.
	ShardCount = 255

	// MaxExtensionLen keeps file names and journal records short.
	MaxExtensionLen = 16

	idFields        = 5
	referenceFields = 6
)

var (
	ErrMalformedID        = errors.New("fileref: malformed file id")
	ErrInvalidField       = errors.New("fileref: invalid file id field")
	ErrMalformedReference = errors.New("fileref: malformed reference")
	ErrInvalidExtension   = errors.New("fileref: invalid extension")
)

// The URL-safe alphabet keeps '/' out of file ids, which travel inside a
// '/'-separated reference and name a file on disk.
var idEncoding = base64.URLEncoding

type FileID struct {
	OriginHost string `json:"origin_host"`
	CreatedAt  int64  `json:"created_at"`
	ByteLength uint64 `json:"byte_length"`
	CRC32      uint32 `json:"crc32"`
	Nonce      uint64 `json:"nonce"`
}

func EncodeFileID(originHost string, createdAt int64, byteLength uint64, crc uint32, nonce uint64) string {
	raw := strings.Join([]string{
		originHost,
		strconv.FormatInt(createdAt, 10),
		strconv.FormatUint(byteLength, 10),
		strconv.FormatUint(uint64(crc), 10),
		strconv.FormatUint(nonce, 10),
	}, "_")
	return idEncoding.EncodeToString([]byte(raw))
}

func (id FileID) String() string {
	return EncodeFileID(id.OriginHost, id.CreatedAt, id.ByteLength, id.CRC32, id.Nonce)
}

func DecodeFileID(s string) (FileID, error) {
	raw, err := idEncoding.DecodeString(s)
	if err != nil {
		return FileID{}, fmt.Errorf("%w: %v", ErrMalformedID, err)
	}
	if !utf8.Valid(raw) {
		return FileID{}, fmt.Errorf("%w: not utf-8", ErrMalformedID)
	}

	parts := strings.Split(string(raw), "_")
	if len(parts) != idFields {
		return FileID{}, fmt.Errorf("%w: %d fields, want %d", ErrMalformedID, len(parts), idFields)
	}

	createdAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return FileID{}, fmt.Errorf("%w: created_at %q", ErrInvalidField, parts[1])
	}
	byteLength, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return FileID{}, fmt.Errorf("%w: byte_length %q", ErrInvalidField, parts[2])
	}
	crc, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return FileID{}, fmt.Errorf("%w: crc32 %q", ErrInvalidField, parts[3])
	}
	nonce, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return FileID{}, fmt.Errorf("%w: nonce %q", ErrInvalidField, parts[4])
	}

	return FileID{
		OriginHost: parts[0],
		CreatedAt:  createdAt,
		ByteLength: byteLength,
		CRC32:      uint32(crc),
		Nonce:      nonce,
	}, nil
}

type Reference struct {
	Group  string `json:"group"`
	Volume string `json:"volume"`
	Shard0 uint32 `json:"shard0"`
	Shard1 uint32 `json:"shard1"`
	FileID string `json:"file_id"`
	Ext    string `json:"ext"`
}

func EncodeReference(group, volume string, shard uint32, fileID, ext string) string {
	return strings.Join([]string{group, volume, ShardDir(shard), ShardDir(shard), fileID, ext}, "/")
}

func (r Reference) String() string {
	return strings.Join([]string{r.Group, r.Volume, ShardDir(r.Shard0), ShardDir(r.Shard1), r.FileID, r.Ext}, "/")
}

// Path is where the referenced file lives under a volume root.
func (r Reference) Path(root string) string {
	return filepath.Join(root, ShardDir(r.Shard0), ShardDir(r.Shard1), FileName(r.FileID, r.Ext))
}

func DecodeReference(s string) (Reference, error) {
	parts := strings.Split(s, "/")
	if len(parts) != referenceFields {
		return Reference{}, fmt.Errorf("%w: %d fields, want %d", ErrMalformedReference, len(parts), referenceFields)
	}

	group, volume, fileID, ext := parts[0], parts[1], parts[4], parts[5]
	if group == "" || volume == "" || fileID == "" {
		return Reference{}, fmt.Errorf("%w: empty field in %q", ErrMalformedReference, s)
	}
	if fileID == "." || fileID == ".." {
		return Reference{}, fmt.Errorf("%w: file id %q", ErrMalformedReference, fileID)
	}
	if _, err := CleanExtension(ext); err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}

	shard0, err := ParseShard(parts[2])
	if err != nil {
		return Reference{}, err
	}
	shard1, err := ParseShard(parts[3])
	if err != nil {
		return Reference{}, err
	}

	return Reference{
		Group:  group,
		Volume: volume,
		Shard0: shard0,
		Shard1: shard1,
		FileID: fileID,
		Ext:    ext,
	}, nil
}

// ShardFor picks the shard directory for a payload. Same bytes, same shard.
func ShardFor(data []byte) uint32 {
	return crc32.ChecksumIEEE(data) % ShardCount
}

func ShardDir(shard uint32) string {
	return fmt.Sprintf("%02X", shard)
}

func ParseShard(s string) (uint32, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("%w: shard %q", ErrMalformedReference, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil || v >= ShardCount {
		return 0, fmt.Errorf("%w: shard %q", ErrMalformedReference, s)
	}
	return uint32(v), nil
}

func FileName(fileID, ext string) string {
	if ext == "" {
		return fileID
	}
	return fileID + "." + ext
}

// CleanExtension strips a leading dot and accepts only [A-Za-z0-9._-], so an
// extension stays one path component and needs no escaping in a URL.
func CleanExtension(ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if len(ext) > MaxExtensionLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidExtension, MaxExtensionLen)
	}
	if ext == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}
	for i := 0; i < len(ext); i++ {
		if !extensionByte(ext[i]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
		}
	}
	return ext, nil
}

func extensionByte(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	case b == '.', b == '_', b == '-':
		return true
	}
	return false
}
