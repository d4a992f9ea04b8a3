// Package archive packs a blob namespace into one portable buffer and back.
// The format is private to this application: it only ever needs to be read
// by its own Unpack, not by external ZIP tooling.
//
// Layout: 4-byte magic, 1-byte format version, then a zstd-compressed body
// of uvarint-framed records — entry count first, then per entry path length,
// path bytes, content length, content bytes. Entries are sorted by path so
// packing is deterministic regardless of how the store enumerates blobs.
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var magic = [4]byte{'Y', 'S', 'A', '1'}

const formatVersion = 1

// ErrMalformed reports a truncated or corrupt archive. Unpack never returns
// partial output alongside it.
var ErrMalformed = errors.New("malformed archive")

// Entry is one (relative path, content) pair of a namespace snapshot.
type Entry struct {
	Path string
	Data []byte
}

// checkEntryPath rejects paths that could address blobs outside the
// namespace an archive is unpacked into: empty, absolute, or escaping via
// ".." segments. Enforced on both pack and unpack so a crafted or corrupted
// buffer cannot smuggle a write outside the target prefix.
func checkEntryPath(p string) error {
	if p == "" {
		return errors.New("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("absolute path %q", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the namespace", p)
	}
	return nil
}

// Pack serializes the entries into a self-contained archive buffer. An
// empty entry list produces a valid, empty archive.
func Pack(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var body bytes.Buffer
	writeUvarint(&body, uint64(len(sorted)))
	for _, e := range sorted {
		if err := checkEntryPath(e.Path); err != nil {
			return nil, fmt.Errorf("archive entry: %w", err)
		}
		writeUvarint(&body, uint64(len(e.Path)))
		body.WriteString(e.Path)
		writeUvarint(&body, uint64(len(e.Data)))
		body.Write(e.Data)
	}

	var out bytes.Buffer
	out.Write(magic[:])
	out.WriteByte(formatVersion)
	enc, err := zstd.NewWriter(&out)
	if err != nil {
		return nil, fmt.Errorf("init compressor: %w", err)
	}
	if _, err := enc.Write(body.Bytes()); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compress archive body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flush compressed body: %w", err)
	}
	return out.Bytes(), nil
}

// Unpack is the inverse of Pack. Truncated, mis-tagged or corrupt input is
// rejected with ErrMalformed rather than yielding partial entries.
func Unpack(data []byte) ([]Entry, error) {
	if len(data) < len(magic)+1 {
		return nil, fmt.Errorf("%w: shorter than header", ErrMalformed)
	}
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	if data[len(magic)] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[len(magic)])
	}

	dec, err := zstd.NewReader(bytes.NewReader(data[len(magic)+1:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer dec.Close()
	body, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	r := bytes.NewReader(body)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: missing entry count", ErrMalformed)
	}
	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readBlock(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d path: %v", ErrMalformed, i, err)
		}
		content, err := readBlock(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d content: %v", ErrMalformed, i, err)
		}
		if err := checkEntryPath(string(name)); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformed, i, err)
		}
		entries = append(entries, Entry{Path: string(name), Data: content})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}
	return entries, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if length > uint64(r.Len()) {
		return nil, fmt.Errorf("declared length %d exceeds remaining %d", length, r.Len())
	}
	block := make([]byte, length)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, err
	}
	return block, nil
}
