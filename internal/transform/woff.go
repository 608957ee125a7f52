package transform

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

const (
	woffSignature    = 0x774F4646 // "wOFF"
	woffHeaderSize   = 44
	woffDirEntrySize = 20
	sfntHeaderSize   = 12
	sfntDirEntrySize = 16
	sfntVersionTrue  = 0x00010000
	sfntVersionOTTO  = 0x4F54544F // CFF outlines
	sfntVersionApple = 0x74727565 // "true"
)

// WOFF converts OpenType (.otf) and TrueType (.ttf) fonts to WOFF 1.0.
// Other files are dropped from the stream.
func WOFF() pipe.Transform {
	return pipe.Each("woff", func(_ context.Context, f *pipe.File) (*pipe.File, error) {
		switch f.Ext() {
		case ".otf", ".ttf":
		default:
			return nil, nil
		}
		data, err := EncodeWOFF(f.Contents)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		out := f.Clone()
		out.Contents = data
		out.SetExt(".woff")
		return out, nil
	})
}

type sfntTable struct {
	tag      uint32
	checksum uint32
	data     []byte
}

// EncodeWOFF wraps an SFNT font in a WOFF 1.0 container. Each table is
// zlib-compressed when that makes it smaller and stored as-is otherwise.
func EncodeWOFF(font []byte) ([]byte, error) {
	if len(font) < sfntHeaderSize {
		return nil, fmt.Errorf("font too short")
	}
	flavor := binary.BigEndian.Uint32(font[0:4])
	if flavor != sfntVersionTrue && flavor != sfntVersionOTTO && flavor != sfntVersionApple {
		return nil, fmt.Errorf("unsupported sfnt version %#08x", flavor)
	}
	numTables := int(binary.BigEndian.Uint16(font[4:6]))
	if numTables == 0 {
		return nil, fmt.Errorf("font has no tables")
	}
	if len(font) < sfntHeaderSize+numTables*sfntDirEntrySize {
		return nil, fmt.Errorf("truncated table directory")
	}

	tables := make([]sfntTable, numTables)
	for i := range tables {
		rec := font[sfntHeaderSize+i*sfntDirEntrySize:]
		offset := binary.BigEndian.Uint32(rec[8:12])
		length := binary.BigEndian.Uint32(rec[12:16])
		if uint64(offset)+uint64(length) > uint64(len(font)) {
			return nil, fmt.Errorf("table %q out of bounds", tagString(binary.BigEndian.Uint32(rec[0:4])))
		}
		tables[i] = sfntTable{
			tag:      binary.BigEndian.Uint32(rec[0:4]),
			checksum: binary.BigEndian.Uint32(rec[4:8]),
			data:     font[offset : offset+length],
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].tag < tables[j].tag })

	totalSfnt := uint32(sfntHeaderSize + numTables*sfntDirEntrySize)
	for _, t := range tables {
		totalSfnt += uint32(pad4(len(t.data)))
	}

	var body bytes.Buffer
	dir := make([]byte, numTables*woffDirEntrySize)
	offset := woffHeaderSize + len(dir)
	for i, t := range tables {
		stored := t.data
		compressed, err := deflate(t.data)
		if err != nil {
			return nil, err
		}
		if len(compressed) < len(t.data) {
			stored = compressed
		}

		entry := dir[i*woffDirEntrySize:]
		binary.BigEndian.PutUint32(entry[0:4], t.tag)
		binary.BigEndian.PutUint32(entry[4:8], uint32(offset))
		binary.BigEndian.PutUint32(entry[8:12], uint32(len(stored)))
		binary.BigEndian.PutUint32(entry[12:16], uint32(len(t.data)))
		binary.BigEndian.PutUint32(entry[16:20], t.checksum)

		body.Write(stored)
		padding := pad4(len(stored)) - len(stored)
		body.Write(make([]byte, padding))
		offset += len(stored) + padding
	}

	header := make([]byte, woffHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], woffSignature)
	binary.BigEndian.PutUint32(header[4:8], flavor)
	binary.BigEndian.PutUint32(header[8:12], uint32(offset))
	binary.BigEndian.PutUint16(header[12:14], uint16(numTables))
	binary.BigEndian.PutUint32(header[16:20], totalSfnt)
	binary.BigEndian.PutUint16(header[20:22], 1)
	// metadata and private blocks stay zero

	out := make([]byte, 0, offset)
	out = append(out, header...)
	out = append(out, dir...)
	out = append(out, body.Bytes()...)
	return out, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

func tagString(tag uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], tag)
	return string(b[:])
}
