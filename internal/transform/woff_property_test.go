//go:build property
// +build property

package transform

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestWOFFProperties checks that every table survives the WOFF container.
func TestWOFFProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tables round-trip", prop.ForAll(
		func(payloads [][]byte) bool {
			if len(payloads) == 0 {
				return true
			}
			tables := make([]testTable, len(payloads))
			for i, p := range payloads {
				tables[i] = testTable{tag: fmt.Sprintf("t%03d", i), data: p}
			}
			woff, err := EncodeWOFF(buildSFNT(sfntVersionTrue, tables))
			if err != nil {
				return false
			}
			if binary.BigEndian.Uint32(woff[8:12]) != uint32(len(woff)) {
				return false
			}

			for i, want := range payloads {
				entry := woff[woffHeaderSize+i*woffDirEntrySize:]
				offset := binary.BigEndian.Uint32(entry[4:8])
				compLen := binary.BigEndian.Uint32(entry[8:12])
				origLen := binary.BigEndian.Uint32(entry[12:16])
				if offset%4 != 0 || int(origLen) != len(want) {
					return false
				}
				got := woff[offset : offset+compLen]
				if compLen < origLen {
					r, err := zlib.NewReader(bytes.NewReader(got))
					if err != nil {
						return false
					}
					if got, err = io.ReadAll(r); err != nil {
						return false
					}
				}
				if !bytes.Equal(got, want) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.SliceOf(gen.UInt8())),
	))

	properties.Property("never larger than stored tables plus headers", prop.ForAll(
		func(payload []byte) bool {
			font := buildSFNT(sfntVersionTrue, []testTable{{tag: "data", data: payload}})
			woff, err := EncodeWOFF(font)
			if err != nil {
				return false
			}
			return len(woff) <= woffHeaderSize+woffDirEntrySize+pad4(len(payload))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
