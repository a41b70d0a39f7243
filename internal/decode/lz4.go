package decode

import (
	"bytes"
	"encoding/binary"
	"image"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

// lz4FrameMagic is the little-endian magic number opening an LZ4 frame.
// Senders using the block format have no magic at all, so anything else is
// treated as a bare block.
const lz4FrameMagic = 0x184D2204

// decompressLZ4 inflates a payload in either LZ4 framing. Output is
// bounded by the largest resolvable raw frame; a stream that inflates past
// that bound is malformed or not meant for this panel.
func (d *Decoder) decompressLZ4(payload []byte) ([]byte, error) {
	bound := d.maxRawPayload
	if len(payload) >= 4 && binary.LittleEndian.Uint32(payload) == lz4FrameMagic {
		r := lz4.NewReader(bytes.NewReader(payload))
		out, err := io.ReadAll(io.LimitReader(r, int64(bound)+1))
		if err != nil {
			return nil, wrapDecodeError(config.FormatLZ4Raw, err)
		}
		if len(out) > bound {
			return nil, newDecodeErrorf(config.FormatLZ4Raw, "decompressed payload exceeds %d byte bound", bound)
		}
		return out, nil
	}

	out := make([]byte, bound)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, wrapDecodeError(config.FormatLZ4Raw, err)
	}
	return out[:n], nil
}

// decodeLZ4Raw decompresses the payload and runs it through the raw
// fixed-layout path.
func (d *Decoder) decodeLZ4Raw(payload []byte) (image.Image, error) {
	raw, err := d.decompressLZ4(payload)
	if err != nil {
		return nil, err
	}
	return d.decodeRaw(raw)
}
