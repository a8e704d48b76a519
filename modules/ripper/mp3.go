package ripper

import (
	"bytes"

	"github.com/icza/bitio"
)

// mp3Header holds the MPEG audio frame header fields that tell a real frame
// apart from a stray sync pattern inside audio data.
type mp3Header struct {
	version         uint64
	layer           uint64
	bitrateIndex    uint64
	sampleRateIndex uint64
}

func (h mp3Header) valid() bool {
	return h.version != 0b01 && // reserved
		h.layer != 0b00 && // reserved
		h.bitrateIndex != 0b1111 && // bad
		h.sampleRateIndex != 0b11 // reserved
}

// parseMP3Header reads the first 4 bytes of data as a frame header.
func parseMP3Header(data []byte) (mp3Header, bool) {
	if len(data) < 4 {
		return mp3Header{}, false
	}

	r := bitio.NewReader(bytes.NewReader(data[:4]))
	sync := r.TryReadBits(11)
	h := mp3Header{
		version: r.TryReadBits(2),
		layer:   r.TryReadBits(2),
	}
	_ = r.TryReadBool() // protection bit
	h.bitrateIndex = r.TryReadBits(4)
	h.sampleRateIndex = r.TryReadBits(2)
	if r.TryError != nil {
		return mp3Header{}, false
	}

	return h, sync == 0x7FF && h.valid()
}

// findMP3FrameSync finds the position of the first valid MP3 frame header.
// MP3 frame sync is: 0xFF followed by 0xE or 0xF in the high nibble, and the
// rest of the header must not use reserved values.
// Returns -1 if not found.
func findMP3FrameSync(data []byte) int {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0xFF || data[i+1]&0xE0 != 0xE0 {
			continue
		}
		if _, ok := parseMP3Header(data[i:]); ok {
			return i
		}
	}
	return -1
}
