package builtin

import (
	"context"
	"encoding/binary"
	"io"
	"os"

	"github.com/rebeljah/stellatune-audio/stage"
)

// wavHandle is the SourceHandle produced by WavSource: the opened file plus
// the byte range of its "data" chunk.
type wavHandle struct {
	f          *os.File
	dataStart  int64
	dataLen    int64
	bitsPerSmp uint16
	numChans   uint16
	sampleRate uint32
}

// WavSource resolves an InputRef to a local .wav file path (no device
// enumeration, no streaming protocol: the example corpus has no PCM file
// codec or local audio-device library, so this stage reads canonical
// 16/24/32-bit PCM WAV directly off disk with encoding/binary, grounded on
// the original's source_local.rs "resolve opaque input to a local handle"
// shape).
type WavSource struct {
	handle *wavHandle
}

// NewWavSource returns an unopened WavSource.
func NewWavSource() *WavSource { return &WavSource{} }

func (s *WavSource) Prepare(ctx context.Context, input stage.InputRef, pctx *stage.PipelineContext) (stage.SourceHandle, error) {
	f, err := os.Open(string(input))
	if err != nil {
		return nil, err
	}

	h, err := parseWavHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	h.f = f
	s.handle = h
	return h, nil
}

func (s *WavSource) SyncRuntimeControl(pctx *stage.PipelineContext) error { return nil }

func (s *WavSource) Stop(pctx *stage.PipelineContext) {
	if s.handle != nil {
		s.handle.f.Close()
		s.handle = nil
	}
}

// riffHeader mirrors the canonical RIFF/WAVE chunk layout.
type riffHeader struct {
	ChunkID   [4]byte
	ChunkSize uint32
	Format    [4]byte
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

func parseWavHeader(f *os.File) (*wavHandle, error) {
	var riff riffHeader
	if err := binary.Read(f, binary.LittleEndian, &riff); err != nil {
		return nil, err
	}
	if string(riff.ChunkID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return nil, errNotWav{}
	}

	h := &wavHandle{}
	for {
		var id [4]byte
		var size uint32
		if err := binary.Read(f, binary.LittleEndian, &id); err != nil {
			return nil, err
		}
		if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
			return nil, err
		}

		switch string(id[:]) {
		case "fmt ":
			var fc fmtChunk
			if err := binary.Read(f, binary.LittleEndian, &fc); err != nil {
				return nil, err
			}
			h.numChans = fc.NumChannels
			h.sampleRate = fc.SampleRate
			h.bitsPerSmp = fc.BitsPerSample
			if remaining := int64(size) - 16; remaining > 0 {
				if _, err := f.Seek(remaining, io.SeekCurrent); err != nil {
					return nil, err
				}
			}
		case "data":
			pos, err := f.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			h.dataStart = pos
			h.dataLen = int64(size)
			return h, nil
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}
}

type errNotWav struct{}

func (errNotWav) Error() string { return "not a canonical RIFF/WAVE file" }

// WavDecoder turns a wavHandle into f32 AudioBlocks, converting 16/24/32-bit
// signed PCM to the engine's interleaved f32 block format.
type WavDecoder struct {
	h            *wavHandle
	bytesPerSmp  int
	readOffset   int64
	trim         stage.GaplessTrimSpec
}

// NewWavDecoder returns an unprepared WavDecoder.
func NewWavDecoder() *WavDecoder { return &WavDecoder{} }

func (d *WavDecoder) Prepare(source stage.SourceHandle, pctx *stage.PipelineContext) (stage.StreamSpec, error) {
	h, ok := source.(*wavHandle)
	if !ok {
		return stage.StreamSpec{}, errNotWav{}
	}
	d.h = h
	d.bytesPerSmp = int(h.bitsPerSmp) / 8
	d.readOffset = 0
	return stage.StreamSpec{SampleRate: h.sampleRate, Channels: h.numChans}, nil
}

func (d *WavDecoder) NextBlock(out *stage.AudioBlock, pctx *stage.PipelineContext) stage.Status {
	if d.h == nil {
		return stage.StatusFatal
	}

	channels := int(d.h.numChans)
	frameBytes := d.bytesPerSmp * channels
	if frameBytes == 0 {
		return stage.StatusFatal
	}

	wantFrames := cap(out.Data) / channels
	if wantFrames == 0 {
		wantFrames = 1
	}
	remainingBytes := d.h.dataLen - d.readOffset
	if remainingBytes <= 0 {
		return stage.StatusEOF
	}

	readBytes := int64(wantFrames * frameBytes)
	if readBytes > remainingBytes {
		readBytes = remainingBytes
	}

	raw := make([]byte, readBytes)
	if _, err := d.h.f.ReadAt(raw, d.h.dataStart+d.readOffset); err != nil && err != io.EOF {
		return stage.StatusFatal
	}
	d.readOffset += readBytes

	frames := int(readBytes) / frameBytes
	if cap(out.Data) < frames*channels {
		out.Data = make([]float32, frames*channels)
	} else {
		out.Data = out.Data[:frames*channels]
	}

	decodeSamples(raw, out.Data, d.bytesPerSmp)
	out.Frames = frames
	out.Spec = stage.StreamSpec{SampleRate: d.h.sampleRate, Channels: d.h.numChans}

	if d.h.dataLen-d.readOffset <= 0 {
		return stage.StatusOK
	}
	return stage.StatusOK
}

func decodeSamples(raw []byte, dst []float32, bytesPerSmp int) {
	switch bytesPerSmp {
	case 2:
		for i := 0; i*2 < len(raw) && i < len(dst); i++ {
			v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			dst[i] = float32(v) / 32768
		}
	case 3:
		for i := 0; i*3+2 < len(raw) && i < len(dst); i++ {
			b := raw[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= -(1 << 24)
			}
			dst[i] = float32(v) / 8388608
		}
	case 4:
		for i := 0; i*4 < len(raw) && i < len(dst); i++ {
			v := int32(binary.LittleEndian.Uint32(raw[i*4:]))
			dst[i] = float32(v) / 2147483648
		}
	}
}

func (d *WavDecoder) Flush(pctx *stage.PipelineContext) error { return nil }
func (d *WavDecoder) Stop(pctx *stage.PipelineContext)        { d.h = nil }

func (d *WavDecoder) EstimatedRemainingFrames() (uint64, bool) {
	if d.h == nil || d.bytesPerSmp == 0 || d.h.numChans == 0 {
		return 0, false
	}
	frameBytes := int64(d.bytesPerSmp) * int64(d.h.numChans)
	remaining := d.h.dataLen - d.readOffset
	if remaining < 0 {
		remaining = 0
	}
	return uint64(remaining / frameBytes), true
}

func (d *WavDecoder) CurrentGaplessTrimSpec() (stage.GaplessTrimSpec, bool) {
	return d.trim, !d.trim.IsDisabled()
}

func (d *WavDecoder) RuntimeErrorDetail() (string, bool) { return "", false }
