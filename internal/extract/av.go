package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// TranscriptSegment is one timed span of recognized speech.
type TranscriptSegment struct {
	StartMS int64
	EndMS   int64
	Text    string
}

// WhisperEngine transcribes mono 16kHz float32 PCM samples into timed
// segments. Grounded on cmd/whisper-go/main.go's model-load/context/process
// flow.
type WhisperEngine interface {
	Transcribe(ctx context.Context, samples []float32) ([]TranscriptSegment, error)
}

// NoopWhisper reports no segments; used when no model path is configured, so
// audio/video ingestion still produces a Document (one empty block flagged
// text_recognized=false) rather than failing extraction outright.
type NoopWhisper struct{}

func (NoopWhisper) Transcribe(context.Context, []float32) ([]TranscriptSegment, error) {
	return nil, nil
}

// WhisperCppEngine wraps github.com/ggerganov/whisper.cpp/bindings/go,
// loading the ggml model once and running one Process call per Transcribe.
type WhisperCppEngine struct {
	model whisper.Model
}

func NewWhisperCppEngine(modelPath string) (*WhisperCppEngine, error) {
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &WhisperCppEngine{model: m}, nil
}

func (e *WhisperCppEngine) Close() error { return e.model.Close() }

func (e *WhisperCppEngine) Transcribe(_ context.Context, samples []float32) ([]TranscriptSegment, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new whisper context: %w", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}
	var segments []TranscriptSegment
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		segments = append(segments, TranscriptSegment{
			StartMS: seg.Start.Milliseconds(),
			EndMS:   seg.End.Milliseconds(),
			Text:    strings.TrimSpace(seg.Text),
		})
	}
	return segments, nil
}

// AVExtractor produces transcript-segment blocks from audio or (audio track
// of) video input. Non-WAV containers are out of scope: the orchestrator is
// expected to hand this extractor already-demuxed 16kHz mono WAV bytes.
type AVExtractor struct {
	whisper WhisperEngine
}

func NewAVExtractor(engine WhisperEngine) *AVExtractor {
	if engine == nil {
		engine = NoopWhisper{}
	}
	return &AVExtractor{whisper: engine}
}

func (e *AVExtractor) Extract(ctx context.Context, in Input) (RawDocument, error) {
	samples, sampleRate, err := decodeWAV(in.Data)
	if err != nil {
		return RawDocument{}, extractionFailed("wav_decode: " + err.Error())
	}

	segments, err := e.whisper.Transcribe(ctx, samples)
	if err != nil {
		return RawDocument{}, extractionFailed("transcribe: " + err.Error())
	}

	meta := map[string]string{"sample_rate_hz": itoa(sampleRate)}
	if len(segments) == 0 {
		return RawDocument{
			Blocks:   []Block{{Kind: BlockTranscriptSegment, Text: "", Metadata: map[string]string{"text_recognized": "false"}}},
			Metadata: meta,
		}, nil
	}

	blocks := make([]Block, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		blocks = append(blocks, Block{
			Kind:    BlockTranscriptSegment,
			Text:    s.Text,
			StartMS: s.StartMS,
			EndMS:   s.EndMS,
		})
	}
	if len(blocks) == 0 {
		blocks = []Block{{Kind: BlockTranscriptSegment, Text: "", Metadata: map[string]string{"text_recognized": "false"}}}
	}
	return RawDocument{Blocks: blocks, Metadata: meta}, nil
}

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// decodeWAV converts PCM16/PCM32-float WAV bytes into mono float32 samples,
// mirroring cmd/whisper-go/main.go's loadWAVFile but operating on an
// in-memory buffer instead of a file path.
func decodeWAV(data []byte) ([]float32, int, error) {
	r := bytes.NewReader(data)
	var hdr wavHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	if string(hdr.ChunkID[:]) != "RIFF" || string(hdr.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a wav file")
	}

	audio := make([]byte, hdr.Subchunk2Size)
	if _, err := r.Read(audio); err != nil {
		return nil, 0, fmt.Errorf("read samples: %w", err)
	}

	var samples []float32
	switch hdr.BitsPerSample {
	case 16:
		for i := 0; i+1 < len(audio); i += 2 {
			v := int16(binary.LittleEndian.Uint16(audio[i : i+2]))
			samples = append(samples, float32(v)/32768.0)
		}
	case 32:
		for i := 0; i+3 < len(audio); i += 4 {
			bits := binary.LittleEndian.Uint32(audio[i : i+4])
			samples = append(samples, math.Float32frombits(bits))
		}
	default:
		return nil, 0, fmt.Errorf("unsupported bits per sample: %d", hdr.BitsPerSample)
	}

	if hdr.NumChannels == 2 {
		mono := make([]float32, len(samples)/2)
		for i := range mono {
			mono[i] = (samples[i*2] + samples[i*2+1]) / 2.0
		}
		samples = mono
	}

	return samples, int(hdr.SampleRate), nil
}
