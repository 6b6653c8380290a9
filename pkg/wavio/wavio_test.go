package wavio_test

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voicelock/voicelock/pkg/wavio"
)

// writeWAV encodes samples to a WAV file and returns its path.
func writeWAV(t *testing.T, rate, channels, bits int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, bits, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func sine(n int, freq, amp float64) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = int(amp * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func TestDecodeMono(t *testing.T) {
	data := sine(1600, 200, 8000)
	path := writeWAV(t, 16000, 1, 16, data)

	pcm, err := wavio.DecodeFile(path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 2*len(data) {
		t.Fatalf("pcm length = %d, want %d", len(pcm), 2*len(data))
	}
	for i, want := range data {
		got := int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		if got != want {
			t.Fatalf("sample %d: got %d, want %d", i, got, want)
		}
	}
}

func TestDecode8BitUnsigned(t *testing.T) {
	// 8-bit WAV is unsigned: 128 is silence, 0/255 are the extremes.
	data := []int{128, 192, 64, 255, 0}
	want := []int{0, 16384, -16384, 32512, -32768}
	path := writeWAV(t, 16000, 1, 8, data)

	pcm, err := wavio.DecodeFile(path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 2*len(data) {
		t.Fatalf("pcm length = %d, want %d", len(pcm), 2*len(data))
	}
	for i, w := range want {
		got := int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		if got != w {
			t.Fatalf("sample %d: got %d, want %d", i, got, w)
		}
	}
}

func TestDecodeStereoDownmix(t *testing.T) {
	// Left at full amplitude, right silent: the mono mix is half.
	left := sine(800, 200, 8000)
	data := make([]int, 0, 2*len(left))
	for _, v := range left {
		data = append(data, v, 0)
	}
	path := writeWAV(t, 16000, 2, 16, data)

	pcm, err := wavio.DecodeFile(path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 2*len(left) {
		t.Fatalf("pcm length = %d, want %d", len(pcm), 2*len(left))
	}
	for i, v := range left {
		got := int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		if got != v/2 {
			t.Fatalf("sample %d: got %d, want %d", i, got, v/2)
		}
	}
}

func TestDecodeSampleRateMismatch(t *testing.T) {
	path := writeWAV(t, 44100, 1, 16, sine(4410, 200, 8000))
	_, err := wavio.DecodeFile(path, 16000)
	if !errors.Is(err, wavio.ErrSampleRate) {
		t.Fatalf("err = %v, want ErrSampleRate", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := wavio.Decode(bytes.NewReader([]byte("not a wav file at all")), 16000)
	if !errors.Is(err, wavio.ErrInvalidWAV) {
		t.Fatalf("err = %v, want ErrInvalidWAV", err)
	}
}

func TestDecodeMissingFile(t *testing.T) {
	if _, err := wavio.DecodeFile(filepath.Join(t.TempDir(), "nope.wav"), 16000); err == nil {
		t.Fatal("expected error for missing file")
	}
}
