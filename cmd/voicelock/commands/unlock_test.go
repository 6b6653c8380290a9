package commands

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeUtteranceWAV writes one second of voiced 16 kHz mono audio:
// harmonic bursts with gaps, enough for the extractor's activity gate.
func writeUtteranceWAV(t *testing.T) string {
	t.Helper()
	const rate = 16000
	n := rate
	burst := rate * 150 / 1000
	gap := rate * 80 / 1000
	data := make([]int, n)
	for i := range n {
		pos := i % (burst + gap)
		if pos >= burst {
			continue
		}
		var v float64
		for h := 1; h <= 5; h++ {
			v += (8000.0 / float64(h)) * math.Sin(2*math.Pi*float64(h)*140*float64(i)/rate)
		}
		win := math.Sin(math.Pi * float64(pos) / float64(burst))
		data[i] = int(v / 5 * win)
	}

	path := filepath.Join(t.TempDir(), "utterance.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
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

func TestUnlockUnknownIdentityStaysLocked(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	globalConfig = nil
	configLoadErr = nil
	t.Cleanup(func() {
		globalConfig = nil
		rootCmd.SetArgs(nil)
	})

	path := writeUtteranceWAV(t)
	rootCmd.SetArgs([]string{"unlock", "ghost", path})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("unlock without an enrollment must not succeed")
	}
}
