package telephony

import (
	"math"
	"testing"
)

func TestMulawRoundTripTolerance(t *testing.T) {
	for _, v := range []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000} {
		got := decodeMulawSample(encodeMulawSample(v))
		diff := math.Abs(float64(got) - float64(v))
		// mu-law is logarithmic; allow a few percent of magnitude.
		limit := math.Max(64, math.Abs(float64(v))*0.06)
		if diff > limit {
			t.Errorf("roundtrip %d -> %d, off by %.0f (limit %.0f)", v, got, diff, limit)
		}
	}
}

func TestDecodeMulawTo16kDoublesRate(t *testing.T) {
	in := make([]byte, 160) // 20ms at 8kHz
	for i := range in {
		in[i] = encodeMulawSample(int16(i * 50))
	}
	out := DecodeMulawTo16k(in)
	if len(out) != 160*2*2 {
		t.Fatalf("expected 640 bytes of 16kHz PCM, got %d", len(out))
	}
	if DecodeMulawTo16k(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestDownEncoderDecimatesBySix(t *testing.T) {
	var enc downEncoder
	pcm := make([]byte, 96) // 48 samples at 48kHz = 1ms
	out := enc.Encode(pcm)
	if len(out) != 8 {
		t.Fatalf("expected 8 mu-law bytes from 48 samples, got %d", len(out))
	}
}

func TestDownEncoderCarriesPartialGroups(t *testing.T) {
	var enc downEncoder
	// 10 samples: one full group of 6, 4 carried.
	out := enc.Encode(make([]byte, 20))
	if len(out) != 1 {
		t.Fatalf("expected 1 byte, got %d", len(out))
	}
	// 2 more samples complete the carried group.
	out = enc.Encode(make([]byte, 4))
	if len(out) != 1 {
		t.Fatalf("expected carried group to flush, got %d bytes", len(out))
	}
	enc.Reset()
	if out := enc.Encode(make([]byte, 10)); len(out) != 0 {
		t.Fatalf("expected no output after reset with 5 samples, got %d", len(out))
	}
}

func TestDownEncoderAveragesGroup(t *testing.T) {
	var enc downEncoder
	pcm := make([]byte, 12)
	for i := 0; i < 6; i++ {
		putSample(pcm, i, 6000)
	}
	out := enc.Encode(pcm)
	if len(out) != 1 {
		t.Fatalf("expected 1 byte, got %d", len(out))
	}
	got := decodeMulawSample(out[0])
	if got < 5500 || got > 6500 {
		t.Fatalf("expected mean near 6000, got %d", got)
	}
}
