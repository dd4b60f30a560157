package audio

import (
	"math"
	"testing"
	"time"
)

func TestFloatToInt16_Clamps(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{1.5, 32767},
		{-3, -32768},
		{-0.5, -16384},
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 32767},
		{float32(math.Inf(-1)), -32768},
	}

	for _, tt := range tests {
		if got := FloatToInt16(tt.in); got != tt.want {
			t.Errorf("FloatToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	step := 1.0/32767 + 1e-6

	for i := -1000; i <= 1000; i++ {
		s := float32(i) / 1000
		got := Int16ToFloat(FloatToInt16(s))

		if math.Abs(float64(got-s)) > step {
			t.Fatalf("round trip of %v = %v, off by more than one step", s, got)
		}
		if (s > 0 && got < 0) || (s < 0 && got > 0) {
			t.Fatalf("round trip of %v flipped sign: %v", s, got)
		}
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}

	decoded, err := DecodeFrame(EncodeFrame(samples))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("len = %d, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	if _, err := DecodeFrame("not base64!"); err == nil {
		t.Error("expected error for bad base64")
	}
	// "AQ==" is a single byte.
	if _, err := DecodeFrame("AQ=="); err == nil {
		t.Error("expected error for odd byte length")
	}
}

func TestConvertPCM16_LittleEndian(t *testing.T) {
	data := ConvertInt16ToPCM16([]int16{0x0102})
	if data[0] != 0x02 || data[1] != 0x01 {
		t.Errorf("bytes = %x, want little-endian 0201", data)
	}
}

func TestResample(t *testing.T) {
	in := make([]int16, 22050)
	out := Resample(in, 22050, 16000)
	if len(out) != 16000 {
		t.Errorf("len = %d, want 16000", len(out))
	}

	same := Resample(in, 16000, 16000)
	if len(same) != len(in) {
		t.Error("same-rate resample should be identity")
	}
}

func TestBufferDuration(t *testing.T) {
	b := Buffer{Samples: make([]int16, 8000), SampleRate: 16000}
	if got := b.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got)
	}
	if (Buffer{}).Duration() != 0 {
		t.Error("zero-rate buffer should have zero duration")
	}
}

func TestFramer(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Push([]float32{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("got %d frames from a partial push", len(frames))
	}

	frames := f.Push([]float32{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != 1 || frames[0][3] != 4 || frames[1][0] != 5 || frames[1][3] != 8 {
		t.Errorf("frames out of order: %v", frames)
	}
	if f.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", f.Pending())
	}

	f.Reset()
	if f.Pending() != 0 {
		t.Error("Reset should drop the partial frame")
	}
}
