package stt

import (
	"encoding/binary"
	"math"
	"testing"
)

func sineWavePCM(durationMs, sampleRate int, amplitude int16) []byte {
	n := sampleRate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(float64(amplitude) * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(v))
	}
	return buf
}

func silencePCM(durationMs, sampleRate int) []byte {
	n := sampleRate * durationMs / 1000
	return make([]byte, n*2)
}

func TestChunkDurationMs(t *testing.T) {
	pcm := make([]byte, 32000) // 16kHz, mono, 16-bit => 32 bytes/ms
	if got := chunkDurationMs(pcm, 16000, 1); got != 1000 {
		t.Errorf("chunkDurationMs = %d, want 1000", got)
	}
}

func TestChunkDurationMs_InvalidInputsReturnZero(t *testing.T) {
	if got := chunkDurationMs([]byte{1, 2}, 0, 1); got != 0 {
		t.Errorf("chunkDurationMs with sampleRate=0 = %d, want 0", got)
	}
	if got := chunkDurationMs([]byte{1, 2}, 16000, 0); got != 0 {
		t.Errorf("chunkDurationMs with channels=0 = %d, want 0", got)
	}
}

func TestComputeRMS_SilenceIsZero(t *testing.T) {
	pcm := silencePCM(500, 16000)
	if got := computeRMS(pcm); got != 0 {
		t.Errorf("computeRMS(silence) = %v, want 0", got)
	}
}

func TestComputeRMS_LoudSignalExceedsThreshold(t *testing.T) {
	pcm := sineWavePCM(500, 16000, 20000)
	if got := computeRMS(pcm); got < silenceRMSThreshold {
		t.Errorf("computeRMS(loud) = %v, want >= %v", got, silenceRMSThreshold)
	}
}

func TestPCMToFloat32_Range(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(int16(-32768)))
	samples := pcmToFloat32(pcm)
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if samples[0] <= 0.99 || samples[0] > 1.0 {
		t.Errorf("samples[0] = %v, want close to 1.0", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("samples[1] = %v, want -1.0", samples[1])
	}
}

func TestPCMToFloat32Mono_AveragesChannels(t *testing.T) {
	// Two stereo frames: (left=32767, right=-32767), (left=0, right=0).
	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(int16(-32767)))
	binary.LittleEndian.PutUint16(pcm[4:6], uint16(int16(0)))
	binary.LittleEndian.PutUint16(pcm[6:8], uint16(int16(0)))

	mono := pcmToFloat32Mono(pcm, 2)
	if len(mono) != 2 {
		t.Fatalf("len(mono) = %d, want 2", len(mono))
	}
	if mono[0] < -0.001 || mono[0] > 0.001 {
		t.Errorf("mono[0] = %v, want ~0 (channels cancel out)", mono[0])
	}
	if mono[1] != 0 {
		t.Errorf("mono[1] = %v, want 0", mono[1])
	}
}

func TestMockTranscriber_RecordsCalls(t *testing.T) {
	m := &MockTranscriber{Text: "hello there"}
	got, err := m.Transcribe(nil, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello there" {
		t.Errorf("Transcribe = %q, want %q", got, "hello there")
	}
	if m.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1", m.CallCount())
	}
}
