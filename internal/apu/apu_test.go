package apu

import "testing"

func TestAPU_PowerOnOff_NR52(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF26, 0x80) // power on
	if v := a.CPURead(0xFF26); v&0x80 == 0 {
		t.Fatalf("NR52 power bit not set after power-on write, got %02x", v)
	}
	a.CPUWrite(0xFF26, 0x00) // power off
	if v := a.CPURead(0xFF26); v&0x80 != 0 {
		t.Fatalf("NR52 power bit still set after power-off write, got %02x", v)
	}
}

func TestAPU_Channel1Trigger_ProducesNonSilentOutput(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF26, 0x80) // power on
	a.CPUWrite(0xFF24, 0x77) // NR50: both sides full volume
	a.CPUWrite(0xFF25, 0x11) // NR51: route CH1 to both left and right
	a.CPUWrite(0xFF12, 0xF0) // NR12: max envelope volume, DAC on
	a.CPUWrite(0xFF13, 0x00) // NR13: freq lo
	a.CPUWrite(0xFF14, 0x87) // NR14: freq hi + trigger

	// Clock enough cycles for several samples at 48kHz.
	a.Tick(cpuHz / 100) // ~10ms

	if a.StereoAvailable() == 0 {
		t.Fatalf("expected buffered stereo frames after ticking with CH1 active")
	}
	frames := a.PullStereo(a.StereoAvailable())
	nonZero := false
	for _, s := range frames {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatalf("expected at least one non-zero sample from an active square channel")
	}
}

func TestAPU_PullStereo_RespectsMaxAndDrains(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF26, 0x80)
	a.CPUWrite(0xFF24, 0x77)
	a.CPUWrite(0xFF25, 0x11)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x87)

	a.Tick(cpuHz / 50) // ~20ms, comfortably more than a few hundred frames

	avail := a.StereoAvailable()
	if avail < 4 {
		t.Fatalf("expected several buffered frames, got %d", avail)
	}
	partial := a.PullStereo(2)
	if len(partial) != 4 { // interleaved L,R per frame
		t.Fatalf("PullStereo(2) returned %d int16s, want 4 (2 stereo frames)", len(partial))
	}
	if got := a.StereoAvailable(); got != avail-2 {
		t.Fatalf("StereoAvailable after partial pull = %d, want %d", got, avail-2)
	}
	rest := a.PullStereo(a.StereoAvailable())
	if len(rest) != (avail-2)*2 {
		t.Fatalf("PullStereo(all) returned %d int16s, want %d", len(rest), (avail-2)*2)
	}
	if a.StereoAvailable() != 0 {
		t.Fatalf("buffer should be empty after draining everything")
	}
}

func TestAPU_SaveLoadState_RoundTrips(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF26, 0x80)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x87)
	a.Tick(1000)

	data := a.SaveState()
	if data == nil {
		t.Fatalf("SaveState returned nil")
	}

	b := New(48000)
	b.LoadState(data)
	if b.ch1.enabled != a.ch1.enabled {
		t.Fatalf("ch1.enabled after LoadState = %v, want %v", b.ch1.enabled, a.ch1.enabled)
	}
	if b.nr52 != a.nr52 {
		t.Fatalf("nr52 after LoadState = %02x, want %02x", b.nr52, a.nr52)
	}
}
