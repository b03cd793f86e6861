package emu

import (
	"testing"

	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/gbmode"
)

// buildROM makes a minimal synthetic cartridge header at the right offsets;
// ParseHeader tolerates a missing/garbage Nintendo logo and checksum, so
// tests only need to fill in the fields they care about.
// Grounded on internal/cart/header_test.go's buildROM helper.
func buildROM(title string, cgbFlag, cartType byte, size int) []byte {
	rom := make([]byte, size)
	copy(rom[0x0134:0x0144], title)
	rom[0x0143] = cgbFlag
	rom[0x0147] = cartType
	rom[0x0148] = 0x00 // 32KiB, 2 banks
	rom[0x0149] = 0x00 // no RAM
	rom[0x014B] = 0x01 // old Nintendo licensee code

	var hsum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		hsum = hsum - rom[addr] - 1
	}
	rom[0x014D] = hsum
	return rom
}

func TestLoadROM_ModeSelection(t *testing.T) {
	m := New(Config{})

	if err := m.LoadROM(buildROM("PLAIN", 0x00, 0x00, 32*1024)); err != nil {
		t.Fatalf("load plain DMG rom: %v", err)
	}
	if m.UseCGBBG() || m.IsCGBCompat() {
		t.Fatalf("plain DMG cart should not start in ColorAsClassic mode")
	}

	if err := m.LoadROM(buildROM("CGBGAME", 0x80, 0x00, 32*1024)); err != nil {
		t.Fatalf("load CGB-flagged rom: %v", err)
	}
	if !m.nativeCG {
		t.Fatalf("CGB flag 0x80 should mark the cartridge as native CGB")
	}
}

func TestSetUseCGBBG_TogglesCompatMode(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(buildROM("PLAIN", 0x00, 0x00, 32*1024)); err != nil {
		t.Fatalf("load rom: %v", err)
	}
	if m.WantCGBColors() {
		t.Fatalf("default preference should be off")
	}

	m.SetUseCGBBG(true)
	if !m.WantCGBColors() || !m.IsCGBCompat() {
		t.Fatalf("SetUseCGBBG(true) should flip both the preference and the active mode")
	}

	m.SetUseCGBBG(false)
	if m.WantCGBColors() || m.IsCGBCompat() {
		t.Fatalf("SetUseCGBBG(false) should flip both back off")
	}
}

func TestStepFrame_AdvancesAndFillsFramebuffer(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(buildROM("PLAIN", 0x00, 0x00, 32*1024)); err != nil {
		t.Fatalf("load rom: %v", err)
	}
	m.StepFrame()
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("framebuffer size = %d, want %d", len(fb), 160*144*4)
	}
}

func TestSaveLoadState_RoundTrips(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(buildROM("PLAIN", 0x00, 0x00, 32*1024)); err != nil {
		t.Fatalf("load rom: %v", err)
	}
	for i := 0; i < 5; i++ {
		m.StepFrameNoRender()
	}
	data := m.SaveState()
	if data == nil {
		t.Fatalf("SaveState returned nil")
	}
	pcBefore := m.cpu.PC

	m2 := New(Config{})
	if err := m2.LoadROM(buildROM("PLAIN", 0x00, 0x00, 32*1024)); err != nil {
		t.Fatalf("load rom into second machine: %v", err)
	}
	if err := m2.LoadState(data); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if m2.cpu.PC != pcBefore {
		t.Fatalf("PC after LoadState = %04X, want %04X", m2.cpu.PC, pcBefore)
	}
}

func TestCompatPaletteCycling(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(buildROM("PLAIN", 0x00, 0x00, 32*1024)); err != nil {
		t.Fatalf("load rom: %v", err)
	}
	start := m.CurrentCompatPalette()
	m.CycleCompatPalette(1)
	if m.CurrentCompatPalette() == start {
		t.Fatalf("CycleCompatPalette(1) did not change the palette")
	}
	m.SetCompatPalette(0)
	if m.CurrentCompatPalette() != 0 || m.CompatPaletteName(0) == "" {
		t.Fatalf("SetCompatPalette(0) / CompatPaletteName(0) mismatch")
	}
}

func TestLoadROM_UnsupportedCartTypeErrors(t *testing.T) {
	m := New(Config{})
	// 0xFC is not one of the cart types NewCartridge recognizes.
	if err := m.LoadROM(buildROM("BADTYPE", 0x00, 0xFC, 32*1024)); err == nil {
		t.Fatalf("expected an error loading an unsupported cartridge type, got nil")
	}
}

func TestLoadROM_BadChecksumRejectedUnlessSkipped(t *testing.T) {
	rom := buildROM("PLAIN", 0x00, 0x00, 32*1024)
	rom[0x014D] ^= 0xFF // corrupt the header checksum byte

	m := New(Config{})
	if err := m.LoadROM(rom); err == nil {
		t.Fatalf("expected a checksum-mismatch error, got nil")
	}

	m2 := New(Config{SkipChecksum: true})
	if err := m2.LoadROM(rom); err != nil {
		t.Fatalf("SkipChecksum should allow a bad-checksum ROM to load: %v", err)
	}
}

func TestLoadROM_ForcedClassicRejectsCGBOnlyCart(t *testing.T) {
	m := New(Config{Mode: gbmode.Classic})
	if err := m.LoadROM(buildROM("CGBONLY", 0xC0, 0x00, 32*1024)); err == nil {
		t.Fatalf("expected forcing Classic mode against a CGB-only cart to error")
	}

	m2 := New(Config{Mode: gbmode.Color})
	if err := m2.LoadROM(buildROM("CGBONLY", 0xC0, 0x00, 32*1024)); err != nil {
		t.Fatalf("forcing Color mode against a CGB-only cart should succeed: %v", err)
	}
}
