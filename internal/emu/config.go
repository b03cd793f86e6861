package emu

import "github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/gbmode"

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace        bool // log CPU instructions
	LimitFPS     bool // throttle to ~60 Hz (useful for headless test mode)
	UseFetcherBG bool // render BG via fetcher/FIFO scanline path

	// Mode forces the hardware personality Machine boots as (Classic or
	// Color); gbmode.Auto (the zero value) lets LoadROM derive it from the
	// cartridge header's CGB flag instead, same as before this field
	// existed. Forcing Classic against a CGB-only cartridge (header byte
	// 0x0143 == 0xC0) is rejected by LoadROM.
	Mode gbmode.Mode

	// SampleRate is the APU's output sample rate in Hz; 0 defaults to 48000
	// (internal/ui's ebiten audio.Context rate).
	SampleRate int

	// SkipChecksum disables the header-checksum construction check in
	// LoadROM, for homebrew/test ROMs that ship with an inaccurate or
	// placeholder checksum byte.
	SkipChecksum bool
	// Later: fast-forward, debugger flags, etc.
}
