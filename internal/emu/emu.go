// Package emu assembles cpu/bus/ppu/apu/cart into the Device the host UI and
// headless runners drive: ROM loading, mode selection (DMG / CGB / DMG-on-CGB
// compatibility), frame stepping, input, audio draining and save states.
package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/bus"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/cpu"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/gbmode"
)

// Buttons is the joypad state for one frame; true means pressed.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Machine is the Device façade: it owns the CPU/Bus pair for the currently
// loaded ROM and exposes everything the ebiten shell (internal/ui) and
// headless runners need without either depending on internal/cpu directly.
//
// Grounded on original_source/src/device.rs's Device, generalized from a
// single do_cycle/get_gpu_data pair into the fuller surface the teacher's
// own internal/ui package already assumes (frame stepping, battery/save
// state I/O, CGB compatibility-palette colorization for DMG carts).
type Machine struct {
	cfg Config

	rom      []byte
	romPath  string
	bootROM  []byte
	header   *cart.Header
	nativeCG bool // true if the cartridge itself declares CGB support

	bus *bus.Bus
	cpu *cpu.CPU

	mode     gbmode.Mode
	wantCGB  bool // persisted user preference: colorize DMG carts on CGB hw
	compatID int

	w, h int
	fb   []byte // RGBA, post-processed copy returned by Framebuffer
}

func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, w: 160, h: 144}
	m.fb = make([]byte, m.w*m.h*4)
	return m
}

// SetBootROM stashes a DMG boot ROM image to be used by future resets
// (ResetWithBoot, or the next LoadROM call if it requests a boot reset).
func (m *Machine) SetBootROM(data []byte) {
	m.bootROM = data
	if m.bus != nil {
		m.bus.SetBootROM(data)
	}
}

// LoadROMFromFile reads path and loads it as the active cartridge.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadROM(data); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// LoadCartridge loads rom bytes and, if provided, arms a boot ROM for the
// next reset. Matches the signature the teacher's cmd/gbemu already calls.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	if len(boot) >= 0x100 {
		m.bootROM = boot
	}
	return m.LoadROM(rom)
}

// LoadROM parses the header, validates the cartridge, selects the hardware
// personality, and builds a fresh Bus/CPU pair for rom. Uses a boot ROM
// reset if one is armed.
//
// Per spec.md §6/§7, an unsupported cartridge type and (unless
// Config.SkipChecksum) a header-checksum mismatch are construction errors
// rather than a silent ROM-only/unchecked fallback.
func (m *Machine) LoadROM(rom []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	if _, err := cart.NewCartridge(rom); err != nil {
		return err
	}
	if !m.cfg.SkipChecksum && !cart.HeaderChecksumOK(rom) {
		return fmt.Errorf("emu: header checksum mismatch for %q (set Config.SkipChecksum to load anyway)", h.Title)
	}
	m.rom = rom
	m.header = h
	m.nativeCG = h.CGBFlag&0x80 != 0
	m.romPath = ""
	if err := m.pickMode(); err != nil {
		return err
	}
	m.rebuild(m.bootROM != nil)
	return nil
}

// pickMode derives the active hardware personality. Config.Mode, if set to
// anything other than gbmode.Auto, forces that personality; otherwise it is
// derived from the cartridge's own CGB flag and the user's persisted
// compatibility-colorization preference.
//
// Forcing Classic mode against a cartridge that declares CGB-only support
// (header byte 0x0143 == 0xC0) is rejected: running a Color-only game
// without any CGB hardware present has no correct banking/IO personality to
// fall back to. Grounded on original_source/librboy/src/mmu.rs::new, which
// performs the equivalent rejection in its Classic constructor.
func (m *Machine) pickMode() error {
	if m.cfg.Mode != gbmode.Auto {
		if m.cfg.Mode == gbmode.Classic && m.header.CGBFlag == 0xC0 {
			return fmt.Errorf("emu: cartridge %q is CGB-only (flag 0xC0) and cannot be forced into Classic mode", m.header.Title)
		}
		m.mode = m.cfg.Mode
		return nil
	}
	switch {
	case m.nativeCG:
		m.mode = gbmode.Color
	case m.wantCGB:
		m.mode = gbmode.ColorAsClassic
	default:
		m.mode = gbmode.Classic
	}
	return nil
}

// rebuild constructs a new Bus/CPU for the current ROM and mode, optionally
// booting through an attached boot ROM image.
func (m *Machine) rebuild(useBoot bool) {
	c, err := cart.NewCartridge(m.rom)
	if err != nil {
		// LoadROM already validated m.rom's cartridge type; this would mean
		// that invariant was violated (e.g. m.rom mutated out from under us).
		panic(fmt.Errorf("emu: rebuild: %w", err))
	}
	b := bus.NewWithCartridgeModeRate(c, m.mode, m.cfg.SampleRate)
	if useBoot && len(m.bootROM) >= 0x100 {
		b.SetBootROM(m.bootROM)
		cp := cpu.NewWithMode(b, m.mode)
		cp.SetPC(0x0000)
		m.bus, m.cpu = b, cp
		return
	}
	applyPostBootIO(b)
	cp := cpu.NewWithMode(b, m.mode)
	m.bus, m.cpu = b, cp
	if m.mode == gbmode.ColorAsClassic {
		m.applyCompatPalette()
	}
}

// applyPostBootIO writes the same DMG post-boot IO register defaults a real
// boot ROM leaves behind, for the no-boot-ROM reset path.
// Grounded on cmd/cpurunner's equivalent no-boot-ROM initialization.
func applyPostBootIO(b *bus.Bus) {
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// ResetPostBoot reloads the current ROM in its natural mode (Color for a
// CGB-flagged cart, Classic otherwise) without running a boot ROM.
func (m *Machine) ResetPostBoot() {
	if m.rom == nil {
		return
	}
	m.wantCGB = false
	_ = m.pickMode() // cfg.Mode is static; already validated by the initial LoadROM
	m.rebuild(false)
}

// ResetWithBoot reloads the current ROM through the attached boot ROM, if
// any; falls back to ResetPostBoot when none is set.
func (m *Machine) ResetWithBoot() {
	if m.rom == nil {
		return
	}
	if len(m.bootROM) < 0x100 {
		m.ResetPostBoot()
		return
	}
	_ = m.pickMode() // cfg.Mode is static; already validated by the initial LoadROM
	m.rebuild(true)
}

// ResetCGBPostBoot forces ColorAsClassic mode (DMG-cart colorization on CGB
// hardware) regardless of the cartridge's own CGB flag, optionally
// (re)programming the active compatibility palette.
func (m *Machine) ResetCGBPostBoot(applyPalette bool) {
	if m.rom == nil {
		return
	}
	m.wantCGB = true
	m.mode = gbmode.ColorAsClassic
	m.rebuild(false)
	if applyPalette {
		m.applyCompatPalette()
	}
}

// WantCGBColors reports the user's persisted preference for colorizing
// non-CGB carts; UseCGBBG reports whether the machine is actually running
// that way right now (the two can diverge right after loading a new ROM,
// which is the host UI's cue to call ResetCGBPostBoot).
func (m *Machine) WantCGBColors() bool { return m.wantCGB }
func (m *Machine) UseCGBBG() bool      { return m.mode == gbmode.ColorAsClassic }
func (m *Machine) IsCGBCompat() bool   { return m.mode == gbmode.ColorAsClassic }

// SetUseCGBBG updates the persisted preference and, for a non-CGB-native
// cartridge, switches the active mode to match immediately.
func (m *Machine) SetUseCGBBG(v bool) {
	m.wantCGB = v
	if m.nativeCG {
		return
	}
	if v {
		m.mode = gbmode.ColorAsClassic
	} else {
		m.mode = gbmode.Classic
	}
	if m.rom != nil {
		m.rebuild(false)
	}
}

// SetUseFetcherBG is retained for API compatibility with the teacher's UI
// config plumbing; the fetcher/FIFO scanline path it toggled was folded
// into the single per-pixel renderer in internal/ppu, so this is a no-op.
func (m *Machine) SetUseFetcherBG(bool) {}

// ROMPath returns the path LoadROMFromFile was last called with, "" if the
// ROM was loaded by bytes (LoadCartridge/LoadROM) or none is loaded.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title, "" if no ROM is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// StepFrame runs the CPU until the PPU completes a frame, then refreshes the
// exposed Framebuffer (compat-colorized when running ColorAsClassic).
func (m *Machine) StepFrame() {
	if m.cpu == nil {
		return
	}
	p := m.bus.PPU()
	for {
		m.traceStep()
		m.cpu.Step()
		if p.ConsumeFrameUpdated() {
			break
		}
	}
	m.refreshFramebuffer()
}

// traceStep logs the about-to-execute PC/opcode when Config.Trace is set,
// matching cmd/cpurunner's -trace output format.
func (m *Machine) traceStep() {
	if !m.cfg.Trace {
		return
	}
	pc := m.cpu.PC
	log.Printf("PC=%04X OP=%02X SP=%04X A=%02X F=%02X", pc, m.bus.Read(pc), m.cpu.SP, m.cpu.A, m.cpu.F)
}

// StepFrameNoRender runs one frame's worth of CPU/PPU/APU ticking without
// paying for the framebuffer colorization pass; used by headless test
// harnesses that only care about serial output or final checksums.
func (m *Machine) StepFrameNoRender() {
	if m.cpu == nil {
		return
	}
	p := m.bus.PPU()
	for {
		m.traceStep()
		m.cpu.Step()
		if p.ConsumeFrameUpdated() {
			break
		}
	}
}

// TickCycles steps the CPU for at least n T-states, for scenario runners
// that want cycle-granularity control rather than frame boundaries.
func (m *Machine) TickCycles(n int) {
	if m.cpu == nil {
		return
	}
	for n > 0 {
		n -= m.cpu.Step()
	}
}

// refreshFramebuffer copies the PPU's framebuffer out, colorizing it through
// the active compat palette if running a DMG cart on CGB hardware.
func (m *Machine) refreshFramebuffer() {
	src := m.bus.PPU().Framebuffer()
	copy(m.fb, src)
	if m.mode == gbmode.ColorAsClassic {
		colorizeCompat(m.fb, cgbCompatSets[m.compatID])
	}
}

func (m *Machine) Framebuffer() []byte { return m.fb }

func (m *Machine) SetButtons(b Buttons) {
	if m.bus == nil {
		return
	}
	m.bus.SetJoypadState(b.mask())
}

// SetSerialWriter attaches a sink for bytes written to the serial port
// (FF01/FF02); used by test ROM harnesses and the Link Cable stub alike.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// APU audio-draining surface, delegated straight to internal/apu via Bus.

func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUCapBufferedStereo drops buffered stereo frames beyond ceiling to bound
// audio latency, used by the UI when the output buffer grows too far ahead.
func (m *Machine) APUCapBufferedStereo(ceiling int) {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	if extra := a.StereoAvailable() - ceiling; extra > 0 {
		a.PullStereo(extra)
	}
}

// APUClearAudioLatency drains all buffered audio, used after pause/seek-like
// operations (reset, fast-forward toggle) to avoid playing back stale audio.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	a.PullStereo(a.StereoAvailable())
}

// Battery RAM persistence.

func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	data := bb.SaveRAM()
	return data, data != nil
}

func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil || len(data) == 0 {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// Full machine save states (CPU + Bus + cartridge banking/RTC).

type machineState struct {
	Mode    gbmode.Mode
	WantCGB bool
	Compat  int
	Bus     []byte // Bus.SaveState already folds in PPU and cartridge state
	// CPU registers, captured directly since internal/cpu has no
	// SaveState/LoadState of its own (its state is just these fields).
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
}

func (m *Machine) SaveState() []byte {
	if m.bus == nil || m.cpu == nil {
		return nil
	}
	st := machineState{
		Mode: m.mode, WantCGB: m.wantCGB, Compat: m.compatID,
		Bus: m.bus.SaveState(),
		A:   m.cpu.A, F: m.cpu.F, B: m.cpu.B, C: m.cpu.C,
		D: m.cpu.D, E: m.cpu.E, H: m.cpu.H, L: m.cpu.L,
		SP: m.cpu.SP, PC: m.cpu.PC, IME: m.cpu.IME,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (m *Machine) LoadState(data []byte) error {
	if m.rom == nil {
		return fmt.Errorf("emu: no ROM loaded")
	}
	var st machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	m.mode, m.wantCGB, m.compatID = st.Mode, st.WantCGB, st.Compat
	m.rebuild(false)
	m.bus.LoadState(st.Bus)
	m.cpu.A, m.cpu.F, m.cpu.B, m.cpu.C = st.A, st.F, st.B, st.C
	m.cpu.D, m.cpu.E, m.cpu.H, m.cpu.L = st.D, st.E, st.H, st.L
	m.cpu.SP, m.cpu.PC, m.cpu.IME = st.SP, st.PC, st.IME
	return nil
}

func (m *Machine) SaveStateToFile(path string) error {
	data := m.SaveState()
	if data == nil {
		return fmt.Errorf("emu: nothing to save")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.LoadState(data)
}
