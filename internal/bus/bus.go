package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/apu"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/gbmode"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/ppu"
)

// Bus wires CPU-visible address space to cartridge, WRAM, HRAM, and IO.
type Bus struct {
	cart cart.Cartridge
	mode gbmode.Mode

	// Work RAM: DMG has 2 fixed 4 KiB banks (8 KiB total); CGB has 8 banks of
	// 4 KiB (32 KiB total), with bank 1-7 selectable via SVBK (FF70) for the
	// 0xD000-0xDFFF window. Bank 0 always backs 0xC000-0xCFFF.
	// Grounded on original_source/librboy/src/mmu.rs (WRAM_SIZE = 0x8000).
	wram     [0x8000]byte
	wramBank byte // 1-7, selected via SVBK; defaults to 1

	// High RAM (HRAM) 0xFF80–0xFFFE (127 bytes)
	hram [0x7F]byte

	// PPU encapsulates VRAM/OAM and LCDC/STAT timing
	ppu *ppu.PPU
	apu *apu.APU

	// CGB double-speed mode (KEY1, FF4D): speed doubles the CPU clock while
	// PPU/APU still receive one tick per real T-cycle, so bus.Tick halves
	// the ticks it delivers to them while in double speed.
	// Grounded on original_source/librboy/src/mmu.rs::switch_speed.
	speed           gbmode.Speed
	speedSwitchReq  bool // KEY1 bit 0, armed by a write, consumed by STOP
	speedTickParity bool // toggles every T-cycle; gates PPU/APU ticks in double speed

	// Interrupt registers
	ie    byte // IE at 0xFFFF
	ifReg byte // IF at 0xFF0F (lower 5 bits used)

	// JOYP and Timers (timers are advanced in Tick)
	joypSelect byte // bits 5-4 as last written
	joypad     byte // bitmask of pressed buttons (1=pressed), see constants below
	joypLower4 byte // last computed lower 4 bits (active-low) for interrupt edge detection

	div  byte // FF04 (upper 8 bits of internal divider)
	tima byte // FF05
	tma  byte // FF06
	tac  byte // FF07 (lower 3 bits used)

	// Timer overflow handling: when TIMA overflows, it goes to 00 then reloads from TMA after a short delay
	// during which writes to TIMA cancel the reload.
	timaReloadDelay int // cycles remaining until reload from TMA; 0 means no pending reload

	// Serial
	sb byte      // FF01 data
	sc byte      // FF02 control (bit7 start, bit0 clock source; we do immediate external)
	sw io.Writer // sink for serial output (optional)

	// Internal 16-bit divider that increments every T-cycle; DIV reads upper 8 bits
	divInternal uint16

	// DMA register (OAM DMA trigger, FF46). Transfer is synchronous: all
	// 160 bytes move the instant the register is written, matching
	// original_source/librboy/src/mmu.rs::oamdma (the old byte-per-tick
	// stepping this bus used to do was never how real hardware times it
	// from the CPU's point of view and is not needed for cycle accuracy
	// of the rest of the system).
	dma byte

	// VRAM-DMA (GDMA/HDMA), CGB only. See hdma.go.
	hdmaSrc, hdmaDst uint16
	hdmaLenLeft      int  // remaining 16-byte blocks, -1 when idle
	hdmaMode         bool // true = HDMA (hblank-gated), false = GDMA (immediate)

	// Boot ROM support
	bootROM     []byte
	bootEnabled bool

	// debug
	debugTimer bool
}

// New constructs a Bus with a ROM-only cartridge for convenience (test
// harnesses and callers that don't care about MBC banking). Real ROM loads
// go through cart.NewCartridge via internal/emu.Machine, which can fail on
// an unsupported cartridge type; this helper always succeeds.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewROMOnly(rom))
}

// NewWithCartridge wires a provided cartridge implementation in Classic mode.
func NewWithCartridge(c cart.Cartridge) *Bus {
	return NewWithCartridgeMode(c, gbmode.Classic)
}

// NewWithCartridgeMode wires a provided cartridge implementation for the
// given hardware personality, including CGB-only subsystems (WRAM banking,
// VRAM-DMA, double speed). APU output defaults to 48000 Hz, matching
// internal/ui's ebiten audio.Context rate; use NewWithCartridgeModeRate to
// override it.
func NewWithCartridgeMode(c cart.Cartridge, mode gbmode.Mode) *Bus {
	return NewWithCartridgeModeRate(c, mode, 0)
}

// NewWithCartridgeModeRate is NewWithCartridgeMode with an explicit APU
// sample rate; sampleRate <= 0 falls back to the 48000 Hz default.
func NewWithCartridgeModeRate(c cart.Cartridge, mode gbmode.Mode, sampleRate int) *Bus {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	b := &Bus{cart: c, mode: mode, wramBank: 1, speed: gbmode.Single, hdmaLenLeft: -1}
	// hook PPU to request IF bits through bus
	b.ppu = ppu.NewForMode(func(bit int) { b.ifReg |= 1 << bit }, mode)
	b.apu = apu.New(sampleRate)
	if os.Getenv("GB_DEBUG_TIMER") != "" {
		b.debugTimer = true
	}
	b.fillRandomWRAM()
	return b
}

// fillRandomWRAM seeds WRAM with the same deterministic pseudo-random
// pattern real DMG/CGB hardware powers on with, via the LCG in
// original_source/librboy/src/mmu.rs::fill_random. Bit-exact reproduction is
// load-bearing for spec.md's end-to-end checksum scenario.
func (b *Bus) fillRandomWRAM() {
	x := uint32(42)
	for i := range b.wram {
		x = x*1103515245 + 12345
		b.wram[i] = byte((x >> 23) & 0xFF)
	}
}

// APU returns the internal APU for tests/tools (e.g. pulling PCM samples).
func (b *Bus) APU() *apu.APU { return b.apu }

// Mode reports which hardware personality this bus was constructed for.
func (b *Bus) Mode() gbmode.Mode { return b.mode }

// SwitchSpeedIfPending performs the KEY1 (FF4D) speed switch armed by a
// prior write with bit 0 set, invoked by the CPU's STOP (0x10) handler.
// Grounded on original_source/librboy/src/mmu.rs::switch_speed; a no-op on
// DMG hardware or when no switch was armed.
func (b *Bus) SwitchSpeedIfPending() {
	if !b.mode.IsCGB() || !b.speedSwitchReq {
		return
	}
	b.speedSwitchReq = false
	if b.speed == gbmode.Single {
		b.speed = gbmode.Double
	} else {
		b.speed = gbmode.Single
	}
}

func (b *Bus) wramBankOffset() int {
	bank := int(b.wramBank)
	if bank == 0 {
		bank = 1
	}
	return bank * 0x1000
}

// PPU returns the internal PPU for read-only rendering helpers. Avoids breaking encapsulation for CPU access.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// Cart returns the underlying cartridge for optional battery operations (read-only interface exposure).
func (b *Bus) Cart() cart.Cartridge { return b.cart }

func (b *Bus) Read(addr uint16) byte {
	switch {
	// Cartridge ROM and External RAM (banked) are handled by the cartridge
	case addr < 0x8000:
		// When boot ROM is enabled, it overlays 0x0000-0x00FF
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	// VRAM (via PPU)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)

	// Work RAM: 0xC000-0xCFFF is always bank 0; 0xD000-0xDFFF is the
	// SVBK-selected bank (effectively fixed at bank 1 on DMG).
	case addr >= 0xC000 && addr <= 0xCFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xD000 && addr <= 0xDFFF:
		return b.wram[b.wramBankOffset()+int(addr-0xD000)]

	// Echo RAM 0xE000-0xFDFF mirrors 0xC000-0xDDFF bank-for-bank
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			return b.wram[mirror-0xC000]
		}
		return b.wram[b.wramBankOffset()+int(mirror-0xD000)]

	// High RAM 0xFF80-0xFFFE (IE at 0xFFFF is handled below)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	// OAM via PPU
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return b.ppu.CPURead(addr)
	// IO: JOYP at 0xFF00
	case addr == 0xFF00:
		// Upper bits 7-6 read as 1, bits 5-4 reflect selection, bits 3-0 depend on selected group(s)
		res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
		// If P14 (bit4) == 0, select D-Pad (Right, Left, Up, Down => bits 0..3)
		if (b.joypSelect & 0x10) == 0 {
			// Clear bits for pressed D-Pad buttons (active-low)
			if b.joypad&JoypRight != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypLeft != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypUp != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypDown != 0 {
				res &^= 0x08
			}
		}
		// If P15 (bit5) == 0, select Buttons (A, B, Select, Start => bits 0..3)
		if (b.joypSelect & 0x20) == 0 {
			if b.joypad&JoypA != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypB != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypSelectBtn != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypStart != 0 {
				res &^= 0x08
			}
		}
		return res
	// IO: Timers
	case addr == 0xFF04:
		return b.div
	case addr == 0xFF05:
		return b.tima
	case addr == 0xFF06:
		return b.tma
	case addr == 0xFF07:
		return 0xF8 | (b.tac & 0x07)
	// Serial
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		// upper bits read as 1 except bit7 reflects transfer in progress; we complete immediately
		return 0x7E | (b.sc & 0x81)
	// LCDC/STAT/LY/LYC, scroll/window, VBK, and CGB palette ports via PPU
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B, addr == 0xFF4F,
		addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	// Sound registers and wave RAM via APU
	case addr >= 0xFF10 && addr <= 0xFF26, addr >= 0xFF30 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	// KEY1: CGB double-speed switch (FF4D). Bit 7 reflects current speed,
	// bit 0 reflects an armed-but-not-yet-applied switch request.
	case addr == 0xFF4D:
		v := byte(0x7E)
		if b.speed == gbmode.Double {
			v |= 0x80
		}
		if b.speedSwitchReq {
			v |= 0x01
		}
		return v
	// SVBK: CGB WRAM bank select (FF70)
	case addr == 0xFF70:
		return 0xF8 | (b.wramBank & 0x07)
	// VRAM-DMA (HDMA/GDMA) registers, CGB only; see hdma.go
	case addr == 0xFF51, addr == 0xFF52, addr == 0xFF53, addr == 0xFF54:
		return 0xFF // source/dest registers are write-only on hardware
	case addr == 0xFF55:
		return b.hdmaStatus()
	// Boot ROM disable register (read returns 0xFF on DMG; keep simple)
	case addr == 0xFF50:
		return 0xFF
	// IO: IF at 0xFF0F, other IO not implemented (return 0xFF)
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	// IE at 0xFFFF
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	// Cartridge control and external RAM writes
	case addr < 0x8000:
		b.cart.Write(addr, value)
		return
	// VRAM via PPU
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
		return

	// Work RAM
	case addr >= 0xC000 && addr <= 0xCFFF:
		b.wram[addr-0xC000] = value
		return
	case addr >= 0xD000 && addr <= 0xDFFF:
		b.wram[b.wramBankOffset()+int(addr-0xD000)] = value
		return

	// Echo RAM mirrors C000-DDFF bank-for-bank
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			b.wram[mirror-0xC000] = value
		} else if mirror <= 0xDFFF {
			b.wram[b.wramBankOffset()+int(mirror-0xD000)] = value
		}
		return

	// High RAM
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
		return
	// OAM via PPU
	case addr >= 0xFE00 && addr <= 0xFE9F:
		b.ppu.CPUWrite(addr, value)
		return
	// IO: JOYP at 0xFF00
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
		return
	// IO: Timers
	case addr == 0xFF04:
		// Writing any value to DIV resets the internal divider and may cause a TIMA increment
		// if the timer input experiences a falling edge due to the reset.
		oldInput := b.timerInput()
		b.divInternal = 0
		b.div = 0
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
			if b.debugTimer {
				fmt.Printf("[TMR] DIV write -> reset (div=0000) tima=%02X tma=%02X tac=%02X reload=%d\n", b.tima, b.tma, b.tac, b.timaReloadDelay)
			}
		return
	case addr == 0xFF05:
		// Writing TIMA during a pending reload cancels the reload and sets TIMA to the written value.
		b.tima = value
		if b.timaReloadDelay > 0 {
			b.timaReloadDelay = 0
		}
			if b.debugTimer {
				fmt.Printf("[TMR] TIMA write %02X tma=%02X tac=%02X reload=%d\n", value, b.tma, b.tac, b.timaReloadDelay)
			}
		return
	case addr == 0xFF06:
		b.tma = value
			if b.debugTimer {
				fmt.Printf("[TMR] TMA write %02X (tima=%02X tac=%02X reload=%d)\n", value, b.tima, b.tac, b.timaReloadDelay)
			}
		return
	case addr == 0xFF07:
		// Changing TAC can cause a falling edge on the timer input; handle increment accordingly.
		oldInput := b.timerInput()
		b.tac = value & 0x07
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
			if b.debugTimer {
				fmt.Printf("[TMR] TAC write %02X (input %v->%v) tima=%02X tma=%02X reload=%d\n", b.tac, oldInput, b.timerInput(), b.tima, b.tma, b.timaReloadDelay)
			}
		return
	// Serial
	case addr == 0xFF01:
		b.sb = value
		return
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (b.sc & 0x80) != 0 {
			// Start transfer: we do immediate completion; write byte to sink if present
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			// Request serial interrupt (IF bit 3)
			b.ifReg |= 1 << 3
			// Clear transfer start bit to indicate done
			b.sc &^= 0x80
		}
		return
	// LCDC/STAT/LY/LYC, scroll/window, VBK, and CGB palette ports via PPU
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B, addr == 0xFF4F,
		addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF46:
		b.oamDMA(value)
		return
	// Sound registers and wave RAM via APU
	case addr >= 0xFF10 && addr <= 0xFF26, addr >= 0xFF30 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
		return
	// KEY1: arms a double-speed switch, consumed by the CPU's STOP handler
	case addr == 0xFF4D:
		if b.mode.IsCGB() {
			b.speedSwitchReq = value&0x01 != 0
		}
		return
	// SVBK: CGB WRAM bank select; 0 behaves as bank 1
	case addr == 0xFF70:
		b.wramBank = value & 0x07
		return
	// VRAM-DMA (HDMA/GDMA) registers, CGB only; see hdma.go
	case addr == 0xFF51:
		b.hdmaSrc = (b.hdmaSrc & 0x00FF) | uint16(value)<<8
		return
	case addr == 0xFF52:
		b.hdmaSrc = (b.hdmaSrc & 0xFF00) | uint16(value&0xF0)
		return
	case addr == 0xFF53:
		b.hdmaDst = (b.hdmaDst & 0x00FF) | uint16(value&0x1F)<<8
		return
	case addr == 0xFF54:
		b.hdmaDst = (b.hdmaDst & 0xFF00) | uint16(value&0xF0)
		return
	case addr == 0xFF55:
		b.startHDMA(value)
		return
	case addr == 0xFF50:
		// Any non-zero write disables the boot ROM overlay
		if value != 0x00 {
			b.bootEnabled = false
		}
		return
	// IO: IF at 0xFF0F
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
		return
	// IE at 0xFFFF
	case addr == 0xFFFF:
		b.ie = value
		return
	}
	// Unhandled regions are ignored for now
}

// Joypad button bitmasks for SetJoypadState. Bits set mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed.
// Pass a mask using the Joyp* constants above; set bits mean pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG boot ROM to be mapped at 0x0000-0x00FF until disabled via 0xFF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances timers by the given number of CPU cycles.
// True-to-hardware: TIMA increments on falling edge of selected divider bit
// determined by TAC (00:bit9, 01:bit3, 10:bit5, 11:bit7), gated by TAC enable.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		oldInput := b.timerInput()
		b.divInternal++
		b.div = byte(b.divInternal >> 8)
		newInput := b.timerInput()
		falling := oldInput && !newInput

		// First, handle delayed TIMA reload if pending; on expiry, reload then allow an increment in this cycle
		if b.timaReloadDelay > 0 {
			b.timaReloadDelay--
			if b.timaReloadDelay == 0 {
				// On expiry, load TMA and request interrupt before processing any increment for this cycle
				b.tima = b.tma
				b.ifReg |= 1 << 2
			}
		}

		// Apply falling-edge increment after potential reload so edge on reload cycle increments reloaded value
		if falling {
			b.incrementTIMA()
		}
		// PPU/APU run off the real master clock, not the CPU's own clock, so
		// in double speed they see only every other T-cycle.
		b.speedTickParity = !b.speedTickParity
		if b.speed == gbmode.Single || b.speedTickParity {
			if b.ppu != nil {
				b.ppu.Tick(1)
				if b.ppu.HBlankPulse() {
					b.stepHDMA()
				}
			}
			if b.apu != nil {
				b.apu.Tick(1)
			}
		}
	}
}

// timerInput computes the current timer clock input (after TAC gating).
func (b *Bus) timerInput() bool {
	if (b.tac & 0x04) == 0 { // timer disabled
		return false
	}
	var bit uint
	switch b.tac & 0x03 {
	case 0x00:
		bit = 9 // 4096 Hz
	case 0x01:
		bit = 3 // 262144 Hz
	case 0x02:
		bit = 5 // 65536 Hz
	case 0x03:
		bit = 7 // 16384 Hz
	}
	return ((b.divInternal >> bit) & 1) != 0
}

func (b *Bus) incrementTIMA() {
	// During a pending reload delay, further increments are ignored (until reload or cancellation)
	if b.timaReloadDelay > 0 {
		return
	}
	if b.tima == 0xFF {
		// Overflow: set to 0x00 now, schedule delayed reload from TMA and IF request
		b.tima = 0x00
	// Reload occurs 4 cycles after the overflow, handled in Tick before edge increments
	b.timaReloadDelay = 4
		return
	}
	b.tima++
}

// PPU step: very simplified mode scheduling and LY counter
// PPU-specific helpers moved to internal/ppu

// updateJoypadIRQ recomputes JOYP lower 4 bits (active-low) and raises IF bit 4 on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	// P14 low selects D-Pad
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	// P15 low selects Buttons
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	// Edge: previously 1, now 0 -> trigger IF bit 4
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ifReg |= 1 << 4
	}
	b.joypLower4 = newLower
}

// --- Save/Load state ---
type busState struct {
	WRAM      [0x8000]byte
	WRAMBank  byte
	HRAM      [0x7F]byte
	IE, IF    byte
	JoypSel   byte
	Joypad    byte
	JoypL4    byte
	DIV       byte
	TIMA      byte
	TMA       byte
	TAC       byte
	TIMARelay int
	SB, SC    byte
	DivInt    uint16
	DMA       byte
	BootEn    bool
	Mode      gbmode.Mode
	Speed     gbmode.Speed
	SpeedReq  bool
	HDMASrc   uint16
	HDMADst   uint16
	HDMALeft  int
	HDMAMode  bool
	// PPU and cartridge will handle their own state via their interfaces
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		WRAM: b.wram, WRAMBank: b.wramBank, HRAM: b.hram,
		IE: b.ie, IF: b.ifReg,
		JoypSel: b.joypSelect, Joypad: b.joypad, JoypL4: b.joypLower4,
		DIV: b.div, TIMA: b.tima, TMA: b.tma, TAC: b.tac, TIMARelay: b.timaReloadDelay,
		SB: b.sb, SC: b.sc, DivInt: b.divInternal,
		DMA: b.dma, BootEn: b.bootEnabled,
		Mode: b.mode, Speed: b.speed, SpeedReq: b.speedSwitchReq,
		HDMASrc: b.hdmaSrc, HDMADst: b.hdmaDst, HDMALeft: b.hdmaLenLeft, HDMAMode: b.hdmaMode,
	}
	_ = enc.Encode(s)
	// Append PPU and Cart states after a simple header so we can restore later
	// PPU state
	if b.ppu != nil {
		ps := b.ppu.SaveState()
		_ = enc.Encode(ps)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	// Cart state
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		cs := bb.SaveState()
		_ = enc.Encode(cs)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil { return }
	b.wram = s.WRAM
	b.wramBank = s.WRAMBank
	b.hram = s.HRAM
	b.ie, b.ifReg = s.IE, s.IF
	b.joypSelect, b.joypad, b.joypLower4 = s.JoypSel, s.Joypad, s.JoypL4
	b.div, b.tima, b.tma, b.tac, b.timaReloadDelay = s.DIV, s.TIMA, s.TMA, s.TAC, s.TIMARelay
	b.sb, b.sc, b.divInternal = s.SB, s.SC, s.DivInt
	b.dma = s.DMA
	b.bootEnabled = s.BootEn
	b.mode, b.speed, b.speedSwitchReq = s.Mode, s.Speed, s.SpeedReq
	b.hdmaSrc, b.hdmaDst, b.hdmaLenLeft, b.hdmaMode = s.HDMASrc, s.HDMADst, s.HDMALeft, s.HDMAMode
	// PPU
	var ps []byte
	if err := dec.Decode(&ps); err == nil && b.ppu != nil {
		b.ppu.LoadState(ps)
	}
	// Cart
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
			bb.LoadState(cs)
		}
	}
}
