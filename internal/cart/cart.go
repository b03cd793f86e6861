package cart

import "fmt"

// Cartridge defines the minimal interface the Bus needs for ROM/RAM banking.
// Implementations can be ROM-only or MBC variants. Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000–0x7FFF) and external RAM (0xA000–0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000–0x7FFF) and external RAM writes (0xA000–0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize internal banking registers and external RAM for save states.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is an optional interface for cartridges with external RAM to be persisted.
// Implementations should return a copy of RAM bytes (may be empty if no RAM), and accept data to load.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// NewCartridge picks an implementation based on the ROM header. An
// unrecognized cartridge-type byte is a construction error, not a silent
// ROM-only fallback: running e.g. an MBC6/MBC7/HuC1 cart through ROM-only
// banking would execute with completely wrong bank switching and no
// indication anything was wrong.
func NewCartridge(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, err
	}
	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom), nil
	case 0x01, 0x02, 0x03: // MBC1 variants (RAM, RAM+BAT are transparent here)
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case 0x05, 0x06: // MBC2, MBC2+BATTERY (512x4-bit RAM is built in)
		return NewMBC2(rom), nil
	case 0x0F, 0x10, 0x11, 0x12, 0x13: // MBC3 variants; RTC registers are
		// always present (harmless on subtypes without one wired on the
		// real board, since nothing selects them) rather than gated
		// behind a separate constructor.
		return NewMBC3(rom, h.RAMSizeBytes), nil
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E: // MBC5 variants
		return NewMBC5(rom, h.RAMSizeBytes), nil
	default:
		return nil, fmt.Errorf("cart: unsupported cartridge type %#02x (%s)", h.CartType, h.CartTypeStr)
	}
}
