package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 has no external RAM port; instead it carries 512x4-bit RAM built into
// the MBC chip itself, addressed by the low 9 bits and read back with the
// upper nibble of each byte forced to 1s. ROM bank select and RAM enable
// share the 0x0000-0x3FFF window, distinguished by address bit 8.
//
// Grounded on original_source/src/mbc/mbc2.rs's MBC2.
type MBC2 struct {
	rom []byte
	ram [512]byte // only the low nibble of each byte is meaningful

	ramEnabled bool
	romBank    byte // 4 bits (0 maps to 1)
	numBanks   byte
}

func NewMBC2(rom []byte) *MBC2 {
	m := &MBC2{rom: rom, romBank: 1}
	if numBanks := byte(len(rom) / 0x4000); numBanks > 0 {
		m.numBanks = numBanks
	} else {
		m.numBanks = 1
	}
	return m
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank)
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return m.ram[addr&0x1FF] | 0xF0
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		if addr&0x100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
			return
		}
		bank := value & 0x0F
		if bank == 0 {
			bank = 1
		}
		m.romBank = bank % m.numBanks
		if m.romBank == 0 {
			m.romBank = 1
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[addr&0x1FF] = value | 0xF0
	}
}

// BatteryBacked implementation.
func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	copy(m.ram[:], data)
}

type mbc2State struct {
	RAM        [512]byte
	RomBank    byte
	RamEnabled bool
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{
		RAM: m.ram, RomBank: m.romBank, RamEnabled: m.ramEnabled,
	})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.ram = s.RAM
	m.romBank, m.ramEnabled = s.RomBank, s.RamEnabled
}
