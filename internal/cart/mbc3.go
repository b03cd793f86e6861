package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// nowUnix is overridden in tests to make RTC advancement deterministic.
var nowUnix = func() int64 { return time.Now().Unix() }

// MBC3 implements ROM/RAM banking plus the MBC3 real-time clock.
// Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank, 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (08-0C)
// - 6000-7FFF: latch: writing 0 then 1 snapshots the live clock into the
//   latched registers, which then read back frozen until latched again
// - A000-BFFF: external RAM, or (when an RTC register is selected) that
//   register: reads return its latched copy, writes set the live register
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)
//
// Grounded on original_source/src/mbc/mbc3.rs's MBC3. Unlike the original,
// which derives S/M/H/D lazily from a single "zero" timestamp, the live
// registers here are advanced incrementally off elapsed wall-clock time on
// every access (updateRTC), which keeps the carry chain (minute/hour/day
// rollover, the 512-day overflow bit) explicit and independently testable.
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3, or 0x08..0x0C to select an RTC register

	// Live clock, advanced by updateRTC from elapsed wall-clock time.
	rtcSec, rtcMin, rtcHour byte
	rtcDay                  uint16 // 9 bits (0-511)
	rtcHalt                 bool
	rtcCarry                bool
	lastRTCWallSec          int64

	// Snapshot taken by the 0x00-then-0x01 latch sequence; RTC register
	// reads (ramBank 0x08-0x0C) come from here, not the live registers.
	latchSec, latchMin, latchHour byte
	latchDay                      uint16
	latchHalt, latchCarry         bool
	rtcLock                       bool // armed by writing 0x00, consumed by 0x01
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom, lastRTCWallSec: nowUnix()}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

// updateRTC advances the live clock registers by the wall-clock time elapsed
// since the last call, propagating carries through minute/hour/day and
// setting rtcCarry on a 512-day overflow. A halted clock (set via the DH
// register) tracks no elapsed time.
func (m *MBC3) updateRTC() {
	now := nowUnix()
	elapsed := now - m.lastRTCWallSec
	m.lastRTCWallSec = now
	if elapsed <= 0 || m.rtcHalt {
		return
	}
	totalSec := int64(m.rtcSec) + elapsed
	m.rtcSec = byte(totalSec % 60)
	totalMin := int64(m.rtcMin) + totalSec/60
	m.rtcMin = byte(totalMin % 60)
	totalHour := int64(m.rtcHour) + totalMin/60
	m.rtcHour = byte(totalHour % 24)
	totalDay := int64(m.rtcDay) + totalHour/24
	if totalDay > 511 {
		m.rtcCarry = true
		totalDay %= 512
	}
	m.rtcDay = uint16(totalDay)
}

// latchRTC snapshots the live registers into the latched read-back copies.
func (m *MBC3) latchRTC() {
	m.latchSec, m.latchMin, m.latchHour = m.rtcSec, m.rtcMin, m.rtcHour
	m.latchDay, m.latchHalt, m.latchCarry = m.rtcDay, m.rtcHalt, m.rtcCarry
}

func (m *MBC3) Read(addr uint16) byte {
	m.updateRTC()
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			return m.readRTCReg()
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) readRTCReg() byte {
	switch m.ramBank {
	case 0x08:
		return m.latchSec
	case 0x09:
		return m.latchMin
	case 0x0A:
		return m.latchHour
	case 0x0B:
		return byte(m.latchDay & 0xFF)
	case 0x0C:
		v := byte((m.latchDay >> 8) & 0x01)
		if m.latchHalt {
			v |= 0x40
		}
		if m.latchCarry {
			v |= 0x80
		}
		return v
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	m.updateRTC()
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.ramBank = value
	case addr < 0x8000:
		switch value {
		case 0x00:
			m.rtcLock = false
		case 0x01:
			if !m.rtcLock {
				m.latchRTC()
			}
			m.rtcLock = true
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			m.writeRTCReg(value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) writeRTCReg(value byte) {
	switch m.ramBank {
	case 0x08:
		m.rtcSec = value & 0x3F
	case 0x09:
		m.rtcMin = value & 0x3F
	case 0x0A:
		m.rtcHour = value & 0x1F
	case 0x0B:
		m.rtcDay = (m.rtcDay &^ 0xFF) | uint16(value)
	case 0x0C:
		m.rtcDay = (m.rtcDay &^ 0x100) | (uint16(value&0x01) << 8)
		m.rtcHalt = value&0x40 != 0
		m.rtcCarry = value&0x80 != 0
	}
}

// BatteryBacked implementation. SaveRAM appends a gob-encoded RTC block
// after the raw RAM bytes so a plain-RAM save (old format, no suffix) still
// loads cleanly; LoadRAM restores the RTC block only when present.
func (m *MBC3) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3RTCBlock{
		Sec: m.rtcSec, Min: m.rtcMin, Hour: m.rtcHour, Day: m.rtcDay,
		Halt: m.rtcHalt, Carry: m.rtcCarry, LastWallSec: m.lastRTCWallSec,
	})
	return append(out, buf.Bytes()...)
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(data) < len(m.ram) {
		return
	}
	copy(m.ram, data[:len(m.ram)])
	rest := data[len(m.ram):]
	if len(rest) == 0 {
		return
	}
	var rtc mbc3RTCBlock
	if err := gob.NewDecoder(bytes.NewReader(rest)).Decode(&rtc); err != nil {
		return
	}
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = rtc.Sec, rtc.Min, rtc.Hour, rtc.Day
	m.rtcHalt, m.rtcCarry, m.lastRTCWallSec = rtc.Halt, rtc.Carry, rtc.LastWallSec
}

type mbc3RTCBlock struct {
	Sec, Min, Hour byte
	Day            uint16
	Halt, Carry    bool
	LastWallSec    int64
}

type mbc3State struct {
	RAM            []byte
	RomBank        byte
	RamBank        byte
	RamEnabled     bool
	RTC            mbc3RTCBlock
	LatchSec       byte
	LatchMin       byte
	LatchHour      byte
	LatchDay       uint16
	LatchHalt      bool
	LatchCarry     bool
	RTCLock        bool
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		RAM: m.ram, RomBank: m.romBank, RamBank: m.ramBank, RamEnabled: m.ramEnabled,
		RTC: mbc3RTCBlock{
			Sec: m.rtcSec, Min: m.rtcMin, Hour: m.rtcHour, Day: m.rtcDay,
			Halt: m.rtcHalt, Carry: m.rtcCarry, LastWallSec: m.lastRTCWallSec,
		},
		LatchSec: m.latchSec, LatchMin: m.latchMin, LatchHour: m.latchHour,
		LatchDay: m.latchDay, LatchHalt: m.latchHalt, LatchCarry: m.latchCarry,
		RTCLock: m.rtcLock,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(s.RAM) == len(m.ram) {
		copy(m.ram, s.RAM)
	}
	m.romBank, m.ramBank, m.ramEnabled = s.RomBank, s.RamBank, s.RamEnabled
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.RTC.Sec, s.RTC.Min, s.RTC.Hour, s.RTC.Day
	m.rtcHalt, m.rtcCarry, m.lastRTCWallSec = s.RTC.Halt, s.RTC.Carry, s.RTC.LastWallSec
	m.latchSec, m.latchMin, m.latchHour = s.LatchSec, s.LatchMin, s.LatchHour
	m.latchDay, m.latchHalt, m.latchCarry = s.LatchDay, s.LatchHalt, s.LatchCarry
	m.rtcLock = s.RTCLock
}
