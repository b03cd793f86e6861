package cpu

import "github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/gbmode"

// resetForMode sets A,F,B,C,D,E,H,L,PC,SP to the documented post-boot-ROM
// values for the given hardware personality. Values per
// original_source/librboy/src/register.rs Registers::new.
func (c *CPU) resetForMode(mode gbmode.Mode) {
	switch mode {
	case gbmode.Classic:
		c.A, c.F = 0x01, flagC|flagH|flagZ
		c.B, c.C = 0x00, 0x13
		c.D, c.E = 0x00, 0xD8
		c.H, c.L = 0x01, 0x4D
	case gbmode.ColorAsClassic:
		c.A, c.F = 0x11, flagZ
		c.B, c.C = 0x00, 0x00
		c.D, c.E = 0x00, 0x08
		c.H, c.L = 0x00, 0x7C
	case gbmode.Color:
		c.A, c.F = 0x11, flagZ
		c.B, c.C = 0x00, 0x00
		c.D, c.E = 0xFF, 0x56
		c.H, c.L = 0x00, 0x0D
	}
	c.PC = 0x0100
	c.SP = 0xFFFE
	c.IME = false
	c.halted = false
	c.eiPending = 0
	c.mode = mode
}
