package ppu

import "testing"

// advanceLines ticks the PPU forward by n full visible lines (456 dots each).
func advanceLines(p *PPU, n int) { p.Tick(456 * n) }

func TestWindowActivationAndCounter(t *testing.T) {
	p := New(nil)
	// Enable LCD, BG and Window
	p.CPUWrite(0xFF40, 0x80)           // LCD on
	p.CPUWrite(0xFF40, 0x80|0x01)      // BG on
	p.CPUWrite(0xFF40, 0x80|0x01|0x20) // Window on
	// Set WY and WX
	p.CPUWrite(0xFF4A, 10) // WY = 10
	p.CPUWrite(0xFF4B, 7)  // WX = 7 -> winXStart=0

	// Advance through line 10 entirely so its scanline (including the
	// window) has actually been rendered.
	advanceLines(p, 11)
	if ly := p.CPURead(0xFF44); ly != 11 {
		t.Fatalf("expected LY=11, got %d", ly)
	}
	lr := p.LineRegs(10)
	if lr.WinLine != 0 {
		t.Fatalf("expected WinLine=0 on the WY line, got %d", lr.WinLine)
	}

	// Render line 11 too; WinLine should have advanced to 1.
	advanceLines(p, 1)
	lr2 := p.LineRegs(11)
	if lr2.WinLine != 1 {
		t.Fatalf("expected WinLine=1 on WY+1, got %d", lr2.WinLine)
	}
}

func TestWindowNotVisibleWhenWXTooLarge(t *testing.T) {
	p := New(nil)
	// Enable LCD, BG and Window
	p.CPUWrite(0xFF40, 0x80|0x01|0x20)
	// Set WY=5 and WX>166 so window should not be visible
	p.CPUWrite(0xFF4A, 5)
	p.CPUWrite(0xFF4B, 200)
	// Advance to several lines beyond WY
	advanceLines(p, 8)
	// WinLine should remain 0 since the window never becomes visible
	if lr := p.LineRegs(12); lr.WinLine != 0 {
		t.Fatalf("expected WinLine=0 when WX>166, got %d", lr.WinLine)
	}
}
