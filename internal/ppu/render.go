package ppu

import "github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/gbmode"

// renderScanline draws the current line (p.ly) into the framebuffer.
// Translated from original_source/librboy/src/gpu.rs's renderscan/draw_bg/
// draw_sprites: BG+window share one per-pixel fetch pass, sprites are drawn
// in a second pass respecting per-pixel BG priority.
func (p *PPU) renderScanline() {
	if p.ly >= screenH {
		return
	}
	for x := 0; x < screenW; x++ {
		p.setGray(x, 255)
		p.bgPrio[x] = prioNormal
	}
	p.drawBG()
	p.drawSprites()
}

func (p *PPU) setGray(x int, v byte) { p.setRGB8(x, v, v, v) }

// clearToWhite fills the whole framebuffer white; real hardware shows a
// blank white screen while the LCD is disabled mid-frame.
func (p *PPU) clearToWhite() {
	for i := range p.fb {
		p.fb[i] = 255
	}
}

func (p *PPU) setRGB8(x int, r, g, b byte) {
	i := (int(p.ly)*screenW + x) * 4
	p.fb[i+0] = r
	p.fb[i+1] = g
	p.fb[i+2] = b
	p.fb[i+3] = 255
}

// setCGBColor applies the Gambatte-derived DMG-on-CGB color-correction mix,
// straight from gpu.rs::setrgb. r,g,b are 5-bit (0-31).
func (p *PPU) setCGBColor(x int, r, g, b byte) {
	rr, gg, bb := uint32(r), uint32(g), uint32(b)
	i := (int(p.ly)*screenW + x) * 4
	p.fb[i+0] = byte((rr*13 + gg*2 + bb) >> 1)
	p.fb[i+1] = byte((gg*3 + bb) << 1)
	p.fb[i+2] = byte((rr*3 + gg*2 + bb*11) >> 1)
	p.fb[i+3] = 255
}

func monoPalVal(value byte, index uint) byte {
	switch (value >> (2 * index)) & 0x03 {
	case 0:
		return 255
	case 1:
		return 192
	case 2:
		return 96
	default:
		return 0
	}
}

func (p *PPU) drawBG() {
	isColor := p.mode == gbmode.Color
	lcdc0 := p.lcdc&0x01 != 0 // BG/window enable on DMG, BG-under-sprites priority on CGB
	drawbg := isColor || lcdc0
	winOn := p.lcdc&0x20 != 0

	wxTrigger := p.wx <= 166
	winY := -1
	if winOn && p.wyTrigger && wxTrigger {
		p.wyPos++
		winY = p.wyPos
	}
	if winY < 0 && !drawbg {
		return
	}

	winTileY := uint16(winY) >> 3 & 31
	bgY := p.scy + p.ly
	bgTileY := uint16(bgY) >> 3 & 31

	winTilemap := uint16(0x9800)
	if p.lcdc&0x40 != 0 {
		winTilemap = 0x9C00
	}
	bgTilemap := uint16(0x9800)
	if p.lcdc&0x08 != 0 {
		bgTilemap = 0x9C00
	}
	tilebase := uint16(0x8800)
	signedTiles := true
	if p.lcdc&0x10 != 0 {
		tilebase = 0x8000
		signedTiles = false
	}

	for x := 0; x < screenW; x++ {
		winX := -(int(p.wx) - 7) + x
		bgX := int(p.scx) + x

		var tilemapBase, tileY, tileX uint16
		var pixelY uint16
		var pixelX byte
		switch {
		case winY >= 0 && winX >= 0:
			tilemapBase = winTilemap
			tileY = winTileY
			tileX = uint16(winX) >> 3
			pixelY = uint16(winY) & 0x07
			pixelX = byte(winX) & 0x07
		case drawbg:
			tilemapBase = bgTilemap
			tileY = bgTileY
			tileX = (uint16(bgX) >> 3) & 31
			pixelY = uint16(bgY) & 0x07
			pixelX = byte(bgX) & 0x07
		default:
			continue
		}

		mapAddr := tilemapBase + tileY*32 + tileX
		tilenr := p.readVRAMBank(0, mapAddr)

		var palnr byte
		var vram1, xflip, yflip, prio bool
		if isColor {
			flags := p.readVRAMBank(1, mapAddr)
			palnr = flags & 0x07
			vram1 = flags&(1<<3) != 0
			xflip = flags&(1<<5) != 0
			yflip = flags&(1<<6) != 0
			prio = flags&(1<<7) != 0
		}

		var tileAddr uint16
		if !signedTiles {
			tileAddr = tilebase + uint16(tilenr)*16
		} else {
			tileAddr = tilebase + uint16(int16(int8(tilenr))+128)*16
		}

		a0 := tileAddr + pixelY*2
		if yflip {
			a0 = tileAddr + (14 - pixelY*2)
		}

		bank := byte(0)
		if vram1 {
			bank = 1
		}
		b1 := p.readVRAMBank(bank, a0)
		b2 := p.readVRAMBank(bank, a0+1)

		xbit := 7 - pixelX
		if xflip {
			xbit = pixelX
		}
		colnr := byte(0)
		if b1&(1<<xbit) != 0 {
			colnr |= 1
		}
		if b2&(1<<xbit) != 0 {
			colnr |= 2
		}

		switch {
		case colnr == 0:
			p.bgPrio[x] = prioColor0
		case prio:
			p.bgPrio[x] = prioFlag
		default:
			p.bgPrio[x] = prioNormal
		}

		if isColor {
			c := p.cbgpal[palnr][colnr]
			p.setCGBColor(x, c[0], c[1], c[2])
		} else {
			p.setGray(x, monoPalVal(p.bgp, uint(colnr)))
		}
	}
}

func (p *PPU) readVRAMBank(bank byte, addr uint16) byte {
	off := addr - 0x8000
	if int(off) < 0 || int(off) >= len(p.vram0) {
		return 0xFF
	}
	if bank == 1 {
		return p.vram1[off]
	}
	return p.vram0[off]
}

func (p *PPU) drawSprites() {
	spriteOn := p.lcdc&0x02 != 0
	if !spriteOn {
		return
	}
	spriteSize := 8
	if p.lcdc&0x04 != 0 {
		spriteSize = 16
	}
	isColor := p.mode == gbmode.Color
	line := int(p.ly)

	var list [10]spriteEntry
	n := 0
	for i := 0; i < 40; i++ {
		addr := uint16(0xFE00 + i*4)
		spriteY := int(p.oam[addr-0xFE00]) - 16
		if line < spriteY || line >= spriteY+spriteSize {
			continue
		}
		spriteX := int(p.oam[addr+1-0xFE00]) - 8
		list[n] = spriteEntry{spriteX, spriteY, byte(i)}
		n++
		if n >= 10 {
			break
		}
	}
	visible := list[:n]
	if isColor {
		// CGB order: OAM index descending (later entries drawn first, so
		// earlier indices end up on top when pixels are overwritten).
		for i := 1; i < len(visible); i++ {
			for j := i; j > 0 && visible[j-1].idx < visible[j].idx; j-- {
				visible[j-1], visible[j] = visible[j], visible[j-1]
			}
		}
	} else {
		// DMG order: x descending, then OAM index descending.
		for i := 1; i < len(visible); i++ {
			for j := i; j > 0 && lessDMG(visible[j], visible[j-1]); j-- {
				visible[j-1], visible[j] = visible[j], visible[j-1]
			}
		}
	}

	for _, s := range visible {
		if s.x < -7 || s.x >= screenW {
			continue
		}
		addr := uint16(0xFE00 + int(s.idx)*4)
		tilenum := p.oam[addr+2-0xFE00]
		if spriteSize == 16 {
			tilenum &= 0xFE
		}
		flags := p.oam[addr+3-0xFE00]
		usePal1 := flags&(1<<4) != 0
		xflip := flags&(1<<5) != 0
		yflip := flags&(1<<6) != 0
		belowBG := flags&(1<<7) != 0
		cPalnr := flags & 0x07
		cBank := byte(0)
		if flags&(1<<3) != 0 {
			cBank = 1
		}

		tileY := line - s.y
		if yflip {
			tileY = spriteSize - 1 - (line - s.y)
		}
		tileAddr := uint16(0x8000) + uint16(tilenum)*16 + uint16(tileY)*2
		var b1, b2 byte
		if cBank == 1 && isColor {
			b1 = p.readVRAMBank(1, tileAddr)
			b2 = p.readVRAMBank(1, tileAddr+1)
		} else {
			b1 = p.readVRAMBank(0, tileAddr)
			b2 = p.readVRAMBank(0, tileAddr+1)
		}

		for px := 0; px < 8; px++ {
			x := s.x + px
			if x < 0 || x >= screenW {
				continue
			}
			xbit := uint(7 - px)
			if xflip {
				xbit = uint(px)
			}
			colnr := byte(0)
			if b1&(1<<xbit) != 0 {
				colnr |= 1
			}
			if b2&(1<<xbit) != 0 {
				colnr |= 2
			}
			if colnr == 0 {
				continue
			}

			if isColor {
				bgLCDOn := p.lcdc&0x01 != 0
				if bgLCDOn && (p.bgPrio[x] == prioFlag || (belowBG && p.bgPrio[x] != prioColor0)) {
					continue
				}
				c := p.cspal[cPalnr][colnr]
				p.setCGBColor(x, c[0], c[1], c[2])
			} else {
				if belowBG && p.bgPrio[x] != prioColor0 {
					continue
				}
				pal := p.obp0
				if usePal1 {
					pal = p.obp1
				}
				p.setGray(x, monoPalVal(pal, uint(colnr)))
			}
		}
	}
}

type spriteEntry struct {
	x, y int
	idx  byte
}

// lessDMG reports whether a should sort before b under DMG sprite priority:
// larger x first, then larger OAM index first (so lower x / lower index end
// up drawn last and therefore on top).
func lessDMG(a, b spriteEntry) bool {
	if a.x != b.x {
		return a.x > b.x
	}
	return a.idx > b.idx
}
