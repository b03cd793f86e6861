package emu

// cgbCompatSets holds the RGB triples a DMG cart's four shades map to when
// colorized on CGB hardware, indexed light-to-dark (white, light, dark,
// black) the same way the PPU's monoPalVal shades are ordered. IDs match
// compat_tables.go's autoCompatPaletteFromHeader output.
var cgbCompatSets = [6][4][3]byte{
	{{255, 255, 255}, {152, 216, 128}, {88, 152, 64}, {16, 56, 16}},  // 0: Green (Zelda)
	{{255, 232, 184}, {216, 168, 112}, {152, 96, 56}, {48, 24, 16}},  // 1: Sepia (Donkey Kong, Wario)
	{{224, 248, 255}, {136, 192, 248}, {64, 112, 200}, {16, 24, 64}}, // 2: Blue (Tetris, Mega Man)
	{{255, 224, 224}, {248, 152, 136}, {200, 64, 64}, {64, 8, 8}},    // 3: Red (Mario, Metroid)
	{{255, 240, 248}, {216, 184, 224}, {144, 112, 176}, {48, 32, 64}}, // 4: Pastel (Dr. Mario, Kirby, Pokemon)
	{{255, 255, 255}, {192, 192, 192}, {96, 96, 96}, {0, 0, 0}},      // 5: default, plain grayscale
}

var cgbCompatSetNames = [6]string{
	"Green", "Sepia", "Blue", "Red", "Pastel", "Grayscale",
}

// colorizeCompat remaps an RGBA framebuffer's four exact DMG gray shades
// (255/192/96/0, as produced by ppu.setGray in Classic/ColorAsClassic mode)
// to palette's RGB values, in place.
func colorizeCompat(fb []byte, palette [4][3]byte) {
	for i := 0; i+3 < len(fb); i += 4 {
		var shade int
		switch fb[i] {
		case 255:
			shade = 0
		case 192:
			shade = 1
		case 96:
			shade = 2
		case 0:
			shade = 3
		default:
			continue
		}
		c := palette[shade]
		fb[i], fb[i+1], fb[i+2] = c[0], c[1], c[2]
	}
}

// applyCompatPalette sets the active compat palette from the currently loaded
// cartridge's header, replacing any earlier choice (the current one is kept
// only when the header lookup finds no match); called whenever ColorAsClassic
// mode is (re)entered.
func (m *Machine) applyCompatPalette() {
	if id, ok := autoCompatPaletteFromHeader(m.header); ok {
		m.compatID = id % len(cgbCompatSetNames)
	}
}

// CycleCompatPalette advances the active compat palette by delta (wrapping),
// for the host UI's palette-cycling hotkey.
func (m *Machine) CycleCompatPalette(delta int) {
	n := len(cgbCompatSetNames)
	m.compatID = ((m.compatID+delta)%n + n) % n
}

// SetCompatPalette selects a specific compat palette by ID.
func (m *Machine) SetCompatPalette(id int) {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return
	}
	m.compatID = id
}

// CurrentCompatPalette returns the active compat palette ID.
func (m *Machine) CurrentCompatPalette() int { return m.compatID }

// CompatPaletteName returns the display name for a compat palette ID, "" if
// out of range.
func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return ""
	}
	return cgbCompatSetNames[id]
}
