package bus

// OAM-DMA (FF46) and VRAM-DMA (HDMA/GDMA, FF51-FF55, CGB only).
// Grounded on original_source/librboy/src/mmu.rs's oamdma/hdma handling: OAM
// DMA completes instantly from the CPU's perspective (the 160-cycle busy
// window it actually takes on hardware affects only OAM's own visibility,
// which callers don't rely on here); VRAM-DMA moves 16 bytes at a time,
// either all at once (GDMA) or one block per HBlank entry (HDMA).

// oamDMA performs the synchronous 160-byte OAM transfer triggered by a write
// to FF46. Source is value*0x100; destination is always OAM (0xFE00-0xFE9F).
func (b *Bus) oamDMA(value byte) {
	b.dma = value
	src := uint16(value) << 8
	for i := uint16(0); i < 0xA0; i++ {
		b.ppu.CPUWrite(0xFE00+i, b.Read(src+i))
	}
}

// hdmaStatus implements the FF55 read: bit 7 clear while an HDMA transfer is
// still in progress (with the remaining block count - 1 in bits 0-6), all
// bits set once the transfer has completed or none was started.
func (b *Bus) hdmaStatus() byte {
	if b.hdmaLenLeft < 0 {
		return 0xFF
	}
	return byte((b.hdmaLenLeft - 1) & 0x7F)
}

// startHDMA handles a write to FF55: it either performs an immediate GDMA
// block copy (bit 7 clear) or arms an HBlank-gated HDMA transfer (bit 7 set).
// Writing bit 7 clear while an HDMA transfer is already running cancels it.
func (b *Bus) startHDMA(value byte) {
	if !b.mode.IsCGB() {
		return
	}
	if value&0x80 == 0 && b.hdmaLenLeft >= 0 {
		b.hdmaLenLeft = -1
		return
	}
	blocks := int(value&0x7F) + 1
	if value&0x80 == 0 {
		b.copyHDMABlock(blocks)
		b.hdmaLenLeft = -1
		return
	}
	b.hdmaMode = true
	b.hdmaLenLeft = blocks
}

// stepHDMA transfers one 16-byte block per HBlank entry while an HDMA
// transfer is armed. Invoked from Tick whenever the PPU's HBlankPulse fires.
func (b *Bus) stepHDMA() {
	if b.hdmaLenLeft <= 0 || !b.hdmaMode {
		return
	}
	b.copyHDMABlock(1)
	b.hdmaLenLeft--
	if b.hdmaLenLeft == 0 {
		b.hdmaLenLeft = -1
	}
}

// copyHDMABlock copies n 16-byte blocks from hdmaSrc to VRAM at hdmaDst,
// masked to their respective valid ranges, advancing both pointers.
func (b *Bus) copyHDMABlock(n int) {
	for blk := 0; blk < n; blk++ {
		for i := uint16(0); i < 16; i++ {
			v := b.Read((b.hdmaSrc & 0xFFF0) + i)
			b.ppu.CPUWrite(0x8000+(b.hdmaDst&0x1FF0)+i, v)
		}
		b.hdmaSrc += 16
		b.hdmaDst += 16
	}
}
