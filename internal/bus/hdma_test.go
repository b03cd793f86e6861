package bus

import (
	"testing"

	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GameBoyEmulator/internal/gbmode"
)

func newCGBBus() *Bus {
	return NewWithCartridgeMode(cart.NewROMOnly(make([]byte, 0x8000)), gbmode.Color)
}

func TestHDMA_GDMA_ImmediateCopy(t *testing.T) {
	b := newCGBBus()
	for i := uint16(0); i < 0x20; i++ {
		b.Write(0xC000+i, byte(i+1))
	}
	// Source C000 (WRAM), dest 8000 (VRAM bank 0), 2 blocks (32 bytes).
	b.Write(0xFF51, 0xC0)
	b.Write(0xFF52, 0x00)
	b.Write(0xFF53, 0x00)
	b.Write(0xFF54, 0x00)
	b.Write(0xFF55, 0x01) // bit 7 clear = GDMA, length = 2 blocks

	if status := b.Read(0xFF55); status != 0xFF {
		t.Fatalf("FF55 after GDMA = %02x, want FF (transfer complete)", status)
	}
	for i := uint16(0); i < 0x20; i++ {
		if got := b.Read(0x8000 + i); got != byte(i+1) {
			t.Fatalf("VRAM[%04x] = %02x, want %02x", 0x8000+i, got, i+1)
		}
	}
}

func TestHDMA_HBlankGated_TransfersOneBlockPerHBlank(t *testing.T) {
	b := newCGBBus()
	for i := uint16(0); i < 0x20; i++ {
		b.Write(0xC000+i, byte(0x80+i))
	}
	b.Write(0xFF51, 0xC0)
	b.Write(0xFF52, 0x00)
	b.Write(0xFF53, 0x00)
	b.Write(0xFF54, 0x00)
	b.Write(0xFF55, 0x81) // bit 7 set = HDMA, length = 2 blocks

	if status := b.Read(0xFF55); status != 0x01 {
		t.Fatalf("FF55 after arming HDMA = %02x, want 01 (1 block left after this one)", status)
	}
	if got := b.Read(0x8000); got != 0 {
		t.Fatalf("HDMA should not transfer before the first HBlank, VRAM[8000]=%02x", got)
	}

	b.stepHDMA()
	for i := uint16(0); i < 16; i++ {
		if got := b.Read(0x8000 + i); got != byte(0x80+i) {
			t.Fatalf("after 1st HDMA block, VRAM[%04x] = %02x, want %02x", 0x8000+i, got, 0x80+i)
		}
	}
	if got := b.Read(0x8010); got != 0 {
		t.Fatalf("2nd block should not have transferred yet, VRAM[8010]=%02x", got)
	}

	b.stepHDMA()
	for i := uint16(0); i < 16; i++ {
		if got := b.Read(0x8010 + i); got != byte(0x90+i) {
			t.Fatalf("after 2nd HDMA block, VRAM[%04x] = %02x, want %02x", 0x8010+i, got, 0x90+i)
		}
	}
	if status := b.Read(0xFF55); status != 0xFF {
		t.Fatalf("FF55 after last block = %02x, want FF (transfer complete)", status)
	}
}

func TestHDMA_WriteBit7Clear_CancelsRunningTransfer(t *testing.T) {
	b := newCGBBus()
	b.Write(0xFF51, 0xC0)
	b.Write(0xFF52, 0x00)
	b.Write(0xFF53, 0x00)
	b.Write(0xFF54, 0x00)
	b.Write(0xFF55, 0x83) // arm a 4-block HDMA transfer

	b.Write(0xFF55, 0x00) // cancel
	if status := b.Read(0xFF55); status != 0xFF {
		t.Fatalf("FF55 after cancel = %02x, want FF", status)
	}
}

func TestSpeedSwitch_ArmedByKEY1_AppliedBySwitchSpeedIfPending(t *testing.T) {
	b := newCGBBus()
	b.Write(0xFF4D, 0x01) // arm the switch
	if v := b.Read(0xFF4D); v&0x01 == 0 {
		t.Fatalf("FF4D bit 0 should read back set while armed, got %02x", v)
	}
	if b.speed != gbmode.Single {
		t.Fatalf("speed should not change until SwitchSpeedIfPending runs")
	}

	b.SwitchSpeedIfPending()
	if b.speed != gbmode.Double {
		t.Fatalf("speed after switch = %v, want Double", b.speed)
	}
	if v := b.Read(0xFF4D); v&0x80 == 0 {
		t.Fatalf("FF4D bit 7 should reflect Double speed, got %02x", v)
	}
	if v := b.Read(0xFF4D); v&0x01 != 0 {
		t.Fatalf("FF4D bit 0 should clear once the switch is applied, got %02x", v)
	}

	b.Write(0xFF4D, 0x01)
	b.SwitchSpeedIfPending()
	if b.speed != gbmode.Single {
		t.Fatalf("second switch should toggle back to Single speed, got %v", b.speed)
	}
}

func TestSpeedSwitch_NotArmedOnClassicHardware(t *testing.T) {
	b := NewWithCartridgeMode(cart.NewROMOnly(make([]byte, 0x8000)), gbmode.Classic)
	b.Write(0xFF4D, 0x01)
	b.SwitchSpeedIfPending()
	if b.speed != gbmode.Single {
		t.Fatalf("DMG hardware should never enter double speed")
	}
}
