package ppu

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gones/internal/memory"
)

type fakeCartridge struct {
	chr [0x2000]uint8
}

func (c *fakeCartridge) ReadPRG(address uint16) uint8         { return 0 }
func (c *fakeCartridge) WritePRG(address uint16, value uint8) {}
func (c *fakeCartridge) ReadCHR(address uint16) uint8         { return c.chr[address] }
func (c *fakeCartridge) WriteCHR(address uint16, value uint8) { c.chr[address] = value }

func newTestPPU() *PPU {
	p := New()
	p.Reset()
	p.SetMemory(memory.NewPPUMemory(&fakeCartridge{}, memory.MirrorHorizontal))
	return p
}

func TestPPUDataWriteReadRoundTrip(t *testing.T) {
	p := newTestPPU()
	p.WriteRegister(0x2006, 0x20) // PPUADDR high byte
	p.WriteRegister(0x2006, 0x00) // PPUADDR low byte -> $2000
	p.WriteRegister(0x2007, 0x55)

	p.WriteRegister(0x2006, 0x20)
	p.WriteRegister(0x2006, 0x00)
	_ = p.ReadRegister(0x2007) // first read returns stale buffered value
	got := p.ReadRegister(0x2007)
	assert.Equal(t, uint8(0x55), got, "second PPUDATA read should return the buffered nametable byte")
}

func TestPaletteReadsAreNotBuffered(t *testing.T) {
	p := newTestPPU()
	p.WriteRegister(0x2006, 0x3F)
	p.WriteRegister(0x2006, 0x00)
	p.WriteRegister(0x2007, 0x16)

	p.WriteRegister(0x2006, 0x3F)
	p.WriteRegister(0x2006, 0x00)
	got := p.ReadRegister(0x2007)
	assert.Equal(t, uint8(0x16), got, "palette reads bypass the PPUDATA read buffer")
}

func TestStatusReadResetsWriteLatch(t *testing.T) {
	p := newTestPPU()
	p.WriteRegister(0x2006, 0x20) // first write of the pair
	p.ReadRegister(0x2002)        // resets the shared latch
	p.WriteRegister(0x2006, 0x00) // now treated as the first write again
	p.WriteRegister(0x2006, 0x00)
	// Had the latch not reset, PPUADDR would be $2000; with the reset it
	// is $0000 (first write high=$00, second write low=$00).
	p.WriteRegister(0x2007, 0x77)
	p.WriteRegister(0x2006, 0x00)
	p.WriteRegister(0x2006, 0x00)
	_ = p.ReadRegister(0x2007)
	assert.Equal(t, uint8(0x77), p.ReadRegister(0x2007), "expected the byte written at $0000, returned through the read buffer")
}

func TestStatusReadClearsVBlankAndSprite0Hit(t *testing.T) {
	p := newTestPPU()
	p.ppuStatus = 0xC0 // VBlank + sprite 0 hit set
	status := p.ReadRegister(0x2002)
	assert.Equal(t, uint8(0xC0), status, "read should return the pre-clear status byte")
	assert.Equal(t, uint8(0), p.ppuStatus&0x80, "VBlank flag should clear after status read")
	assert.False(t, p.sprite0Hit, "sprite 0 hit should clear after status read")
}

func TestVBlankSetAtScanline241Cycle1(t *testing.T) {
	p := newTestPPU()
	nmiCalls := 0
	p.SetNMICallback(func() { nmiCalls++ })
	p.ReadRegister(0x2002)        // clear the VBlank flag Reset leaves set, so no immediate NMI
	p.WriteRegister(0x2000, 0x80) // enable NMI on VBlank

	for p.scanline != 241 || p.cycle != 1 {
		p.Step()
	}

	assert.NotZero(t, p.ppuStatus&0x80, "VBlank flag should be set at (241,1)")
	assert.Equal(t, 1, nmiCalls, "NMI callback should fire exactly once at VBlank entry")
}

func TestImmediateNMIOnCTRLWriteDuringVBlank(t *testing.T) {
	p := newTestPPU()
	p.ppuStatus |= 0x80 // simulate VBlank already latched
	nmiCalls := 0
	p.SetNMICallback(func() { nmiCalls++ })

	p.WriteRegister(0x2000, 0x80) // raising NMI-enable while VBlank is set
	assert.Equal(t, 1, nmiCalls, "enabling NMI while VBlank is set should fire immediately")
}

func TestVBlankClearedAtPreRenderLine(t *testing.T) {
	p := newTestPPU()
	for p.scanline != 241 || p.cycle != 1 {
		p.Step()
	}
	assert.NotZero(t, p.ppuStatus&0x80)

	for !(p.scanline == -1 && p.cycle == 1) {
		p.Step()
	}
	assert.Equal(t, uint8(0), p.ppuStatus&0x80, "VBlank flag should clear at the pre-render line")
}

func TestTickRatioThreeDotsPerCPUCycle(t *testing.T) {
	p := newTestPPU()
	startCycles := p.GetCycleCount()
	for i := 0; i < 3; i++ {
		p.Step()
	}
	assert.Equal(t, startCycles+3, p.GetCycleCount())
}

func TestFrameCompletesEvery89342Dots(t *testing.T) {
	p := newTestPPU()
	frameCompleted := 0
	p.SetFrameCompleteCallback(func() { frameCompleted++ })

	for i := 0; i < 89342; i++ {
		p.Step()
	}
	assert.Equal(t, 1, frameCompleted, "one frame should complete every 341*262 dots")
}

func TestOAMWriteAndReadback(t *testing.T) {
	p := newTestPPU()
	p.WriteOAM(0x10, 0x99)
	p.WriteRegister(0x2003, 0x10) // OAMADDR
	got := p.ReadRegister(0x2004)
	assert.Equal(t, uint8(0x99), got)
}
