package bus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"gones/internal/cartridge"
)

// fakeCartridge is a minimal memory.CartridgeInterface fixture. It is
// intentionally not a *cartridge.Cartridge so LoadCartridge falls back
// to its default (horizontal) mirroring mode.
type fakeCartridge struct {
	prg [0x8000]uint8
	chr [0x2000]uint8
}

func (c *fakeCartridge) ReadPRG(address uint16) uint8         { return c.prg[address-0x8000] }
func (c *fakeCartridge) WritePRG(address uint16, value uint8) {}
func (c *fakeCartridge) ReadCHR(address uint16) uint8         { return c.chr[address] }
func (c *fakeCartridge) WriteCHR(address uint16, value uint8) { c.chr[address] = value }

func newTestBus() (*Bus, *fakeCartridge) {
	b := New()
	cart := &fakeCartridge{}
	cart.prg[0x7FFC] = 0x00
	cart.prg[0x7FFD] = 0x80 // reset vector -> $8000
	b.LoadCartridge(cart)
	return b, cart
}

func TestStepAdvancesPPUThreeDotsPerCPUCycle(t *testing.T) {
	b, cart := newTestBus()
	cart.prg[0] = 0xEA // NOP at $8000

	startPPUCycles := b.PPU.GetCycleCount()
	cpuCycles, err := b.Step()
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), cpuCycles, "NOP takes 2 CPU cycles")
	assert.Equal(t, startPPUCycles+cpuCycles*3, b.PPU.GetCycleCount())
}

func TestStepPropagatesCPUFault(t *testing.T) {
	b, cart := newTestBus()
	cart.prg[0] = 0x02 // unimplemented opcode

	_, err := b.Step()
	assert.Error(t, err)
}

func TestOAMDMAStallsEvenParity513Cycles(t *testing.T) {
	b, cart := newTestBus()
	cart.prg[0] = 0xEA
	b.cpuCycles = 0 // even

	b.TriggerOAMDMA(0x02)
	assert.True(t, b.IsDMAInProgress())
	assert.Equal(t, uint64(513), b.dmaSuspendCycles)
}

func TestOAMDMAStallsOddParity514Cycles(t *testing.T) {
	b, cart := newTestBus()
	cart.prg[0] = 0xEA
	b.cpuCycles = 1 // odd

	b.TriggerOAMDMA(0x02)
	assert.Equal(t, uint64(514), b.dmaSuspendCycles)
}

func TestOAMDMACopiesSourcePageIntoOAM(t *testing.T) {
	b, _ := newTestBus()
	b.Memory.Write(0x0200, 0x55)
	b.TriggerOAMDMA(0x02)
	b.PPU.WriteRegister(0x2003, 0x00)
	assert.Equal(t, uint8(0x55), b.PPU.ReadRegister(0x2004))
}

func TestNMIForwardedFromPPUVBlankToCPU(t *testing.T) {
	b, cart := newTestBus()
	cart.prg[0] = 0xEA
	cart.prg[0x7FFA] = 0x00
	cart.prg[0x7FFB] = 0xA0 // NMI vector -> $A000
	b.PPU.ReadRegister(0x2002)        // clear the VBlank flag Reset leaves set, so no immediate NMI
	b.PPU.WriteRegister(0x2000, 0x80) // enable NMI on VBlank

	for b.PPU.GetScanline() != 241 || b.PPU.GetCycle() != 1 {
		b.PPU.Step()
	}

	if _, err := b.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.Equal(t, uint16(0xA000), b.CPU.PC, "CPU should service the forwarded NMI")
}

func TestLoadCartridgeWiresMirroringMode(t *testing.T) {
	var header bytes.Buffer
	header.WriteString("NES\x1A")
	header.WriteByte(1)    // 1 PRG bank
	header.WriteByte(1)    // 1 CHR bank
	header.WriteByte(0x01) // flags6: vertical mirroring
	header.WriteByte(0)
	header.Write(make([]byte, 8))
	header.Write(make([]byte, 16384)) // PRG
	header.Write(make([]byte, 8192))  // CHR

	cart, err := cartridge.LoadFromReader(bytes.NewReader(header.Bytes()))
	assert.NoError(t, err)
	assert.Equal(t, cartridge.MirrorVertical, cart.GetMirrorMode())

	b := New()
	b.LoadCartridge(cart)

	b.PPU.WriteRegister(0x2006, 0x20)
	b.PPU.WriteRegister(0x2006, 0x00)
	b.PPU.WriteRegister(0x2007, 0x7A) // write $2000 through the bus's PPU
	b.PPU.WriteRegister(0x2006, 0x28)
	b.PPU.WriteRegister(0x2006, 0x00)
	_ = b.PPU.ReadRegister(0x2007) // first read returns the stale buffered value
	assert.Equal(t, uint8(0x7A), b.PPU.ReadRegister(0x2007), "vertical mirroring should mirror $2000 into $2800")
}
