package memory

import "testing"

type fakePPU struct {
	reads  []uint16
	writes map[uint16]uint8
}

func newFakePPU() *fakePPU {
	return &fakePPU{writes: make(map[uint16]uint8)}
}

func (p *fakePPU) ReadRegister(address uint16) uint8 {
	p.reads = append(p.reads, address)
	return 0x42
}

func (p *fakePPU) WriteRegister(address uint16, value uint8) {
	p.writes[address] = value
}

type fakeAPU struct {
	writes map[uint16]uint8
}

func newFakeAPU() *fakeAPU {
	return &fakeAPU{writes: make(map[uint16]uint8)}
}

func (a *fakeAPU) WriteRegister(address uint16, value uint8) { a.writes[address] = value }
func (a *fakeAPU) ReadStatus() uint8                          { return 0x1F }

type fakeCartridge struct {
	prg [0x10000]uint8
	chr [0x2000]uint8
}

func (c *fakeCartridge) ReadPRG(address uint16) uint8         { return c.prg[address] }
func (c *fakeCartridge) WritePRG(address uint16, value uint8) { c.prg[address] = value }
func (c *fakeCartridge) ReadCHR(address uint16) uint8         { return c.chr[address] }
func (c *fakeCartridge) WriteCHR(address uint16, value uint8) { c.chr[address] = value }

func TestRAMMirroring(t *testing.T) {
	mem := New(newFakePPU(), newFakeAPU(), &fakeCartridge{})
	mem.Write(0x0000, 0x37)
	for _, mirror := range []uint16{0x0800, 0x1000, 0x1800} {
		if got := mem.Read(mirror); got != 0x37 {
			t.Fatalf("Read($%04X) = $%02X, want $37 (RAM mirror)", mirror, got)
		}
	}
}

func TestPPURegisterMirroring(t *testing.T) {
	ppu := newFakePPU()
	mem := New(ppu, newFakeAPU(), &fakeCartridge{})
	mem.Write(0x2000, 0x80)
	mem.Write(0x2008, 0x81) // mirrors $2000
	if ppu.writes[0x2000] != 0x81 {
		t.Fatalf("PPU register $2000 = $%02X, want $81 (last write through mirror)", ppu.writes[0x2000])
	}
}

func TestOAMDMACallback(t *testing.T) {
	var called bool
	var page uint8
	mem := New(newFakePPU(), newFakeAPU(), &fakeCartridge{})
	mem.SetDMACallback(func(p uint8) {
		called = true
		page = p
	})
	mem.Write(0x4014, 0x04)
	if !called || page != 0x04 {
		t.Fatalf("DMA callback called=%v page=$%02X, want called=true page=$04", called, page)
	}
}

func TestControllerStrobeRoutedToInputSystem(t *testing.T) {
	mem := New(newFakePPU(), newFakeAPU(), &fakeCartridge{})
	input := &fakeInput{}
	mem.SetInputSystem(input)
	mem.Write(0x4016, 0x01)
	if input.lastWrite != 0x01 {
		t.Fatalf("input write = $%02X, want $01", input.lastWrite)
	}
	if got := mem.Read(0x4016); got != 0x55 {
		t.Fatalf("controller read = $%02X, want $55", got)
	}
}

type fakeInput struct {
	lastWrite uint8
}

func (f *fakeInput) Read(address uint16) uint8         { return 0x55 }
func (f *fakeInput) Write(address uint16, value uint8) { f.lastWrite = value }

func TestPPUMemoryNametableHorizontalMirroring(t *testing.T) {
	cart := &fakeCartridge{}
	pm := NewPPUMemory(cart, MirrorHorizontal)
	pm.Write(0x2000, 0x11)
	if got := pm.Read(0x2400); got != 0x11 {
		t.Fatalf("horizontal mirror $2400 = $%02X, want $11 (shares bank with $2000)", got)
	}
	pm.Write(0x2800, 0x22)
	if got := pm.Read(0x2C00); got != 0x22 {
		t.Fatalf("horizontal mirror $2C00 = $%02X, want $22 (shares bank with $2800)", got)
	}
}

func TestPPUMemoryNametableVerticalMirroring(t *testing.T) {
	cart := &fakeCartridge{}
	pm := NewPPUMemory(cart, MirrorVertical)
	pm.Write(0x2000, 0x33)
	if got := pm.Read(0x2800); got != 0x33 {
		t.Fatalf("vertical mirror $2800 = $%02X, want $33 (shares bank with $2000)", got)
	}
	pm.Write(0x2400, 0x44)
	if got := pm.Read(0x2C00); got != 0x44 {
		t.Fatalf("vertical mirror $2C00 = $%02X, want $44 (shares bank with $2400)", got)
	}
}

func TestPPUMemoryPaletteMirroring(t *testing.T) {
	cart := &fakeCartridge{}
	pm := NewPPUMemory(cart, MirrorHorizontal)
	pm.Write(0x3F00, 0x0F)
	pm.Write(0x3F10, 0x2A) // background color mirror of $3F00
	if got := pm.Read(0x3F00); got != 0x2A {
		t.Fatalf("palette $3F00 = $%02X, want $2A (mirrored write through $3F10)", got)
	}
	if got := pm.Read(0x3F20); got != 0x2A {
		t.Fatalf("palette mirror $3F20 = $%02X, want $2A", got)
	}
}

func TestPPUMemoryPatternTableRoutesToCartridge(t *testing.T) {
	cart := &fakeCartridge{}
	pm := NewPPUMemory(cart, MirrorHorizontal)
	pm.Write(0x0010, 0x99)
	if cart.chr[0x0010] != 0x99 {
		t.Fatalf("CHR write did not reach cartridge: got $%02X, want $99", cart.chr[0x0010])
	}
	if got := pm.Read(0x0010); got != 0x99 {
		t.Fatalf("CHR read = $%02X, want $99", got)
	}
}
