package cpu

import "testing"

// flatMemory is a 64KB RAM-backed MemoryInterface fixture for tests.
type flatMemory struct {
	data [0x10000]uint8
}

func (m *flatMemory) Read(addr uint16) uint8          { return m.data[addr] }
func (m *flatMemory) Write(addr uint16, value uint8)  { m.data[addr] = value }

func newTestCPU() (*CPU, *flatMemory) {
	mem := &flatMemory{}
	mem.data[resetVector] = 0x00
	mem.data[resetVector+1] = 0x80 // reset vector -> $8000
	c := New(mem)
	return c, mem
}

func load(mem *flatMemory, addr uint16, bytes ...uint8) {
	for i, b := range bytes {
		mem.data[addr+uint16(i)] = b
	}
}

func TestResetVectorAndStackPointer(t *testing.T) {
	c, _ := newTestCPU()
	if c.PC != 0x8000 {
		t.Fatalf("PC = $%04X, want $8000", c.PC)
	}
	if c.SP != 0xFD {
		t.Fatalf("SP = $%02X, want $FD", c.SP)
	}
	if !c.I {
		t.Fatal("I flag should be set after reset")
	}
}

func TestLDAImmediateSetsZeroAndNegativeFlags(t *testing.T) {
	c, mem := newTestCPU()
	load(mem, 0x8000, 0xA9, 0x00) // LDA #$00
	cycles, err := c.Step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cycles != 2 {
		t.Fatalf("cycles = %d, want 2", cycles)
	}
	if !c.Z || c.N {
		t.Fatalf("Z=%v N=%v, want Z=true N=false for loading 0", c.Z, c.N)
	}
	if c.PC != 0x8002 {
		t.Fatalf("PC = $%04X, want $8002", c.PC)
	}

	load(mem, 0x8002, 0xA9, 0x80) // LDA #$80
	c.Step()
	if c.Z || !c.N {
		t.Fatalf("Z=%v N=%v, want Z=false N=true for loading 0x80", c.Z, c.N)
	}
}

func TestAbsoluteXPageCrossAddsCycle(t *testing.T) {
	c, mem := newTestCPU()
	c.X = 0xFF
	load(mem, 0x8000, 0xBD, 0x01, 0x00) // LDA $0001,X -> crosses into page 1
	mem.data[0x0100] = 0x42
	cycles, _ := c.Step()
	if cycles != 5 {
		t.Fatalf("cycles = %d, want 5 (4 base + 1 page-cross)", cycles)
	}
	if c.A != 0x42 {
		t.Fatalf("A = $%02X, want $42", c.A)
	}
}

func TestADCSetsCarryAndOverflow(t *testing.T) {
	c, mem := newTestCPU()
	c.A = 0x50
	c.C = false
	load(mem, 0x8000, 0x69, 0x50) // ADC #$50 -> 0x50+0x50 overflows into negative
	c.Step()
	if c.A != 0xA0 {
		t.Fatalf("A = $%02X, want $A0", c.A)
	}
	if !c.V {
		t.Fatal("V flag should be set: signed overflow (+80 + +80 = negative)")
	}
	if c.C {
		t.Fatal("C flag should be clear: no unsigned carry out of bit 7")
	}
}

func TestSBCBorrowClearsCarry(t *testing.T) {
	c, mem := newTestCPU()
	c.A = 0x00
	c.C = true // no borrow pending
	load(mem, 0x8000, 0xE9, 0x01) // SBC #$01 -> 0 - 1 - 0
	c.Step()
	if c.A != 0xFF {
		t.Fatalf("A = $%02X, want $FF", c.A)
	}
	if c.C {
		t.Fatal("C flag should be clear after a borrow")
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	c, mem := newTestCPU()
	c.A = 0x37
	load(mem, 0x8000, 0x48, 0xA9, 0x00, 0x68) // PHA; LDA #$00; PLA
	c.Step()
	if c.SP != 0xFC {
		t.Fatalf("SP = $%02X after PHA, want $FC", c.SP)
	}
	c.Step()
	if c.A != 0x00 {
		t.Fatalf("A = $%02X after LDA #$00, want $00", c.A)
	}
	c.Step()
	if c.A != 0x37 {
		t.Fatalf("A = $%02X after PLA, want $37", c.A)
	}
	if c.SP != 0xFD {
		t.Fatalf("SP = $%02X after PLA, want $FD", c.SP)
	}
}

func TestStackPointerWrapsWithinPage(t *testing.T) {
	c, mem := newTestCPU()
	c.SP = 0x00
	load(mem, 0x8000, 0x48) // PHA
	c.Step()
	if c.SP != 0xFF {
		t.Fatalf("SP = $%02X, want $FF (wrapped within $0100 page)", c.SP)
	}
}

func TestPHPAlwaysSetsBit5AndB(t *testing.T) {
	c, mem := newTestCPU()
	c.C, c.Z, c.I, c.D, c.V, c.N = false, false, false, false, false, false
	load(mem, 0x8000, 0x08, 0x68) // PHP; PLA
	c.Step()
	c.Step()
	if c.A&0x20 == 0 {
		t.Fatalf("pushed status $%02X missing always-set bit 5", c.A)
	}
	if c.A&0x10 == 0 {
		t.Fatalf("pushed status $%02X missing B flag set by PHP", c.A)
	}
}

func TestBRKPushesPCPlusTwoAndSetsI(t *testing.T) {
	c, mem := newTestCPU()
	mem.data[irqVector] = 0x00
	mem.data[irqVector+1] = 0x90 // IRQ/BRK vector -> $9000
	load(mem, 0x8000, 0x00)      // BRK
	c.Step()
	if c.PC != 0x9000 {
		t.Fatalf("PC = $%04X, want $9000 (BRK vector)", c.PC)
	}
	if !c.I {
		t.Fatal("I flag should be set after BRK")
	}
	c.pop() // status byte, pushed after the return address
	pushedPC := c.popWord()
	if pushedPC != 0x8002 {
		t.Fatalf("pushed return PC = $%04X, want $8002 (PC+2)", pushedPC)
	}
}

func TestJMPIndirectPageWrapBug(t *testing.T) {
	c, mem := newTestCPU()
	load(mem, 0x8000, 0x6C, 0xFF, 0x02) // JMP ($02FF)
	mem.data[0x02FF] = 0x34
	mem.data[0x0200] = 0x12 // hardware bug: high byte from $0200, not $0300
	mem.data[0x0300] = 0xFF
	c.Step()
	if c.PC != 0x1234 {
		t.Fatalf("PC = $%04X, want $1234 (documented page-wrap bug)", c.PC)
	}
}

func TestBranchTakenAddsCycleAndCrossesPage(t *testing.T) {
	c, mem := newTestCPU()
	c.PC = 0x80F0
	c.Z = true
	load(mem, 0x80F0, 0xF0, 0x20) // BEQ +32 -> crosses from page $80 to $81
	cycles, _ := c.Step()
	if cycles != 4 {
		t.Fatalf("cycles = %d, want 4 (2 base + 1 taken + 1 page-cross)", cycles)
	}
	if c.PC != 0x8112 {
		t.Fatalf("PC = $%04X, want $8112", c.PC)
	}
}

func TestNMIIsEdgeTriggered(t *testing.T) {
	c, mem := newTestCPU()
	mem.data[nmiVector] = 0x00
	mem.data[nmiVector+1] = 0xA0
	load(mem, 0x8000, 0xEA) // NOP

	c.SetNMI(true) // rising edge: one pending request latched; the line stays high
	cycles, _ := c.Step()
	if c.PC != 0xA000 {
		t.Fatalf("PC = $%04X, want $A000 (serviced NMI)", c.PC)
	}
	if cycles != 7 {
		t.Fatalf("cycles = %d, want 7 for interrupt handling", cycles)
	}

	// Holding the line high without a new edge must not re-trigger.
	c.PC = 0x8000
	c.SetNMI(true)
	load(mem, 0x8000, 0xEA)
	c.Step()
	if c.PC == 0xA000 {
		t.Fatal("NMI re-fired without a new rising edge")
	}
}

func TestIRQBlockedWhileInterruptDisableSet(t *testing.T) {
	c, mem := newTestCPU()
	c.I = true
	load(mem, 0x8000, 0xEA) // NOP
	c.SetIRQ(true)
	c.Step()
	if c.PC != 0x8001 {
		t.Fatalf("PC = $%04X, want $8001 (IRQ should be masked by I)", c.PC)
	}
}

func TestUnknownOpcodeIsFatal(t *testing.T) {
	c, mem := newTestCPU()
	load(mem, 0x8000, 0xFF) // $FF has no entry either; overwritten with $02 below
	mem.data[0x8000] = 0x02 // $02 has no entry in initInstructions
	_, err := c.Step()
	if err == nil {
		t.Fatal("expected a FaultError for an unimplemented opcode")
	}
	faultErr, ok := err.(*FaultError)
	if !ok {
		t.Fatalf("error type = %T, want *FaultError", err)
	}
	if faultErr.PC != 0x8000 || faultErr.Opcode != 0x02 {
		t.Fatalf("fault = %+v, want PC=$8000 Opcode=$02", faultErr)
	}
}
