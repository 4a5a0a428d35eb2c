package cpu

// AddressingMode identifies how an instruction's operand address is
// computed.
type AddressingMode int

const (
	Implied AddressingMode = iota
	Accumulator
	Immediate
	ZeroPage
	ZeroPageX
	ZeroPageY
	Relative
	Absolute
	AbsoluteX
	AbsoluteY
	Indirect
	IndexedIndirect // (zp,X)
	IndirectIndexed // (zp),Y
)

// Instruction describes one opcode's static shape: how many bytes it
// occupies, its base cycle count, and the addressing mode used to
// resolve its operand.
type Instruction struct {
	Name    string
	Opcode  uint8
	Bytes   int
	Cycles  int
	Mode    AddressingMode
	Illegal bool
}

// pageCrossPenalty lists the opcodes where crossing a page boundary
// while computing the effective address costs one extra cycle.
// Branch instructions are handled separately in Step, since their
// penalty depends on whether the branch is taken.
var pageCrossPenalty = map[uint8]bool{
	0x7D: true, 0x79: true, 0x39: true, 0x3D: true, // ADC/AND abs,X/Y
	0xDD: true, 0xD9: true, 0x5D: true, 0x59: true, // CMP/EOR abs,X/Y
	0xBD: true, 0xB9: true, 0xBC: true, 0xBE: true, // LDA/LDX/LDY abs,X/Y
	0x1D: true, 0x19: true, // ORA abs,X/Y
	0xFD: true, 0xF9: true, // SBC abs,X/Y
	0xB1: true, // LDA (zp),Y
	0x31: true, 0x51: true, 0x71: true, 0xD1: true, 0xF1: true, // AND/EOR/ADC/CMP/SBC (zp),Y
	0x11: true, // ORA (zp),Y
}

// initInstructions builds the dispatch table for all legal opcodes
// plus the illegal opcodes this core treats as same-length NOPs.
func initInstructions() [256]*Instruction {
	var t [256]*Instruction
	add := func(name string, op uint8, bytes, cycles int, mode AddressingMode) {
		t[op] = &Instruction{Name: name, Opcode: op, Bytes: bytes, Cycles: cycles, Mode: mode}
	}

	// Load/store.
	add("LDA", 0xA9, 2, 2, Immediate)
	add("LDA", 0xA5, 2, 3, ZeroPage)
	add("LDA", 0xB5, 2, 4, ZeroPageX)
	add("LDA", 0xAD, 3, 4, Absolute)
	add("LDA", 0xBD, 3, 4, AbsoluteX)
	add("LDA", 0xB9, 3, 4, AbsoluteY)
	add("LDA", 0xA1, 2, 6, IndexedIndirect)
	add("LDA", 0xB1, 2, 5, IndirectIndexed)

	add("LDX", 0xA2, 2, 2, Immediate)
	add("LDX", 0xA6, 2, 3, ZeroPage)
	add("LDX", 0xB6, 2, 4, ZeroPageY)
	add("LDX", 0xAE, 3, 4, Absolute)
	add("LDX", 0xBE, 3, 4, AbsoluteY)

	add("LDY", 0xA0, 2, 2, Immediate)
	add("LDY", 0xA4, 2, 3, ZeroPage)
	add("LDY", 0xB4, 2, 4, ZeroPageX)
	add("LDY", 0xAC, 3, 4, Absolute)
	add("LDY", 0xBC, 3, 4, AbsoluteX)

	add("STA", 0x85, 2, 3, ZeroPage)
	add("STA", 0x95, 2, 4, ZeroPageX)
	add("STA", 0x8D, 3, 4, Absolute)
	add("STA", 0x9D, 3, 5, AbsoluteX)
	add("STA", 0x99, 3, 5, AbsoluteY)
	add("STA", 0x81, 2, 6, IndexedIndirect)
	add("STA", 0x91, 2, 6, IndirectIndexed)

	add("STX", 0x86, 2, 3, ZeroPage)
	add("STX", 0x96, 2, 4, ZeroPageY)
	add("STX", 0x8E, 3, 4, Absolute)

	add("STY", 0x84, 2, 3, ZeroPage)
	add("STY", 0x94, 2, 4, ZeroPageX)
	add("STY", 0x8C, 3, 4, Absolute)

	// Transfers.
	add("TAX", 0xAA, 1, 2, Implied)
	add("TAY", 0xA8, 1, 2, Implied)
	add("TXA", 0x8A, 1, 2, Implied)
	add("TYA", 0x98, 1, 2, Implied)
	add("TSX", 0xBA, 1, 2, Implied)
	add("TXS", 0x9A, 1, 2, Implied)

	// Stack.
	add("PHA", 0x48, 1, 3, Implied)
	add("PHP", 0x08, 1, 3, Implied)
	add("PLA", 0x68, 1, 4, Implied)
	add("PLP", 0x28, 1, 4, Implied)

	// Arithmetic.
	add("ADC", 0x69, 2, 2, Immediate)
	add("ADC", 0x65, 2, 3, ZeroPage)
	add("ADC", 0x75, 2, 4, ZeroPageX)
	add("ADC", 0x6D, 3, 4, Absolute)
	add("ADC", 0x7D, 3, 4, AbsoluteX)
	add("ADC", 0x79, 3, 4, AbsoluteY)
	add("ADC", 0x61, 2, 6, IndexedIndirect)
	add("ADC", 0x71, 2, 5, IndirectIndexed)

	add("SBC", 0xE9, 2, 2, Immediate)
	add("SBC", 0xE5, 2, 3, ZeroPage)
	add("SBC", 0xF5, 2, 4, ZeroPageX)
	add("SBC", 0xED, 3, 4, Absolute)
	add("SBC", 0xFD, 3, 4, AbsoluteX)
	add("SBC", 0xF9, 3, 4, AbsoluteY)
	add("SBC", 0xE1, 2, 6, IndexedIndirect)
	add("SBC", 0xF1, 2, 5, IndirectIndexed)

	// Increments/decrements.
	add("INC", 0xE6, 2, 5, ZeroPage)
	add("INC", 0xF6, 2, 6, ZeroPageX)
	add("INC", 0xEE, 3, 6, Absolute)
	add("INC", 0xFE, 3, 7, AbsoluteX)
	add("INX", 0xE8, 1, 2, Implied)
	add("INY", 0xC8, 1, 2, Implied)
	add("DEC", 0xC6, 2, 5, ZeroPage)
	add("DEC", 0xD6, 2, 6, ZeroPageX)
	add("DEC", 0xCE, 3, 6, Absolute)
	add("DEC", 0xDE, 3, 7, AbsoluteX)
	add("DEX", 0xCA, 1, 2, Implied)
	add("DEY", 0x88, 1, 2, Implied)

	// Logic.
	add("AND", 0x29, 2, 2, Immediate)
	add("AND", 0x25, 2, 3, ZeroPage)
	add("AND", 0x35, 2, 4, ZeroPageX)
	add("AND", 0x2D, 3, 4, Absolute)
	add("AND", 0x3D, 3, 4, AbsoluteX)
	add("AND", 0x39, 3, 4, AbsoluteY)
	add("AND", 0x21, 2, 6, IndexedIndirect)
	add("AND", 0x31, 2, 5, IndirectIndexed)

	add("ORA", 0x09, 2, 2, Immediate)
	add("ORA", 0x05, 2, 3, ZeroPage)
	add("ORA", 0x15, 2, 4, ZeroPageX)
	add("ORA", 0x0D, 3, 4, Absolute)
	add("ORA", 0x1D, 3, 4, AbsoluteX)
	add("ORA", 0x19, 3, 4, AbsoluteY)
	add("ORA", 0x01, 2, 6, IndexedIndirect)
	add("ORA", 0x11, 2, 5, IndirectIndexed)

	add("EOR", 0x49, 2, 2, Immediate)
	add("EOR", 0x45, 2, 3, ZeroPage)
	add("EOR", 0x55, 2, 4, ZeroPageX)
	add("EOR", 0x4D, 3, 4, Absolute)
	add("EOR", 0x5D, 3, 4, AbsoluteX)
	add("EOR", 0x59, 3, 4, AbsoluteY)
	add("EOR", 0x41, 2, 6, IndexedIndirect)
	add("EOR", 0x51, 2, 5, IndirectIndexed)

	add("BIT", 0x24, 2, 3, ZeroPage)
	add("BIT", 0x2C, 3, 4, Absolute)

	// Shifts/rotates.
	add("ASL", 0x0A, 1, 2, Accumulator)
	add("ASL", 0x06, 2, 5, ZeroPage)
	add("ASL", 0x16, 2, 6, ZeroPageX)
	add("ASL", 0x0E, 3, 6, Absolute)
	add("ASL", 0x1E, 3, 7, AbsoluteX)

	add("LSR", 0x4A, 1, 2, Accumulator)
	add("LSR", 0x46, 2, 5, ZeroPage)
	add("LSR", 0x56, 2, 6, ZeroPageX)
	add("LSR", 0x4E, 3, 6, Absolute)
	add("LSR", 0x5E, 3, 7, AbsoluteX)

	add("ROL", 0x2A, 1, 2, Accumulator)
	add("ROL", 0x26, 2, 5, ZeroPage)
	add("ROL", 0x36, 2, 6, ZeroPageX)
	add("ROL", 0x2E, 3, 6, Absolute)
	add("ROL", 0x3E, 3, 7, AbsoluteX)

	add("ROR", 0x6A, 1, 2, Accumulator)
	add("ROR", 0x66, 2, 5, ZeroPage)
	add("ROR", 0x76, 2, 6, ZeroPageX)
	add("ROR", 0x6E, 3, 6, Absolute)
	add("ROR", 0x7E, 3, 7, AbsoluteX)

	// Compares.
	add("CMP", 0xC9, 2, 2, Immediate)
	add("CMP", 0xC5, 2, 3, ZeroPage)
	add("CMP", 0xD5, 2, 4, ZeroPageX)
	add("CMP", 0xCD, 3, 4, Absolute)
	add("CMP", 0xDD, 3, 4, AbsoluteX)
	add("CMP", 0xD9, 3, 4, AbsoluteY)
	add("CMP", 0xC1, 2, 6, IndexedIndirect)
	add("CMP", 0xD1, 2, 5, IndirectIndexed)

	add("CPX", 0xE0, 2, 2, Immediate)
	add("CPX", 0xE4, 2, 3, ZeroPage)
	add("CPX", 0xEC, 3, 4, Absolute)

	add("CPY", 0xC0, 2, 2, Immediate)
	add("CPY", 0xC4, 2, 3, ZeroPage)
	add("CPY", 0xCC, 3, 4, Absolute)

	// Branches (all relative, 2 bytes, base 2 cycles; taken/page-cross
	// penalties are applied in Step).
	add("BCC", 0x90, 2, 2, Relative)
	add("BCS", 0xB0, 2, 2, Relative)
	add("BEQ", 0xF0, 2, 2, Relative)
	add("BNE", 0xD0, 2, 2, Relative)
	add("BMI", 0x30, 2, 2, Relative)
	add("BPL", 0x10, 2, 2, Relative)
	add("BVC", 0x50, 2, 2, Relative)
	add("BVS", 0x70, 2, 2, Relative)

	// Jumps/calls.
	add("JMP", 0x4C, 3, 3, Absolute)
	add("JMP", 0x6C, 3, 5, Indirect)
	add("JSR", 0x20, 3, 6, Absolute)
	add("RTS", 0x60, 1, 6, Implied)
	add("RTI", 0x40, 1, 6, Implied)
	add("BRK", 0x00, 1, 7, Implied)

	// Flags.
	add("CLC", 0x18, 1, 2, Implied)
	add("SEC", 0x38, 1, 2, Implied)
	add("CLI", 0x58, 1, 2, Implied)
	add("SEI", 0x78, 1, 2, Implied)
	add("CLV", 0xB8, 1, 2, Implied)
	add("CLD", 0xD8, 1, 2, Implied)
	add("SED", 0xF8, 1, 2, Implied)

	add("NOP", 0xEA, 1, 2, Implied)

	// Illegal opcodes: treated as same-length/same-cycle NOPs per
	// spec Non-goals, not full illegal-opcode semantics.
	illegalNops := []struct {
		op     uint8
		bytes  int
		cycles int
		mode   AddressingMode
	}{
		{0x1A, 1, 2, Implied}, {0x3A, 1, 2, Implied}, {0x5A, 1, 2, Implied},
		{0x7A, 1, 2, Implied}, {0xDA, 1, 2, Implied}, {0xFA, 1, 2, Implied},
		{0x80, 2, 2, Immediate}, {0x82, 2, 2, Immediate}, {0x89, 2, 2, Immediate},
		{0xC2, 2, 2, Immediate}, {0xE2, 2, 2, Immediate},
		{0x04, 2, 3, ZeroPage}, {0x44, 2, 3, ZeroPage}, {0x64, 2, 3, ZeroPage},
		{0x14, 2, 4, ZeroPageX}, {0x34, 2, 4, ZeroPageX}, {0x54, 2, 4, ZeroPageX},
		{0x74, 2, 4, ZeroPageX}, {0xD4, 2, 4, ZeroPageX}, {0xF4, 2, 4, ZeroPageX},
		{0x0C, 3, 4, Absolute},
		{0x1C, 3, 4, AbsoluteX}, {0x3C, 3, 4, AbsoluteX}, {0x5C, 3, 4, AbsoluteX},
		{0x7C, 3, 4, AbsoluteX}, {0xDC, 3, 4, AbsoluteX}, {0xFC, 3, 4, AbsoluteX},
	}
	for _, n := range illegalNops {
		t[n.op] = &Instruction{Name: "NOP", Opcode: n.op, Bytes: n.bytes, Cycles: n.cycles, Mode: n.mode, Illegal: true}
	}

	return t
}
