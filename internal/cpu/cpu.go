// Package cpu implements a cycle-counting 6502 interpreter: the
// fetch-decode-execute loop, the full legal opcode set, and the
// NMI/IRQ/BRK/RTI interrupt machinery an NES CPU core needs.
package cpu

import "fmt"

const (
	stackBase = 0x0100

	nFlagMask      = 0x80
	vFlagMask      = 0x40
	unusedFlagMask = 0x20
	bFlagMask      = 0x10
	dFlagMask      = 0x08
	iFlagMask      = 0x04
	zFlagMask      = 0x02
	cFlagMask      = 0x01

	nmiVector   = 0xFFFA
	resetVector = 0xFFFC
	irqVector   = 0xFFFE
)

// MemoryInterface is the address space a CPU is wired against. The
// bus package implements this by routing through RAM, PPU registers,
// and cartridge mappers.
type MemoryInterface interface {
	Read(addr uint16) uint8
	Write(addr uint16, value uint8)
}

// FaultError reports a CPU condition the core treats as fatal: an
// instruction fetch that decoded to no known opcode.
type FaultError struct {
	PC     uint16
	Opcode uint8
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("cpu: unimplemented opcode $%02X at $%04X", e.Opcode, e.PC)
}

// CPU holds the 6502 register file and drives instruction execution
// against a MemoryInterface.
type CPU struct {
	A, X, Y uint8
	SP      uint8
	PC      uint16

	C, Z, I, D, B, V, N bool

	memory       MemoryInterface
	instructions [256]*Instruction
	cycles       uint64

	nmiPending bool
	nmiLine    bool
	irqPending bool
}

// New builds a CPU wired against the given address space. Call Reset
// before running it.
func New(memory MemoryInterface) *CPU {
	c := &CPU{memory: memory, instructions: initInstructions()}
	c.Reset()
	return c
}

// Reset puts the CPU in its documented power-up/reset state: A, X, Y
// cleared, SP at $FD (not $FF — the source snapshot this spec
// corrects reset it to $FF), interrupt-disable set, and PC loaded
// from the reset vector.
func (c *CPU) Reset() {
	c.A, c.X, c.Y = 0, 0, 0
	c.SP = 0xFD
	c.C, c.Z, c.V, c.N = false, false, false, false
	c.D = false
	c.I = true
	c.B = false
	c.nmiPending, c.nmiLine, c.irqPending = false, false, false
	c.PC = c.readWord(resetVector)
	c.cycles += 7
}

// Cycles returns the total CPU cycle count since construction.
func (c *CPU) Cycles() uint64 { return c.cycles }

// SetNMI latches the PPU's NMI line. A request queues on the
// transition into asserted (true); it will not queue again until the
// line has gone low and come back up.
func (c *CPU) SetNMI(asserted bool) {
	if asserted && !c.nmiLine {
		c.nmiPending = true
	}
	c.nmiLine = asserted
}

// SetIRQ sets or clears the maskable interrupt line. Unlike NMI this
// is level-triggered: it stays pending as long as the line is
// asserted and the I flag is clear.
func (c *CPU) SetIRQ(asserted bool) {
	c.irqPending = asserted
}

// Step executes exactly one instruction (servicing a pending
// interrupt first if one is latched) and returns the number of CPU
// cycles it consumed.
func (c *CPU) Step() (int, error) {
	if c.nmiPending {
		c.nmiPending = false
		return c.handleInterrupt(nmiVector, false), nil
	}
	if c.irqPending && !c.I {
		return c.handleInterrupt(irqVector, false), nil
	}

	opcode := c.memory.Read(c.PC)
	inst := c.instructions[opcode]
	if inst == nil {
		return 0, &FaultError{PC: c.PC, Opcode: opcode}
	}

	startPC := c.PC
	addr, pageCrossed := c.operandAddress(inst, c.PC+1)
	c.PC += uint16(inst.Bytes)

	cycles := inst.Cycles
	taken := c.execute(inst, addr)
	if pageCrossed && pageCrossPenalty[inst.Opcode] {
		cycles++
	}
	if inst.Mode == Relative && taken {
		cycles++
		if pageOf(startPC+uint16(inst.Bytes)) != pageOf(addr) {
			cycles++
		}
	}

	c.cycles += uint64(cycles)
	return cycles, nil
}

func pageOf(addr uint16) uint16 { return addr & 0xFF00 }

// operandAddress resolves an instruction's effective address per its
// addressing mode. operandStart is the address of the first operand
// byte (PC+1 at call time). It returns the effective address and
// whether resolving it crossed a page boundary, for the page-cross
// cycle penalty.
func (c *CPU) operandAddress(inst *Instruction, operandStart uint16) (addr uint16, pageCrossed bool) {
	switch inst.Mode {
	case Implied, Accumulator:
		return 0, false
	case Immediate:
		return operandStart, false
	case ZeroPage:
		return uint16(c.memory.Read(operandStart)), false
	case ZeroPageX:
		return uint16(c.memory.Read(operandStart) + c.X), false
	case ZeroPageY:
		return uint16(c.memory.Read(operandStart) + c.Y), false
	case Relative:
		offset := int8(c.memory.Read(operandStart))
		base := operandStart + 1
		return uint16(int32(base) + int32(offset)), false
	case Absolute:
		return c.readWord(operandStart), false
	case AbsoluteX:
		base := c.readWord(operandStart)
		addr = base + uint16(c.X)
		return addr, pageOf(base) != pageOf(addr)
	case AbsoluteY:
		base := c.readWord(operandStart)
		addr = base + uint16(c.Y)
		return addr, pageOf(base) != pageOf(addr)
	case Indirect:
		ptr := c.readWord(operandStart)
		return c.readWordBuggy(ptr), false
	case IndexedIndirect:
		zp := c.memory.Read(operandStart) + c.X
		return c.readWordZeroPage(zp), false
	case IndirectIndexed:
		zp := c.memory.Read(operandStart)
		base := c.readWordZeroPage(zp)
		addr = base + uint16(c.Y)
		return addr, pageOf(base) != pageOf(addr)
	}
	return 0, false
}

func (c *CPU) readWord(addr uint16) uint16 {
	lo := uint16(c.memory.Read(addr))
	hi := uint16(c.memory.Read(addr + 1))
	return lo | hi<<8
}

// readWordBuggy reproduces the documented 6502 indirect-JMP bug: when
// the pointer's low byte is $FF, the high byte is fetched from the
// start of the same page rather than the next page. This is real
// hardware behavior the spec requires, not something to fix.
func (c *CPU) readWordBuggy(addr uint16) uint16 {
	lo := uint16(c.memory.Read(addr))
	var hiAddr uint16
	if addr&0x00FF == 0x00FF {
		hiAddr = addr & 0xFF00
	} else {
		hiAddr = addr + 1
	}
	hi := uint16(c.memory.Read(hiAddr))
	return lo | hi<<8
}

func (c *CPU) readWordZeroPage(zp uint8) uint16 {
	lo := uint16(c.memory.Read(uint16(zp)))
	hi := uint16(c.memory.Read(uint16(zp + 1)))
	return lo | hi<<8
}

func (c *CPU) push(v uint8) {
	c.memory.Write(stackBase+uint16(c.SP), v)
	c.SP--
}

func (c *CPU) pop() uint8 {
	c.SP++
	return c.memory.Read(stackBase + uint16(c.SP))
}

func (c *CPU) pushWord(v uint16) {
	c.push(uint8(v >> 8))
	c.push(uint8(v))
}

func (c *CPU) popWord() uint16 {
	lo := uint16(c.pop())
	hi := uint16(c.pop())
	return lo | hi<<8
}

// GetStatusByte packs the individual flags into the processor status
// byte. Bit 5 (unused) is always set.
func (c *CPU) GetStatusByte(brk bool) uint8 {
	var s uint8
	if c.C {
		s |= cFlagMask
	}
	if c.Z {
		s |= zFlagMask
	}
	if c.I {
		s |= iFlagMask
	}
	if c.D {
		s |= dFlagMask
	}
	if brk {
		s |= bFlagMask
	}
	s |= unusedFlagMask
	if c.V {
		s |= vFlagMask
	}
	if c.N {
		s |= nFlagMask
	}
	return s
}

// SetStatusByte unpacks a processor status byte into the individual
// flags. B is never stored as CPU state — it only exists as it's
// pushed to or pulled from the stack.
func (c *CPU) SetStatusByte(s uint8) {
	c.C = s&cFlagMask != 0
	c.Z = s&zFlagMask != 0
	c.I = s&iFlagMask != 0
	c.D = s&dFlagMask != 0
	c.V = s&vFlagMask != 0
	c.N = s&nFlagMask != 0
}

func (c *CPU) setZN(v uint8) {
	c.Z = v == 0
	c.N = v&nFlagMask != 0
}

func (c *CPU) handleInterrupt(vector uint16, brk bool) int {
	c.pushWord(c.PC)
	c.push(c.GetStatusByte(brk))
	c.I = true
	c.PC = c.readWord(vector)
	return 7
}

// execute dispatches one decoded instruction and returns whether a
// branch was taken (used by Step to add the taken-branch cycle
// penalty; meaningless for non-branch instructions).
func (c *CPU) execute(inst *Instruction, addr uint16) bool {
	switch inst.Name {
	case "LDA":
		c.A = c.memory.Read(addr)
		c.setZN(c.A)
	case "LDX":
		c.X = c.memory.Read(addr)
		c.setZN(c.X)
	case "LDY":
		c.Y = c.memory.Read(addr)
		c.setZN(c.Y)
	case "STA":
		c.memory.Write(addr, c.A)
	case "STX":
		c.memory.Write(addr, c.X)
	case "STY":
		c.memory.Write(addr, c.Y)
	case "TAX":
		c.X = c.A
		c.setZN(c.X)
	case "TAY":
		c.Y = c.A
		c.setZN(c.Y)
	case "TXA":
		c.A = c.X
		c.setZN(c.A)
	case "TYA":
		c.A = c.Y
		c.setZN(c.A)
	case "TSX":
		c.X = c.SP
		c.setZN(c.X)
	case "TXS":
		c.SP = c.X
	case "PHA":
		c.push(c.A)
	case "PHP":
		c.push(c.GetStatusByte(true))
	case "PLA":
		c.A = c.pop()
		c.setZN(c.A)
	case "PLP":
		c.SetStatusByte(c.pop())
	case "ADC":
		c.adc(c.memory.Read(addr))
	case "SBC":
		c.adc(^c.memory.Read(addr))
	case "AND":
		c.A &= c.memory.Read(addr)
		c.setZN(c.A)
	case "ORA":
		c.A |= c.memory.Read(addr)
		c.setZN(c.A)
	case "EOR":
		c.A ^= c.memory.Read(addr)
		c.setZN(c.A)
	case "BIT":
		v := c.memory.Read(addr)
		c.Z = c.A&v == 0
		c.V = v&vFlagMask != 0
		c.N = v&nFlagMask != 0
	case "ASL":
		c.shift(inst, addr, true, false)
	case "LSR":
		c.shift(inst, addr, false, false)
	case "ROL":
		c.shift(inst, addr, true, true)
	case "ROR":
		c.shift(inst, addr, false, true)
	case "CMP":
		c.compare(c.A, c.memory.Read(addr))
	case "CPX":
		c.compare(c.X, c.memory.Read(addr))
	case "CPY":
		c.compare(c.Y, c.memory.Read(addr))
	case "INC":
		v := c.memory.Read(addr) + 1
		c.memory.Write(addr, v)
		c.setZN(v)
	case "INX":
		c.X++
		c.setZN(c.X)
	case "INY":
		c.Y++
		c.setZN(c.Y)
	case "DEC":
		v := c.memory.Read(addr) - 1
		c.memory.Write(addr, v)
		c.setZN(v)
	case "DEX":
		c.X--
		c.setZN(c.X)
	case "DEY":
		c.Y--
		c.setZN(c.Y)
	case "JMP":
		c.PC = addr
	case "JSR":
		c.pushWord(c.PC - 1)
		c.PC = addr
	case "RTS":
		c.PC = c.popWord() + 1
	case "RTI":
		c.SetStatusByte(c.pop())
		c.PC = c.popWord()
	case "BRK":
		c.PC++
		c.handleInterrupt(irqVector, true)
	case "BCC":
		return c.branch(!c.C, addr)
	case "BCS":
		return c.branch(c.C, addr)
	case "BEQ":
		return c.branch(c.Z, addr)
	case "BNE":
		return c.branch(!c.Z, addr)
	case "BMI":
		return c.branch(c.N, addr)
	case "BPL":
		return c.branch(!c.N, addr)
	case "BVC":
		return c.branch(!c.V, addr)
	case "BVS":
		return c.branch(c.V, addr)
	case "CLC":
		c.C = false
	case "SEC":
		c.C = true
	case "CLI":
		c.I = false
	case "SEI":
		c.I = true
	case "CLV":
		c.V = false
	case "CLD":
		c.D = false
	case "SED":
		c.D = true
	case "NOP":
		// Illegal-opcode NOPs fall through here too: any operand read
		// for bus-cycle fidelity already happened in operandAddress.
	}
	return false
}

func (c *CPU) branch(condition bool, target uint16) bool {
	if condition {
		c.PC = target
		return true
	}
	return false
}

func (c *CPU) adc(operand uint8) {
	sum := uint16(c.A) + uint16(operand)
	if c.C {
		sum++
	}
	result := uint8(sum)
	c.C = sum > 0xFF
	c.V = (c.A^operand)&0x80 == 0 && (c.A^result)&0x80 != 0
	c.A = result
	c.setZN(c.A)
}

func (c *CPU) compare(reg, operand uint8) {
	c.C = reg >= operand
	c.setZN(reg - operand)
}

func (c *CPU) shift(inst *Instruction, addr uint16, left, rotate bool) {
	var v uint8
	if inst.Mode == Accumulator {
		v = c.A
	} else {
		v = c.memory.Read(addr)
	}

	var result uint8
	var carryOut bool
	if left {
		carryOut = v&0x80 != 0
		result = v << 1
		if rotate && c.C {
			result |= 0x01
		}
	} else {
		carryOut = v&0x01 != 0
		result = v >> 1
		if rotate && c.C {
			result |= 0x80
		}
	}

	c.C = carryOut
	c.setZN(result)

	if inst.Mode == Accumulator {
		c.A = result
	} else {
		c.memory.Write(addr, result)
	}
}
