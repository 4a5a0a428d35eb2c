// Package bus implements the system bus and clock arbiter for the NES:
// it routes CPU loads/stores to RAM, the PPU, and the cartridge, and
// advances the PPU by 3 dots per CPU cycle, forwarding NMIs and
// frame-complete signals between the two cores.
package bus

import (
	"gones/internal/apu"
	"gones/internal/cartridge"
	"gones/internal/cpu"
	"gones/internal/input"
	"gones/internal/memory"
	"gones/internal/ppu"
)

// Bus connects the CPU, PPU, APU, cartridge, and input system and
// drives the CPU<->PPU timing relationship: one CPU cycle advances
// the PPU by exactly three dots.
type Bus struct {
	CPU    *cpu.CPU
	PPU    *ppu.PPU
	APU    *apu.APU
	Memory *memory.Memory
	Input  *input.InputState

	totalCycles uint64
	cpuCycles   uint64
	ppuCycles   uint64
	frameCount  uint64

	dmaSuspendCycles uint64
	dmaInProgress    bool
}

// New creates a new system bus with all components wired together.
func New() *Bus {
	bus := &Bus{
		PPU:   ppu.New(),
		APU:   apu.New(),
		Input: input.NewInputState(),
	}

	bus.Memory = memory.New(bus.PPU, bus.APU, nil) // cartridge attached later via LoadCartridge
	bus.Memory.SetInputSystem(bus.Input)
	bus.CPU = cpu.New(bus.Memory)

	bus.PPU.SetNMICallback(bus.triggerNMI)
	bus.PPU.SetFrameCompleteCallback(bus.handleFrameComplete)
	bus.Memory.SetDMACallback(bus.TriggerOAMDMA)

	bus.Reset()
	return bus
}

// Reset resets all components to their initial state.
func (b *Bus) Reset() {
	b.CPU.Reset()
	b.PPU.Reset()
	b.APU.Reset()
	b.Input.Reset()

	b.totalCycles = 0
	b.cpuCycles = 0
	b.ppuCycles = 0
	b.frameCount = 0
	b.dmaSuspendCycles = 0
	b.dmaInProgress = false
}

// triggerNMI is invoked by the PPU at VBlank entry (or immediately on
// a PPUCTRL write that raises NMI-enable while VBlank is already
// latched). It produces a rising edge the CPU latches on its next
// Step and immediately lowers the line again so a subsequent VBlank
// can re-trigger.
func (b *Bus) triggerNMI() {
	b.CPU.SetNMI(true)
	b.CPU.SetNMI(false)
}

// handleFrameComplete is called by the PPU when a frame completes
// (scanline wraps past 260 back to the pre-render line, -1).
func (b *Bus) handleFrameComplete() {
	b.frameCount = b.PPU.GetFrameCount()
}

// Step executes one CPU instruction (or one DMA stall cycle) and
// advances the PPU by exactly 3 dots per CPU cycle consumed. It
// returns the number of CPU cycles consumed and any fatal CPU fault
// (an unimplemented opcode).
func (b *Bus) Step() (uint64, error) {
	var cpuCycles uint64
	var err error

	if b.dmaSuspendCycles > 0 {
		cpuCycles = 1
		b.dmaSuspendCycles--
		if b.dmaSuspendCycles == 0 {
			b.dmaInProgress = false
		}
	} else {
		var c int
		c, err = b.CPU.Step()
		cpuCycles = uint64(c)
	}

	ppuDots := cpuCycles * 3
	for i := uint64(0); i < ppuDots; i++ {
		b.PPU.Step()
		b.ppuCycles++
	}

	for i := uint64(0); i < cpuCycles; i++ {
		b.APU.Step()
	}

	b.cpuCycles += cpuCycles
	b.totalCycles += cpuCycles

	return cpuCycles, err
}

// TriggerOAMDMA initiates an OAM DMA transfer: 256 bytes are copied
// from the page starting at sourcePage<<8 into PPU OAM, stalling the
// CPU for 513 cycles (514 if the transfer starts on an odd CPU
// cycle), while the PPU continues ticking.
func (b *Bus) TriggerOAMDMA(sourcePage uint8) {
	if b.dmaInProgress {
		return
	}

	dmaCycles := uint64(513)
	if b.cpuCycles%2 == 1 {
		dmaCycles = 514
	}

	b.dmaInProgress = true
	b.dmaSuspendCycles = dmaCycles

	sourceAddress := uint16(sourcePage) << 8
	for i := 0; i < 256; i++ {
		data := b.Memory.Read(sourceAddress + uint16(i))
		b.PPU.WriteOAM(uint8(i), data)
	}
}

// LoadCartridge loads a cartridge into the system, rebuilding the
// memory map and PPU VRAM mirroring for its mirroring mode, then
// resets the CPU to read the new reset vector.
func (b *Bus) LoadCartridge(cart memory.CartridgeInterface) {
	b.Memory = memory.New(b.PPU, b.APU, cart)
	b.Memory.SetInputSystem(b.Input)
	b.CPU = cpu.New(b.Memory)

	mirrorMode := memory.MirrorHorizontal
	if c, ok := cart.(*cartridge.Cartridge); ok {
		switch c.GetMirrorMode() {
		case cartridge.MirrorHorizontal:
			mirrorMode = memory.MirrorHorizontal
		case cartridge.MirrorVertical:
			mirrorMode = memory.MirrorVertical
		case cartridge.MirrorSingleScreen0:
			mirrorMode = memory.MirrorSingleScreen0
		case cartridge.MirrorSingleScreen1:
			mirrorMode = memory.MirrorSingleScreen1
		case cartridge.MirrorFourScreen:
			mirrorMode = memory.MirrorFourScreen
		}
	}

	ppuMemory := memory.NewPPUMemory(cart, mirrorMode)
	b.PPU.SetMemory(ppuMemory)

	b.PPU.SetNMICallback(b.triggerNMI)
	b.Memory.SetDMACallback(b.TriggerOAMDMA)

	b.CPU.Reset()
}

// Run runs the emulator for a specified number of frames.
func (b *Bus) Run(frames int) error {
	targetFrames := b.frameCount + uint64(frames)
	for b.frameCount < targetFrames {
		if _, err := b.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunCycles runs the emulator for a specified number of CPU cycles.
func (b *Bus) RunCycles(cycles uint64) error {
	targetCycles := b.cpuCycles + cycles
	for b.cpuCycles < targetCycles {
		if _, err := b.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Frame executes one complete NTSC frame's worth of CPU cycles
// (29,781 CPU cycles = 89,343 PPU dots; one PPU frame is 89,342 dots).
func (b *Bus) Frame() error {
	targetCycles := b.cpuCycles + 29781
	for b.cpuCycles < targetCycles {
		if _, err := b.Step(); err != nil {
			return err
		}
	}
	return nil
}

// GetFrameBuffer returns the current PPU frame buffer.
func (b *Bus) GetFrameBuffer() []uint32 {
	frameBuffer := b.PPU.GetFrameBuffer()
	return frameBuffer[:]
}

// GetAudioSamples returns the current audio samples from the APU.
func (b *Bus) GetAudioSamples() []float32 {
	return b.APU.GetSamples()
}

// SetAudioSampleRate sets the target audio sample rate for the APU.
func (b *Bus) SetAudioSampleRate(rate int) {
	b.APU.SetSampleRate(rate)
}

// GetCycleCount returns the current CPU cycle count.
func (b *Bus) GetCycleCount() uint64 {
	return b.cpuCycles
}

// GetFrameCount returns the current frame count.
func (b *Bus) GetFrameCount() uint64 {
	return b.frameCount
}

// IsDMAInProgress returns whether DMA is currently in progress.
func (b *Bus) IsDMAInProgress() bool {
	return b.dmaInProgress
}

// isRenderingEnabled checks if PPU rendering is enabled via PPUMASK.
func (b *Bus) isRenderingEnabled() bool {
	return b.PPU.IsRenderingEnabled()
}

// SetControllerButton sets the state of a single controller button.
func (b *Bus) SetControllerButton(controller int, button input.Button, pressed bool) {
	switch controller {
	case 0, 1:
		b.Input.Controller1.SetButton(button, pressed)
	case 2:
		b.Input.Controller2.SetButton(button, pressed)
	}
}

// SetControllerButtons sets all button states for a controller at once.
func (b *Bus) SetControllerButtons(controller int, buttons [8]bool) {
	switch controller {
	case 0, 1:
		b.Input.SetButtons1(buttons)
	case 2:
		b.Input.SetButtons2(buttons)
	}
}

// GetInputState returns the input state for direct access.
func (b *Bus) GetInputState() *input.InputState {
	return b.Input
}

// GetCPUState returns a snapshot of the CPU registers and flags.
func (b *Bus) GetCPUState() CPUState {
	return CPUState{
		PC:     b.CPU.PC,
		A:      b.CPU.A,
		X:      b.CPU.X,
		Y:      b.CPU.Y,
		SP:     b.CPU.SP,
		Cycles: b.cpuCycles,
		Flags: CPUFlags{
			N: b.CPU.N,
			V: b.CPU.V,
			B: b.CPU.B,
			D: b.CPU.D,
			I: b.CPU.I,
			Z: b.CPU.Z,
			C: b.CPU.C,
		},
	}
}

// CPUState is a CPU register/flag snapshot for tests and tooling.
type CPUState struct {
	PC      uint16
	A, X, Y uint8
	SP      uint8
	Cycles  uint64
	Flags   CPUFlags
}

// CPUFlags mirrors the 6502 status flags.
type CPUFlags struct {
	N, V, B, D, I, Z, C bool
}

// GetPPUState returns a PPU timing/status snapshot for tests and tooling.
func (b *Bus) GetPPUState() PPUState {
	return PPUState{
		Scanline:    b.PPU.GetScanline(),
		Cycle:       b.PPU.GetCycle(),
		FrameCount:  b.frameCount,
		VBlankFlag:  b.PPU.IsVBlank(),
		RenderingOn: b.isRenderingEnabled(),
	}
}

// PPUState is a PPU snapshot for tests and tooling.
type PPUState struct {
	Scanline    int
	Cycle       int
	FrameCount  uint64
	VBlankFlag  bool
	RenderingOn bool
}
