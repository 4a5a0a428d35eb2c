// Package ppu implements the Picture Processing Unit for the NES.
package ppu

import (
	"gones/internal/memory"
)

// PPU represents the NES Picture Processing Unit (2C02)
type PPU struct {
	// PPU Registers (CPU-visible)
	ppuCtrl   uint8 // $2000 - PPUCTRL
	ppuMask   uint8 // $2001 - PPUMASK
	ppuStatus uint8 // $2002 - PPUSTATUS
	oamAddr   uint8 // $2003 - OAMADDR

	// Internal PPU State ("loopy" scroll registers)
	v uint16 // Current VRAM address (15 bits)
	t uint16 // Temporary VRAM address (15 bits) - address latch
	x uint8  // Fine X scroll (3 bits)
	w bool   // Write latch (toggles between first/second write; shared by PPUSCROLL/PPUADDR)

	// PPU Memory
	memory *memory.PPUMemory

	// Rendering State
	scanline   int // Current scanline (-1 to 260)
	cycle      int // Current cycle (0 to 340)
	frameCount uint64
	oddFrame   bool
	readBuffer uint8 // Buffered PPUDATA read register

	// Sprite Data
	oam              [256]uint8 // Object Attribute Memory
	secondaryOAM     [32]uint8  // Secondary OAM for current scanline
	spriteCount      uint8      // Number of sprites on current scanline
	sprite0Hit       bool       // Sprite 0 hit flag
	spriteOverflow   bool       // Sprite overflow flag
	lastEvalScanline int        // Last scanline for which sprites were evaluated
	spriteIndexes    [8]uint8   // Original sprite indices for secondary OAM entries

	// Frame Buffer
	frameBuffer [256 * 240]uint32 // RGB frame buffer

	// Callbacks
	nmiCallback           func()
	frameCompleteCallback func()

	// Rendering Control
	backgroundEnabled bool
	spritesEnabled    bool
	renderingEnabled  bool

	// Timing
	cycleCount uint64
}

// New creates a new PPU instance
func New() *PPU {
	return &PPU{
		scanline: -1, // Start at pre-render scanline
		cycle:    0,
	}
}

// Reset resets the PPU to initial state. VRAM content is not cleared,
// matching real hardware: only the register/timing state resets.
func (p *PPU) Reset() {
	p.ppuCtrl = 0
	p.ppuMask = 0
	p.ppuStatus = 0xA0 // VBL and sprite overflow flags set, sprite 0 hit clear
	p.oamAddr = 0

	p.v = 0
	p.t = 0
	p.x = 0
	p.w = false

	p.scanline = -1
	p.cycle = 0
	p.frameCount = 0
	p.oddFrame = false
	p.readBuffer = 0

	p.spriteCount = 0
	p.sprite0Hit = false
	p.spriteOverflow = false

	p.backgroundEnabled = false
	p.spritesEnabled = false
	p.renderingEnabled = false

	p.cycleCount = 0
	p.lastEvalScanline = -999

	for i := range p.oam {
		p.oam[i] = 0
	}
	for i := range p.frameBuffer {
		p.frameBuffer[i] = 0x000000
	}
}

// SetMemory sets the PPU memory interface
func (p *PPU) SetMemory(memory *memory.PPUMemory) {
	p.memory = memory
}

// SetNMICallback sets the NMI callback function
func (p *PPU) SetNMICallback(callback func()) {
	p.nmiCallback = callback
}

// SetFrameCompleteCallback sets the frame complete callback
func (p *PPU) SetFrameCompleteCallback(callback func()) {
	p.frameCompleteCallback = callback
}

// ReadRegister reads from a PPU register (CPU $2000-$2007)
func (p *PPU) ReadRegister(address uint16) uint8 {
	switch address {
	case 0x2000, 0x2001, 0x2003, 0x2005, 0x2006: // write-only registers
		return p.ppuStatus & 0x1F // open bus: last latched status bits
	case 0x2002: // PPUSTATUS
		status := p.ppuStatus
		p.ppuStatus &= 0x3F // Clear VBL flag (bit 7) and sprite 0 hit flag (bit 6)
		p.sprite0Hit = false
		p.w = false // the shared PPUADDR/PPUSCROLL latch resets on status read
		return status
	case 0x2004: // OAMDATA
		return p.oam[p.oamAddr]
	case 0x2007: // PPUDATA
		return p.readPPUData()
	default:
		return 0
	}
}

// WriteRegister writes to a PPU register (CPU $2000-$2007)
func (p *PPU) WriteRegister(address uint16, value uint8) {
	switch address {
	case 0x2000: // PPUCTRL
		p.ppuCtrl = value
		p.t = (p.t & 0xF3FF) | ((uint16(value) & 0x03) << 10) // Nametable select
		p.updateRenderingFlags()
		p.checkNMI()
	case 0x2001: // PPUMASK
		p.ppuMask = value
		p.updateRenderingFlags()
	case 0x2002: // PPUSTATUS - read only, writes ignored
	case 0x2003: // OAMADDR
		p.oamAddr = value
	case 0x2004: // OAMDATA
		p.oam[p.oamAddr] = value
		p.oamAddr++ // wraps at 256 by uint8 overflow
	case 0x2005: // PPUSCROLL
		p.writePPUScroll(value)
	case 0x2006: // PPUADDR
		p.writePPUAddr(value)
	case 0x2007: // PPUDATA
		p.writePPUData(value)
	}
}

// WriteOAM writes to OAM at the specified address (for DMA)
func (p *PPU) WriteOAM(address uint8, value uint8) {
	p.oam[address] = value
}

// Step advances the PPU by one dot (1/3 of a CPU cycle).
func (p *PPU) Step() {
	p.cycleCount++

	p.cycle++
	if p.cycle > 340 {
		p.cycle = 0
		p.scanline++

		if p.scanline > 260 {
			p.scanline = -1
			p.frameCount++
			p.oddFrame = !p.oddFrame

			if p.frameCompleteCallback != nil {
				p.frameCompleteCallback()
			}
		}
	}

	if p.scanline == 241 && p.cycle == 1 {
		p.ppuStatus |= 0x80 // set VBlank
		p.ppuStatus &= 0x9F // clear sprite 0 hit (bit 6) and sprite overflow (bit 5)
		p.sprite0Hit = false
		p.spriteOverflow = false

		if p.ppuCtrl&0x80 != 0 && p.nmiCallback != nil {
			p.nmiCallback()
		}
	}

	if p.scanline == -1 && p.cycle == 1 {
		p.ppuStatus &= 0x7F // clear VBlank at pre-render line
	}

	// Copy scroll position latched during vblank into the live scroll
	// register at the start of a visible frame, if rendering is on.
	if p.scanline == 0 && p.cycle == 0 && p.renderingEnabled {
		p.v = p.t
	}

	if p.scanline >= -1 && p.scanline < 240 {
		p.renderCycle()
	}
}

// renderCycle handles rendering for a single PPU dot.
func (p *PPU) renderCycle() {
	if p.scanline < -1 || p.scanline >= 240 {
		return
	}

	// Sprite evaluation happens once per visible scanline.
	if p.spritesEnabled && p.scanline >= 0 && p.scanline < 240 && p.cycle == 1 {
		if p.lastEvalScanline != p.scanline {
			p.evaluateSprites()
		}
	}

	// Pixel output spans dots 2-257 (dot 2 = pixel 0), matching the
	// hardware's sprite-0-hit detection window.
	if p.scanline < 0 || p.scanline >= 240 || p.cycle < 2 || p.cycle > 257 {
		return
	}
	if p.memory == nil {
		return
	}
	if !p.backgroundEnabled && !p.spritesEnabled {
		return
	}

	pixelX := p.cycle - 2
	pixelY := p.scanline

	var backgroundPixel SpritePixel = SpritePixel{transparent: true}
	var spritePixel SpritePixel = SpritePixel{transparent: true}

	if p.backgroundEnabled {
		backgroundPixel = p.renderBackgroundPixel(pixelX, pixelY)
	}
	if p.spritesEnabled {
		spritePixel = p.renderSpritePixel(pixelX, pixelY)
	}

	finalColor := p.compositeFinalPixel(backgroundPixel, spritePixel)
	p.frameBuffer[pixelY*256+pixelX] = finalColor
}

// SpritePixel represents a rendered pixel from background or sprite
type SpritePixel struct {
	colorIndex   uint8  // 0-3, where 0 is transparent
	paletteIndex uint8  // which palette (0-3 for sprites, 0-3 for background)
	rgbColor     uint32 // final RGB color
	spriteIndex  int8   // which sprite (0-63, or -1 for background)
	priority     bool   // sprite priority flag (false = in front, true = behind background)
	transparent  bool   // true if this pixel is transparent
}

// evaluateSprites finds sprites visible on the current scanline.
func (p *PPU) evaluateSprites() {
	p.lastEvalScanline = p.scanline

	p.spriteCount = 0
	p.spriteOverflow = false

	for i := range p.secondaryOAM {
		p.secondaryOAM[i] = 0xFF
	}
	for i := range p.spriteIndexes {
		p.spriteIndexes[i] = 0xFF
	}

	spriteHeight := 8
	if p.ppuCtrl&0x20 != 0 { // PPUCTRL bit 5
		spriteHeight = 16
	}

	spritesFound := 0
	for spriteIndex := 0; spriteIndex < 64; spriteIndex++ {
		oamIndex := spriteIndex * 4
		sY := int(p.oam[oamIndex])
		tileIndex := p.oam[oamIndex+1]
		attributes := p.oam[oamIndex+2]
		sX := int(p.oam[oamIndex+3])

		if p.scanline >= sY+1 && p.scanline < sY+1+spriteHeight {
			if spritesFound < 8 {
				secondaryIndex := spritesFound * 4
				p.secondaryOAM[secondaryIndex] = uint8(sY)
				p.secondaryOAM[secondaryIndex+1] = tileIndex
				p.secondaryOAM[secondaryIndex+2] = attributes
				p.secondaryOAM[secondaryIndex+3] = uint8(sX)
				p.spriteIndexes[spritesFound] = uint8(spriteIndex)
				spritesFound++
			} else {
				p.spriteOverflow = true
				p.ppuStatus |= 0x20
				break
			}
		}
	}

	p.spriteCount = uint8(spritesFound)
}

// renderBackgroundPixel renders a single background pixel using the
// current scroll registers (t/x), following nametable mirroring and
// attribute-table palette selection.
func (p *PPU) renderBackgroundPixel(pixelX, pixelY int) SpritePixel {
	scrollX := int(p.t&0x001F)<<3 + int(p.x)
	scrollY := int((p.t>>5)&0x001F)<<3 + int((p.t>>12)&0x0007)
	effectiveNametable := int((p.t >> 10) & 0x0003)

	worldX := pixelX + scrollX
	worldY := pixelY + scrollY

	finalNametable := effectiveNametable
	if worldX < 0 {
		finalNametable ^= 1
		worldX += 256
	}
	if worldX >= 256 {
		finalNametable ^= 1
		worldX -= 256
	}
	if worldY < 0 {
		finalNametable ^= 2
		worldY += 240
	}
	if worldY >= 240 {
		finalNametable ^= 2
		worldY -= 240
	}

	tileX := worldX >> 3
	tileY := worldY >> 3
	pixelInTileX := worldX & 7
	pixelInTileY := worldY & 7

	if tileX < 0 || tileX >= 32 || tileY < 0 || tileY >= 30 {
		return SpritePixel{transparent: true}
	}

	nametableAddr := 0x2000 | (uint16(finalNametable&3) << 10) | uint16(tileY*32+tileX)
	tileID := p.memory.Read(nametableAddr)

	attributeAddr := 0x23C0 | (uint16(finalNametable&3) << 10) | uint16((tileY>>2)*8+(tileX>>2))
	attributeByte := p.memory.Read(attributeAddr)

	blockID := ((tileX & 3) >> 1) + ((tileY & 3) >> 1) * 2
	paletteIndex := (attributeByte >> (blockID << 1)) & 0x03

	var patternTableBase uint16
	if p.ppuCtrl&0x10 != 0 {
		patternTableBase = 0x1000
	}

	patternAddr := patternTableBase + uint16(tileID)*16 + uint16(pixelInTileY)
	patternLow := p.memory.Read(patternAddr)
	patternHigh := p.memory.Read(patternAddr + 0x08)

	bitShift := 7 - pixelInTileX
	bit0 := (patternLow >> bitShift) & 1
	bit1 := (patternHigh >> bitShift) & 1
	colorIndex := (bit1 << 1) | bit0

	var paletteAddr uint16
	if colorIndex == 0 {
		paletteAddr = 0x3F00 // Universal background color
	} else {
		paletteAddr = 0x3F00 + uint16(paletteIndex)*4 + uint16(colorIndex)
	}

	nesColorIndex := p.memory.Read(paletteAddr)
	rgbColor := p.NESColorToRGB(nesColorIndex)

	return SpritePixel{
		colorIndex:   colorIndex,
		paletteIndex: paletteIndex,
		rgbColor:     rgbColor,
		spriteIndex:  -1,
		priority:     false,
		transparent:  colorIndex == 0,
	}
}

// renderSpritePixel renders a single sprite pixel, scanning secondary
// OAM in priority order (lower OAM index wins).
func (p *PPU) renderSpritePixel(pixelX, pixelY int) SpritePixel {
	for i := 0; i < int(p.spriteCount); i++ {
		secondaryIndex := i * 4

		sY := int(p.secondaryOAM[secondaryIndex])
		tileIndex := p.secondaryOAM[secondaryIndex+1]
		attributes := p.secondaryOAM[secondaryIndex+2]
		sX := int(p.secondaryOAM[secondaryIndex+3])

		spriteHeight := 8
		if p.ppuCtrl&0x20 != 0 {
			spriteHeight = 16
		}

		if pixelX >= sX && pixelX < sX+8 &&
			pixelY >= sY+1 && pixelY < sY+1+spriteHeight {
			spritePixelX := pixelX - sX
			spritePixelY := pixelY - (sY + 1)

			if spritePixelX < 0 || spritePixelX >= 8 ||
				spritePixelY < 0 || spritePixelY >= spriteHeight {
				continue
			}

			if attributes&0x40 != 0 { // Horizontal flip
				spritePixelX = 7 - spritePixelX
			}
			if attributes&0x80 != 0 { // Vertical flip
				spritePixelY = spriteHeight - 1 - spritePixelY
			}
			if spritePixelX < 0 || spritePixelX >= 8 ||
				spritePixelY < 0 || spritePixelY >= spriteHeight {
				continue
			}

			colorIndex := p.getSpritePixelColor(tileIndex, spritePixelX, spritePixelY)

			if colorIndex != 0 {
				if p.isOriginalSprite0(i) && !p.sprite0Hit {
					p.checkSprite0Hit(pixelX, pixelY, colorIndex)
				}

				paletteIndex := attributes & 0x03
				paletteAddr := 0x3F10 + uint16(paletteIndex)*4 + uint16(colorIndex)
				nesColorIndex := p.memory.Read(paletteAddr)
				rgbColor := p.NESColorToRGB(nesColorIndex)

				return SpritePixel{
					colorIndex:   colorIndex,
					paletteIndex: paletteIndex,
					rgbColor:     rgbColor,
					spriteIndex:  int8(i),
					priority:     (attributes & 0x20) != 0,
					transparent:  false,
				}
			}
		}
	}

	return SpritePixel{colorIndex: 0, rgbColor: 0, spriteIndex: -1, transparent: true}
}

// getSpritePixelColor gets the color index for a sprite pixel.
func (p *PPU) getSpritePixelColor(tileIndex uint8, pixelX, pixelY int) uint8 {
	if pixelX < 0 || pixelX >= 8 || pixelY < 0 || pixelY >= 16 {
		return 0
	}

	var patternTableBase uint16
	if p.ppuCtrl&0x20 == 0 { // 8x8 sprites
		if p.ppuCtrl&0x08 != 0 {
			patternTableBase = 0x1000
		}
	} else { // 8x16 sprites: tile index bit 0 selects pattern table
		if tileIndex&0x01 != 0 {
			patternTableBase = 0x1000
		}
		tileIndex &= 0xFE
		if pixelY >= 8 {
			tileIndex++
			pixelY -= 8
		}
	}

	patternAddr := patternTableBase + uint16(tileIndex)*16 + uint16(pixelY)
	patternLow := p.memory.Read(patternAddr)
	patternHigh := p.memory.Read(patternAddr + 0x08)

	bitShift := 7 - pixelX
	bit0 := (patternLow >> bitShift) & 1
	bit1 := (patternHigh >> bitShift) & 1
	return (bit1 << 1) | bit0
}

// isOriginalSprite0 reports whether secondary-OAM slot i holds sprite 0.
func (p *PPU) isOriginalSprite0(secondaryOAMIndex int) bool {
	if secondaryOAMIndex >= int(p.spriteCount) {
		return false
	}
	return p.spriteIndexes[secondaryOAMIndex] == 0
}

// checkSprite0Hit detects whether the current dot intersects sprite
// 0's bounding box while both background and sprites are enabled,
// neither pixel is transparent, and no prior hit has latched this
// frame.
func (p *PPU) checkSprite0Hit(pixelX, pixelY int, spriteColorIndex uint8) {
	if p.sprite0Hit {
		return
	}
	if !p.backgroundEnabled || !p.spritesEnabled {
		return
	}
	if pixelX < 0 || pixelX >= 256 || pixelY < 0 || pixelY >= 240 {
		return
	}
	// Hardware excludes the rightmost framebuffer column from sprite 0 hit.
	if pixelX >= 255 {
		return
	}
	// PPUMASK bits 1/2 clip background/sprites in the leftmost 8 pixels.
	if pixelX < 8 && (p.ppuMask&0x02 == 0 || p.ppuMask&0x04 == 0) {
		return
	}
	if spriteColorIndex == 0 {
		return
	}

	backgroundPixel := p.renderBackgroundPixel(pixelX, pixelY)
	if !backgroundPixel.transparent && backgroundPixel.colorIndex != 0 {
		p.sprite0Hit = true
		p.ppuStatus |= 0x40
	}
}

// compositeFinalPixel combines background and sprite pixels according to priority
func (p *PPU) compositeFinalPixel(background, sprite SpritePixel) uint32 {
	if sprite.transparent {
		if background.transparent {
			backdropColor := p.memory.Read(0x3F00)
			return p.NESColorToRGB(backdropColor)
		}
		return background.rgbColor
	}

	if background.transparent {
		return sprite.rgbColor
	}

	if sprite.priority && p.backgroundEnabled {
		return background.rgbColor
	}
	return sprite.rgbColor
}

// updateRenderingFlags updates internal rendering state based on PPUMASK
func (p *PPU) updateRenderingFlags() {
	p.backgroundEnabled = (p.ppuMask & 0x08) != 0
	p.spritesEnabled = (p.ppuMask & 0x10) != 0
	p.renderingEnabled = p.backgroundEnabled || p.spritesEnabled
}

// checkNMI fires an immediate NMI when NMI-enable is raised while
// VBlank is already latched.
func (p *PPU) checkNMI() {
	if (p.ppuCtrl&0x80 != 0) && (p.ppuStatus&0x80 != 0) && p.nmiCallback != nil {
		p.nmiCallback()
	}
}

// writePPUScroll handles writes to PPUSCROLL ($2005), alternating
// X/Y through the shared write latch.
func (p *PPU) writePPUScroll(value uint8) {
	if !p.w {
		p.t = (p.t & 0xFFE0) | (uint16(value) >> 3) // Coarse X
		p.x = value & 0x07                          // Fine X
		p.w = true
	} else {
		p.t = (p.t & 0x8FFF) | ((uint16(value) & 0x07) << 12) // Fine Y
		p.t = (p.t & 0xFC1F) | ((uint16(value) & 0xF8) << 2)  // Coarse Y
		p.w = false
	}
}

// writePPUAddr handles writes to PPUADDR ($2006), alternating
// high/low through the shared write latch. The address is masked to
// 14 bits and committed to v after the second write.
func (p *PPU) writePPUAddr(value uint8) {
	if !p.w {
		p.t = (p.t & 0x80FF) | ((uint16(value) & 0x3F) << 8)
		p.w = true
	} else {
		p.t = (p.t & 0xFF00) | uint16(value)
		p.v = p.t
		p.w = false
	}
}

// readPPUData handles reads from PPUDATA ($2007). Reads below the
// palette range are buffered: the previously latched byte is
// returned and the buffer refilled from the new address. Palette
// reads bypass the buffer but still refill it from the underlying
// nametable byte.
func (p *PPU) readPPUData() uint8 {
	var data uint8

	if p.memory == nil {
		data = 0
	} else if p.v >= 0x3F00 {
		data = p.memory.Read(p.v)
		p.readBuffer = p.memory.Read(p.v & 0x2FFF)
	} else {
		data = p.readBuffer
		p.readBuffer = p.memory.Read(p.v)
	}

	p.incrementVRAMAddr()
	return data
}

// writePPUData handles writes to PPUDATA ($2007)
func (p *PPU) writePPUData(value uint8) {
	if p.memory != nil {
		p.memory.Write(p.v, value)
	}
	p.incrementVRAMAddr()
}

func (p *PPU) incrementVRAMAddr() {
	if p.ppuCtrl&0x04 != 0 {
		p.v += 32 // vertical (down) increment
	} else {
		p.v += 1 // horizontal (across) increment
	}
	p.v &= 0x3FFF
}

// GetFrameBuffer returns the current frame buffer
func (p *PPU) GetFrameBuffer() [256 * 240]uint32 {
	return p.frameBuffer
}

// GetFrameCount returns the current frame count
func (p *PPU) GetFrameCount() uint64 {
	return p.frameCount
}

// GetScanline returns the current scanline
func (p *PPU) GetScanline() int {
	return p.scanline
}

// GetCycle returns the current cycle
func (p *PPU) GetCycle() int {
	return p.cycle
}

// IsRenderingEnabled returns true if rendering is enabled
func (p *PPU) IsRenderingEnabled() bool {
	return p.renderingEnabled
}

// IsVBlank returns true if currently in vertical blank
func (p *PPU) IsVBlank() bool {
	return (p.ppuStatus & 0x80) != 0
}

// GetCycleCount returns the total PPU cycle count
func (p *PPU) GetCycleCount() uint64 {
	return p.cycleCount
}

// NES 2C02 Color Palette (NTSC)
var nesColorPalette = [64]uint32{
	// Row 0 (0x00-0x0F)
	0xFF666666, 0xFF002A88, 0xFF1412A7, 0xFF3B00A4, 0xFF5C007E, 0xFF6E0040, 0xFF6C0600, 0xFF561D00,
	0xFF333500, 0xFF0B4800, 0xFF005200, 0xFF004F08, 0xFF00404D, 0xFF000000, 0xFF000000, 0xFF000000,
	// Row 1 (0x10-0x1F)
	0xFFADADAD, 0xFF155FD9, 0xFF4240FF, 0xFF7527FE, 0xFFA01ACC, 0xFFB71E7B, 0xFFB53120, 0xFF994E00,
	0xFF6B6D00, 0xFF388700, 0xFF0C9300, 0xFF008F32, 0xFF007C8D, 0xFF000000, 0xFF000000, 0xFF000000,
	// Row 2 (0x20-0x2F)
	0xFFFFFEFF, 0xFF64B0FF, 0xFF9290FF, 0xFFC676FF, 0xFFF36AFF, 0xFFFE6ECC, 0xFFFE8170, 0xFFEA9E22,
	0xFFBCBE00, 0xFF88D800, 0xFF5CE430, 0xFF45E082, 0xFF48CDDE, 0xFF4F4F4F, 0xFF000000, 0xFF000000,
	// Row 3 (0x30-0x3F)
	0xFFFFFEFF, 0xFFC0DFFF, 0xFFD3D2FF, 0xFFE8C8FF, 0xFFFBC2FF, 0xFFFEC4EA, 0xFFFECCC5, 0xFFF7D8A5,
	0xFFE4E594, 0xFFCFF29B, 0xFFBEFBB3, 0xFFB8F8D8, 0xFFB8F8F8, 0xFF000000, 0xFF000000, 0xFF000000,
}

// NESColorToRGB converts a NES color index to RGB value
func NESColorToRGB(colorIndex uint8) uint32 {
	if colorIndex >= 64 {
		return 0x000000
	}
	return nesColorPalette[colorIndex] & 0x00FFFFFF
}

// NESColorToRGB converts a NES color index to RGB value (PPU method)
func (p *PPU) NESColorToRGB(colorIndex uint8) uint32 {
	return NESColorToRGB(colorIndex)
}

// ClearFrameBuffer clears the frame buffer to a specific color
func (p *PPU) ClearFrameBuffer(color uint32) {
	for i := range p.frameBuffer {
		p.frameBuffer[i] = color
	}
}
