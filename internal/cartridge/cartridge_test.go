package cartridge

import (
	"bytes"
	"testing"
)

// buildINES assembles a minimal iNES file: header, optional trainer,
// PRG ROM, and CHR ROM.
func buildINES(prgBanks, chrBanks uint8, flags6, flags7 uint8, trainer bool, prgFill, chrFill uint8) []byte {
	var buf bytes.Buffer
	buf.WriteString("NES\x1A")
	buf.WriteByte(prgBanks)
	buf.WriteByte(chrBanks)
	buf.WriteByte(flags6)
	buf.WriteByte(flags7)
	buf.Write(make([]byte, 8)) // PRG RAM size, TV system, padding

	if trainer {
		buf.Write(make([]byte, 512))
	}

	prg := make([]byte, int(prgBanks)*16384)
	for i := range prg {
		prg[i] = prgFill
	}
	buf.Write(prg)

	if chrBanks > 0 {
		chr := make([]byte, int(chrBanks)*8192)
		for i := range chr {
			chr[i] = chrFill
		}
		buf.Write(chr)
	}

	return buf.Bytes()
}

func TestLoadFromReaderRejectsBadMagic(t *testing.T) {
	data := []byte("XXX\x1A\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00")
	_, err := LoadFromReader(bytes.NewReader(data))
	if err == nil {
		t.Fatal("expected an error for invalid iNES magic")
	}
}

func TestLoadFromReaderRejectsZeroPRG(t *testing.T) {
	data := buildINES(0, 1, 0, 0, false, 0, 0)
	_, err := LoadFromReader(bytes.NewReader(data))
	if err == nil {
		t.Fatal("expected an error for zero PRG ROM size")
	}
}

func TestLoadFromReaderParsesMirroringAndMapper(t *testing.T) {
	// flags6: bit0=vertical mirroring, high nibble=mapper low bits
	data := buildINES(1, 1, 0x01|0x10, 0x20, false, 0xAA, 0xBB)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.GetMirrorMode() != MirrorVertical {
		t.Fatalf("mirror mode = %v, want MirrorVertical", cart.GetMirrorMode())
	}
	if cart.mapperID != 0x21 {
		t.Fatalf("mapper ID = %d, want 33 (0x21 from flags6/7 nibbles)", cart.mapperID)
	}
}

func TestLoadFromReaderSkipsTrainer(t *testing.T) {
	data := buildINES(1, 0, 0x04, 0, true, 0x42, 0) // flags6 bit2 = trainer present
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cart.ReadPRG(0x8000); got != 0x42 {
		t.Fatalf("PRG ROM byte 0 = $%02X, want $42 (trainer should have been skipped)", got)
	}
}

func TestLoadFromReaderDetectsCHRRAMFromAllZeroCHR(t *testing.T) {
	data := buildINES(1, 1, 0, 0, false, 0, 0x00)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cart.hasCHRRAM {
		t.Fatal("all-zero CHR bank should be treated as CHR RAM")
	}
	cart.WriteCHR(0x0000, 0x77)
	if got := cart.ReadCHR(0x0000); got != 0x77 {
		t.Fatalf("CHR RAM write/read = $%02X, want $77", got)
	}
}

func TestNROM16KBMirroring(t *testing.T) {
	data := buildINES(1, 1, 0, 0, false, 0x37, 0x01)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	low := cart.ReadPRG(0x8000)
	high := cart.ReadPRG(0xC000)
	if low != 0x37 || high != 0x37 {
		t.Fatalf("16KB ROM should mirror: $8000=$%02X $C000=$%02X, want both $37", low, high)
	}
}

func TestNROM32KBIsDirectMapped(t *testing.T) {
	data := buildINES(2, 1, 0, 0, false, 0, 0)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cart.prgROM[0x0000] = 0x11 // first 16KB bank
	cart.prgROM[0x4000] = 0x22 // second 16KB bank
	if low, high := cart.ReadPRG(0x8000), cart.ReadPRG(0xC000); low != 0x11 || high != 0x22 {
		t.Fatalf("32KB ROM should be direct-mapped: $8000=$%02X $C000=$%02X, want $11 and $22", low, high)
	}
}

func TestSRAMReadWrite(t *testing.T) {
	data := buildINES(1, 1, 0, 0, false, 0, 0)
	cart, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cart.WritePRG(0x6100, 0x99)
	if got := cart.ReadPRG(0x6100); got != 0x99 {
		t.Fatalf("SRAM round-trip = $%02X, want $99", got)
	}
}
