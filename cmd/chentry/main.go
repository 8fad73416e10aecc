// Command chentry patches the entry address of a built kernel image's
// ELF header and verifies the image actually carries this kernel's
// multiboot2 handoff magic before doing so, so a build script can
// never silently patch the wrong binary. Adapted from the teacher's
// ELF entry-point patcher (itself a Go port of the original's chentry
// build tool): this version adds the handoff-magic scan, grounded in
// boot.Multiboot2Magic and boot.HandoffBlock.
package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"

	"boot"
)

// usage prints a small help message and terminates the program.
func usage(me string) {
	fmt.Printf("%s <filename> <addr>\n\nChange the ELF entry point of <filename> to <addr>, after verifying it carries this kernel's multiboot2 handoff magic\n", me)
	os.Exit(1)
}

// chkELF validates the ELF file header to ensure we are modifying the correct
// type of binary.  It exits the program if any of the checks fail.
func chkELF(eh *elf.FileHeader) {
	if eh.Ident[0] != 0x7f || string(eh.Ident[1:4]) != "ELF" {
		log.Fatal("not an elf")
	}
	if eh.Ident[elf.EI_DATA] != elf.ELFDATA2LSB {
		log.Fatal("not little-endian?")
	}
	if eh.Type != elf.ET_EXEC {
		log.Fatal("not an executable elf")
	}
	if eh.Machine != elf.EM_X86_64 {
		log.Fatal("not a 64 bit elf")
	}
}

// chkHandoffMagic scans every loadable PROGBITS section for this
// kernel's multiboot2 magic, little-endian encoded, the way a real
// bootloader's own header scan would locate it. It refuses to patch an
// image that doesn't carry the magic: this tool is a kernel-image
// build step, not a generic ELF editor.
func chkHandoffMagic(ef *elf.File) {
	var want [4]byte
	binary.LittleEndian.PutUint32(want[:], boot.Multiboot2Magic)

	for _, sec := range ef.Sections {
		if sec.Type != elf.SHT_PROGBITS || sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		if containsMagic(data, want) {
			return
		}
	}
	log.Fatalf("image carries no section with multiboot2 magic %#x; refusing to patch entry point", boot.Multiboot2Magic)
}

func containsMagic(data []byte, magic [4]byte) bool {
	for i := 0; i+4 <= len(data); i++ {
		if data[i] == magic[0] && data[i+1] == magic[1] && data[i+2] == magic[2] && data[i+3] == magic[3] {
			return true
		}
	}
	return false
}

// main drives the entry point update.  It expects a filename and an address
// value on the command line, verifies the handoff magic, and rewrites the
// ELF header's entry field.
func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	addr, err := parseAddr(os.Args[2])
	if err != nil {
		log.Fatal(err)
	}
	if addr>>32 != 0 {
		log.Fatal("entry is 64bit pointer; bootloader will perish")
	}
	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	chkELF(&ef.FileHeader)
	chkHandoffMagic(ef)

	fmt.Printf("using address 0x%x\n", addr)
	ef.FileHeader.Entry = addr

	if _, err := f.Seek(0, 0); err != nil {
		log.Fatal(err)
	}
	if err := binary.Write(f, binary.LittleEndian, &ef.FileHeader); err != nil {
		log.Fatal(err)
	}
}

// parseAddr converts the supplied string into a uint64 address.  The syntax
// matches that of C's strtoul with a base of 0, allowing both decimal and
// hexadecimal numbers.
func parseAddr(s string) (uint64, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return a, nil
}
