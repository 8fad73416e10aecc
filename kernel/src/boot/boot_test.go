package boot

import (
	"strings"
	"testing"
)

func TestValidateHandoffRejectsBadMagic(t *testing.T) {
	hb := HandoffBlock{Magic: 0xdeadbeef, MemorySize: 1 << 20}
	if ValidateHandoff(hb) {
		t.Fatal("handoff with wrong magic accepted")
	}
}

func TestValidateHandoffRejectsTooLittleMemory(t *testing.T) {
	hb := HandoffBlock{Magic: Multiboot2Magic, MemorySize: 0}
	if ValidateHandoff(hb) {
		t.Fatal("handoff with zero memory accepted")
	}
}

func TestValidateHandoffAccepts(t *testing.T) {
	hb := HandoffBlock{Magic: Multiboot2Magic, MemorySize: 1 << 20}
	if !ValidateHandoff(hb) {
		t.Fatal("well-formed handoff rejected")
	}
}

func TestInitReachesComplete(t *testing.T) {
	Init(HandoffBlock{Magic: Multiboot2Magic, MemorySize: 1 << 24})
	if State() != StateComplete {
		t.Fatalf("state = %v, want complete", State())
	}
}

func TestBannerMentionsFrameCount(t *testing.T) {
	b := Banner()
	if b == "" {
		t.Fatal("empty banner")
	}
	if !strings.Contains(b, printer.Sprintf("%d", FrameCount)) {
		t.Fatalf("banner %q does not mention the frame count", b)
	}
}
