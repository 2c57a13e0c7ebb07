package blocks

import (
	"testing"

	"github.com/memcore-dev/memcore/decoder"
)

// seq builds the seven-instruction sequence from the basic-block scenario:
// three plain instructions (indices 0-2), then a conditional jump (index 3)
// to index 6, then two more instructions, then the jump target. Each instruction is 2
// bytes wide and addressed sequentially from 0x1000.
func seq() []decoder.Instruction {
	addr := func(i int) uint64 { return 0x1000 + uint64(i)*2 }

	insts := make([]decoder.Instruction, 7)
	for i := range insts {
		insts[i] = decoder.Instruction{
			Address:  addr(i),
			Length:   2,
			Category: decoder.Default,
		}
	}
	insts[3].Category = decoder.ConditionalJump
	insts[3].HasBranchTarget = true
	insts[3].BranchTarget = addr(6)
	return insts
}

func TestBuildProducesExpectedBlockCount(t *testing.T) {
	bs := Build(seq())
	if len(bs) != 3 {
		t.Fatalf("Build() produced %d blocks, want 3", len(bs))
	}
}

func TestBuildLeaderBoundaries(t *testing.T) {
	bs := Build(seq())

	b0, ok := bs[0x1000]
	if !ok || len(b0.Instructions) != 4 {
		t.Fatalf("block at 0x1000: ok=%v len=%d, want ok=true len=4", ok, len(b0.Instructions))
	}
	b1, ok := bs[0x1008]
	if !ok || len(b1.Instructions) != 2 {
		t.Fatalf("block at 0x1008: ok=%v len=%d, want ok=true len=2", ok, len(b1.Instructions))
	}
	b2, ok := bs[0x100C]
	if !ok || len(b2.Instructions) != 1 {
		t.Fatalf("block at 0x100C: ok=%v len=%d, want ok=true len=1", ok, len(b2.Instructions))
	}
}

func TestBuildSuccessorsFromConditionalJump(t *testing.T) {
	bs := Build(seq())
	b0 := bs[0x1000]

	if _, ok := b0.Successors[0x100C]; !ok {
		t.Error("block 0x1000 missing taken-branch successor 0x100C")
	}
	if _, ok := b0.Successors[0x1008]; !ok {
		t.Error("block 0x1000 missing fall-through successor 0x1008")
	}
	if len(b0.Successors) != 2 {
		t.Errorf("block 0x1000 has %d successors, want 2", len(b0.Successors))
	}
}

func TestBuildSuccessorsFromFallThroughOnly(t *testing.T) {
	bs := Build(seq())
	b1 := bs[0x1008]

	if _, ok := b1.Successors[0x100C]; !ok {
		t.Error("block 0x1008 missing fall-through successor 0x100C")
	}
	if len(b1.Successors) != 1 {
		t.Errorf("block 0x1008 has %d successors, want 1", len(b1.Successors))
	}
}

func TestBuildLastBlockHasNoFallThrough(t *testing.T) {
	bs := Build(seq())
	b2 := bs[0x100C]
	if len(b2.Successors) != 0 {
		t.Errorf("final block has %d successors, want 0", len(b2.Successors))
	}
}

// TestBuildPredecessorsAreSymmetric validates invariant 4: for every
// successor s of b, b is in s's predecessors.
func TestBuildPredecessorsAreSymmetric(t *testing.T) {
	bs := Build(seq())
	for _, b := range bs {
		for succ := range b.Successors {
			s, ok := bs[succ]
			if !ok {
				continue
			}
			if _, ok := s.Predecessors[b.Start]; !ok {
				t.Errorf("block %#x has successor %#x, but %#x is missing %#x as a predecessor", b.Start, succ, succ, b.Start)
			}
		}
	}
}

func TestBuildMergeTargetHasTwoPredecessors(t *testing.T) {
	bs := Build(seq())
	b2 := bs[0x100C]
	if len(b2.Predecessors) != 2 {
		t.Fatalf("merge block has %d predecessors, want 2", len(b2.Predecessors))
	}
}

func TestBuildEmptyInput(t *testing.T) {
	bs := Build(nil)
	if len(bs) != 0 {
		t.Fatalf("Build(nil) produced %d blocks, want 0", len(bs))
	}
}

func TestBuildReturnHasNoSuccessors(t *testing.T) {
	insts := []decoder.Instruction{
		{Address: 0x2000, Length: 1, Category: decoder.Default},
		{Address: 0x2001, Length: 1, Category: decoder.Return},
	}
	bs := Build(insts)
	b := bs[0x2000]
	if len(b.Instructions) != 2 {
		t.Fatalf("expected a single merged block of 2 instructions, got %d", len(b.Instructions))
	}
	if len(b.Successors) != 0 {
		t.Errorf("block ending in Return has %d successors, want 0", len(b.Successors))
	}
}

func TestBuildUnconditionalJumpHasNoFallThrough(t *testing.T) {
	insts := []decoder.Instruction{
		{Address: 0x3000, Length: 2, Category: decoder.Jump, HasBranchTarget: true, BranchTarget: 0x3010},
		{Address: 0x3002, Length: 2, Category: decoder.Default},
	}
	bs := Build(insts)
	b := bs[0x3000]
	if _, ok := b.Successors[0x3002]; ok {
		t.Error("unconditional jump block has a fall-through successor, want none")
	}
	if _, ok := b.Successors[0x3010]; !ok {
		t.Error("unconditional jump block missing its resolved target as successor")
	}
}
