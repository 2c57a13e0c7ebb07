// Package blocks groups a decoded instruction sequence into leader-delimited
// basic blocks with successor/predecessor edges, grounded on
// analysis/disassembler.h's IdentifyBasicBlocks.
package blocks

import (
	"sort"

	"github.com/memcore-dev/memcore/decoder"
)

// BasicBlock is a maximal contiguous instruction run with a single entry
// and a single exit. Successors/Predecessors are sets of block start
// addresses, not pointers — a record map keyed by address stays acyclic in
// the ownership sense the way FunctionRecord's callee/caller sets do.
type BasicBlock struct {
	Start        uint64
	End          uint64
	Instructions []decoder.Instruction
	Successors   map[uint64]struct{}
	Predecessors map[uint64]struct{}
}

// Build groups an ordered, contiguous instruction sequence into basic
// blocks. insts must already cover a contiguous address range (as Decode
// guarantees); Build does not re-derive control flow from bytes.
func Build(insts []decoder.Instruction) map[uint64]*BasicBlock {
	if len(insts) == 0 {
		return map[uint64]*BasicBlock{}
	}

	leaders := identifyLeaders(insts)
	blocks := assignBlocks(insts, leaders)
	recordSuccessors(blocks, insts, leaders)
	recordPredecessors(blocks)
	return blocks
}

func isBranchLike(c decoder.Category) bool {
	switch c {
	case decoder.Call, decoder.Jump, decoder.ConditionalJump, decoder.Return:
		return true
	default:
		return false
	}
}

// identifyLeaders finds every instruction address that starts a block: the
// first instruction, the fall-through after any Call/Jump/Return, and any
// resolved branch target.
func identifyLeaders(insts []decoder.Instruction) map[uint64]struct{} {
	leaders := map[uint64]struct{}{insts[0].Address: {}}

	for _, in := range insts {
		if !isBranchLike(in.Category) {
			continue
		}
		leaders[in.Address+uint64(in.Length)] = struct{}{}
		if in.HasBranchTarget {
			leaders[in.BranchTarget] = struct{}{}
		}
	}
	return leaders
}

func assignBlocks(insts []decoder.Instruction, leaders map[uint64]struct{}) map[uint64]*BasicBlock {
	blocks := make(map[uint64]*BasicBlock)
	var cur *BasicBlock

	for _, in := range insts {
		if _, isLeader := leaders[in.Address]; isLeader || cur == nil {
			if cur != nil {
				cur.End = in.Address
			}
			cur = &BasicBlock{
				Start:        in.Address,
				Successors:   map[uint64]struct{}{},
				Predecessors: map[uint64]struct{}{},
			}
			blocks[cur.Start] = cur
		}
		cur.Instructions = append(cur.Instructions, in)
	}
	if cur != nil {
		last := cur.Instructions[len(cur.Instructions)-1]
		cur.End = last.Address + uint64(last.Length)
	}
	return blocks
}

func recordSuccessors(blocks map[uint64]*BasicBlock, insts []decoder.Instruction, leaders map[uint64]struct{}) {
	starts := sortedStarts(blocks)

	for i, start := range starts {
		b := blocks[start]
		last := b.Instructions[len(b.Instructions)-1]

		switch last.Category {
		case decoder.Return:
			continue
		case decoder.Jump:
			if last.HasBranchTarget {
				b.Successors[last.BranchTarget] = struct{}{}
			}
			continue
		case decoder.Call:
			if last.HasBranchTarget {
				b.Successors[last.BranchTarget] = struct{}{}
			}
			b.Successors[last.Address+uint64(last.Length)] = struct{}{}
			continue
		case decoder.ConditionalJump:
			if last.HasBranchTarget {
				b.Successors[last.BranchTarget] = struct{}{}
			}
			b.Successors[last.Address+uint64(last.Length)] = struct{}{}
			continue
		}

		// Block ends only because the next leader begins: fall through to
		// it, unless this was the last block in the sequence.
		if i+1 < len(starts) {
			b.Successors[last.Address+uint64(last.Length)] = struct{}{}
		}
	}
}

func recordPredecessors(blocks map[uint64]*BasicBlock) {
	for _, b := range blocks {
		for succ := range b.Successors {
			if s, ok := blocks[succ]; ok {
				s.Predecessors[b.Start] = struct{}{}
			}
		}
	}
}

func sortedStarts(blocks map[uint64]*BasicBlock) []uint64 {
	starts := make([]uint64, 0, len(blocks))
	for s := range blocks {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}
