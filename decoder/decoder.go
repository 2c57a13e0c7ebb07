// Package decoder is the narrow adapter around the single third-party x86
// decoder the module depends on, golang.org/x/arch/x86/x86asm — the Go
// ecosystem's equivalent of the Zydis adapter the analysis/disassembler.h
// component wraps. No other package in the module imports x86asm directly;
// everything downstream consumes Instruction and Category, derived from the
// decoded form rather than from string matching.
package decoder

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Category classifies an Instruction for BasicBlockBuilder and
// FunctionRecovery without either package needing to know an opcode table.
type Category int

const (
	Default Category = iota
	Call
	Return
	Jump
	ConditionalJump
	Push
	Pop
	Nop
	Compare
	System
)

func (c Category) String() string {
	switch c {
	case Call:
		return "Call"
	case Return:
		return "Return"
	case Jump:
		return "Jump"
	case ConditionalJump:
		return "ConditionalJump"
	case Push:
		return "Push"
	case Pop:
		return "Pop"
	case Nop:
		return "Nop"
	case Compare:
		return "Compare"
	case System:
		return "System"
	default:
		return "Default"
	}
}

// Instruction is one decoded (or synthesized) instruction. Category and the
// two resolved-address fields are derived, not authoritative: callers that
// need ground truth re-derive them from RawBytes.
type Instruction struct {
	Address          uint64
	Length           int
	RawBytes         []byte
	Mnemonic         string
	OperandText      string
	Text             string
	Category         Category
	IsMemoryAccess   bool
	BranchTarget     uint64
	HasBranchTarget  bool
	MemoryAddress    uint64
	HasMemoryAddress bool
}

// Options controls decode and decode-one behavior.
type Options struct {
	// MaxInstructions bounds Decode; zero means unbounded.
	MaxInstructions int
}

// FormatOptions controls Format's rendering.
type FormatOptions struct {
	ShowAddress bool
	ByteColumn  int // fixed width in characters; 0 disables the column
}

// DecodeOne decodes exactly one instruction at offset 0 of b, addressed at
// address. It fails on truncation or invalid encoding — callers that need
// forward progress on failure should use Decode, which recovers locally.
func DecodeOne(b []byte, address uint64) (Instruction, error) {
	if len(b) == 0 {
		return Instruction{}, fmt.Errorf("decoder: empty input")
	}
	inst, err := x86asm.Decode(b, 64)
	if err != nil {
		return Instruction{}, err
	}
	return toInstruction(inst, b, address), nil
}

// Decode decodes b starting at base until the slice is consumed or
// opts.MaxInstructions is reached. A decode failure at any offset emits a
// synthetic one-byte "db" instruction in category Nop and resumes at the
// next byte, so the emitted (address, length) pairs always cover
// [base, base+len(b)) with no gaps or overlaps.
func Decode(b []byte, base uint64, opts Options) []Instruction {
	var out []Instruction
	off := 0
	for off < len(b) {
		if opts.MaxInstructions > 0 && len(out) >= opts.MaxInstructions {
			break
		}

		inst, err := x86asm.Decode(b[off:], 64)
		if err != nil || inst.Len == 0 {
			out = append(out, syntheticDB(b[off], base+uint64(off)))
			off++
			continue
		}

		out = append(out, toInstruction(inst, b[off:off+inst.Len], base+uint64(off)))
		off += inst.Len
	}
	return out
}

func syntheticDB(b byte, address uint64) Instruction {
	return Instruction{
		Address:     address,
		Length:      1,
		RawBytes:    []byte{b},
		Mnemonic:    "db",
		OperandText: fmt.Sprintf("0x%02x", b),
		Text:        fmt.Sprintf("db 0x%02x", b),
		Category:    Nop,
	}
}

// toInstruction converts a decoded x86asm.Inst into the module's
// Instruction, deriving Category and resolved addresses from the decode
// rather than the mnemonic text.
func toInstruction(inst x86asm.Inst, raw []byte, address uint64) Instruction {
	out := Instruction{
		Address:  address,
		Length:   inst.Len,
		RawBytes: append([]byte(nil), raw...),
		Mnemonic: strings.ToUpper(inst.Op.String()),
		Category: classify(inst),
	}

	out.OperandText = operandText(inst)
	out.Text = strings.TrimSpace(out.Mnemonic + " " + out.OperandText)

	if target, ok := branchTarget(inst, address); ok {
		out.BranchTarget = target
		out.HasBranchTarget = true
	}

	if mem, isMem := memoryOperand(inst); isMem {
		out.IsMemoryAccess = true
		if addr, ok := resolveMemoryAddress(mem, address, inst.Len); ok {
			out.MemoryAddress = addr
			out.HasMemoryAddress = true
		}
	}

	return out
}

func classify(inst x86asm.Inst) Category {
	switch inst.Op {
	case x86asm.CALL, x86asm.CALLF:
		return Call
	case x86asm.RET, x86asm.RETF, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return Return
	case x86asm.JMP, x86asm.JMPF:
		return Jump
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JECXZ,
		x86asm.JRCXZ, x86asm.JE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS:
		return ConditionalJump
	case x86asm.PUSH, x86asm.PUSHA, x86asm.PUSHAD, x86asm.PUSHF, x86asm.PUSHFD, x86asm.PUSHFQ:
		return Push
	case x86asm.POP, x86asm.POPA, x86asm.POPAD, x86asm.POPF, x86asm.POPFD, x86asm.POPFQ:
		return Pop
	case x86asm.NOP:
		return Nop
	case x86asm.CMP, x86asm.TEST:
		return Compare
	case x86asm.SYSCALL, x86asm.SYSENTER, x86asm.SYSEXIT, x86asm.SYSRET,
		x86asm.INT, x86asm.INT3, x86asm.HLT, x86asm.CPUID, x86asm.RDMSR, x86asm.WRMSR:
		return System
	default:
		return Default
	}
}

// branchTarget resolves a Call/Jump's target address, set only when the
// operand is a relative immediate that resolves absolutely (an indirect
// call/jump through a register or memory operand never resolves here).
func branchTarget(inst x86asm.Inst, address uint64) (uint64, bool) {
	for _, arg := range inst.Args {
		if arg == nil {
			continue
		}
		if rel, ok := arg.(x86asm.Rel); ok {
			return address + uint64(inst.Len) + uint64(int64(rel)), true
		}
	}
	return 0, false
}

func memoryOperand(inst x86asm.Inst) (x86asm.Mem, bool) {
	for _, arg := range inst.Args {
		if arg == nil {
			continue
		}
		if mem, ok := arg.(x86asm.Mem); ok {
			return mem, true
		}
	}
	return x86asm.Mem{}, false
}

// resolveMemoryAddress resolves a memory operand's absolute address when
// it is RIP-relative with a known RIP (the only memory form this module
// can resolve statically) — x86asm represents that addressing mode with
// Base set to the pseudo-register RIP and the displacement already holding
// the signed offset from the next instruction.
func resolveMemoryAddress(mem x86asm.Mem, address uint64, length int) (uint64, bool) {
	if mem.Base == x86asm.RIP {
		return address + uint64(length) + uint64(mem.Disp), true
	}
	return 0, false
}

func operandText(inst x86asm.Inst) string {
	s := x86asm.IntelSyntax(inst, 0, nil)
	// IntelSyntax returns "mnemonic operands"; strip the mnemonic prefix to
	// keep OperandText free of the duplicated opcode name.
	parts := strings.SplitN(s, " ", 2)
	if len(parts) == 2 {
		return strings.ToUpper(parts[1])
	}
	return ""
}

// Format renders a single line for inst: optional address column, optional
// fixed-width byte column (ellipsis-truncated when the raw bytes are wider
// than the budget), then the instruction text.
func Format(inst Instruction, opts FormatOptions) string {
	var b strings.Builder
	if opts.ShowAddress {
		fmt.Fprintf(&b, "%016x  ", inst.Address)
	}
	if opts.ByteColumn > 0 {
		hexBytes := make([]string, len(inst.RawBytes))
		for i, by := range inst.RawBytes {
			hexBytes[i] = fmt.Sprintf("%02X", by)
		}
		col := strings.Join(hexBytes, " ")
		if len(col) > opts.ByteColumn {
			if opts.ByteColumn > 1 {
				col = col[:opts.ByteColumn-1] + "…"
			} else {
				col = col[:opts.ByteColumn]
			}
		} else {
			col = col + strings.Repeat(" ", opts.ByteColumn-len(col))
		}
		fmt.Fprintf(&b, "%s  ", col)
	}
	b.WriteString(strings.TrimSpace(inst.Mnemonic + " " + inst.OperandText))
	return b.String()
}
