package flow

// Opcode is a JVM instruction opcode as normalized by tree-based bytecode
// readers: short forms such as iload_0 or ldc_w never appear, they are
// reported as their long form with an operand.
type Opcode int

// Family groups opcodes by the shape of their operands. It selects which
// Event fields carry data.
type Family uint8

const (
	FamilyInvalid        Family = iota
	FamilyPlain                 // no operand
	FamilyInt                   // Operand: bipush/sipush value, newarray type
	FamilyVar                   // Operand: local variable index
	FamilyType                  // Owner: internal type name
	FamilyField                 // Owner, Name, Desc
	FamilyMethod                // Owner, Name, Desc
	FamilyInvokeDynamic         // Name, Desc
	FamilyJump                  // Label: target
	FamilyLdc                   // Const
	FamilyIinc                  // Operand: variable, Incr: increment
	FamilyTableSwitch           // Min, Max, Default, Targets
	FamilyLookupSwitch          // Keys, Default, Targets
	FamilyMultiANewArray        // Desc, Operand: dimensions
)

// Opcodes referenced by the flow analysis and the probe contract.
const (
	NOP             Opcode = 0
	ICONST_M1       Opcode = 2
	ICONST_0        Opcode = 3
	ICONST_1        Opcode = 4
	ICONST_5        Opcode = 8
	BIPUSH          Opcode = 16
	SIPUSH          Opcode = 17
	LDC             Opcode = 18
	ILOAD           Opcode = 21
	ALOAD           Opcode = 25
	IALOAD          Opcode = 46
	ASTORE          Opcode = 58
	IASTORE         Opcode = 79
	BASTORE         Opcode = 84
	POP             Opcode = 87
	DUP             Opcode = 89
	DUP2            Opcode = 92
	IADD            Opcode = 96
	IINC            Opcode = 132
	IFEQ            Opcode = 153
	IFNE            Opcode = 154
	IF_ICMPEQ       Opcode = 159
	IF_ACMPNE       Opcode = 166
	GOTO            Opcode = 167
	JSR             Opcode = 168
	RET             Opcode = 169
	TABLESWITCH     Opcode = 170
	LOOKUPSWITCH    Opcode = 171
	IRETURN         Opcode = 172
	ARETURN         Opcode = 176
	RETURN          Opcode = 177
	GETSTATIC       Opcode = 178
	PUTSTATIC       Opcode = 179
	INVOKESTATIC    Opcode = 184
	INVOKEINTERFACE Opcode = 185
	NEWARRAY        Opcode = 188
	ATHROW          Opcode = 191
	MONITORENTER    Opcode = 194
	MONITOREXIT     Opcode = 195
	IFNULL          Opcode = 198
	IFNONNULL       Opcode = 199
)

var opNames = [...]string{
	"nop", "aconst_null", "iconst_m1", "iconst_0", "iconst_1", "iconst_2",
	"iconst_3", "iconst_4", "iconst_5", "lconst_0", "lconst_1", "fconst_0",
	"fconst_1", "fconst_2", "dconst_0", "dconst_1", "bipush", "sipush", "ldc",
	"", "", "iload", "lload", "fload", "dload", "aload",
	"", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "",
	"iaload", "laload", "faload", "daload", "aaload", "baload", "caload",
	"saload", "istore", "lstore", "fstore", "dstore", "astore",
	"", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "",
	"iastore", "lastore", "fastore", "dastore", "aastore", "bastore", "castore",
	"sastore", "pop", "pop2", "dup", "dup_x1", "dup_x2", "dup2", "dup2_x1",
	"dup2_x2", "swap", "iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub",
	"dsub", "imul", "lmul", "fmul", "dmul", "idiv", "ldiv", "fdiv", "ddiv",
	"irem", "lrem", "frem", "drem", "ineg", "lneg", "fneg", "dneg", "ishl",
	"lshl", "ishr", "lshr", "iushr", "lushr", "iand", "land", "ior", "lor",
	"ixor", "lxor", "iinc", "i2l", "i2f", "i2d", "l2i", "l2f", "l2d", "f2i",
	"f2l", "f2d", "d2i", "d2l", "d2f", "i2b", "i2c", "i2s", "lcmp", "fcmpl",
	"fcmpg", "dcmpl", "dcmpg", "ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle",
	"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt",
	"if_icmple", "if_acmpeq", "if_acmpne", "goto", "jsr", "ret",
	"tableswitch", "lookupswitch", "ireturn", "lreturn", "freturn", "dreturn",
	"areturn", "return", "getstatic", "putstatic", "getfield", "putfield",
	"invokevirtual", "invokespecial", "invokestatic", "invokeinterface",
	"invokedynamic", "new", "newarray", "anewarray", "arraylength", "athrow",
	"checkcast", "instanceof", "monitorenter", "monitorexit", "",
	"multianewarray", "ifnull", "ifnonnull",
}

var opByName map[string]Opcode

func init() {
	opByName = make(map[string]Opcode, len(opNames))
	for i, n := range opNames {
		if n != "" {
			opByName[n] = Opcode(i)
		}
	}
}

// Lookup returns the opcode for a lower-case mnemonic.
func Lookup(mnemonic string) (Opcode, bool) {
	op, ok := opByName[mnemonic]
	return op, ok
}

func (op Opcode) String() string {
	if op >= 0 && int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "op?"
}

// Family returns the operand family of op, or FamilyInvalid for opcodes
// that never appear in a normalized stream.
func (op Opcode) Family() Family {
	if op < 0 || int(op) >= len(opNames) || opNames[op] == "" {
		return FamilyInvalid
	}
	switch {
	case op == BIPUSH || op == SIPUSH || op == NEWARRAY:
		return FamilyInt
	case op == LDC:
		return FamilyLdc
	case op >= ILOAD && op <= ALOAD, op >= 54 && op <= ASTORE, op == RET:
		return FamilyVar
	case op == IINC:
		return FamilyIinc
	case op >= IFEQ && op <= JSR, op == IFNULL, op == IFNONNULL:
		return FamilyJump
	case op == TABLESWITCH:
		return FamilyTableSwitch
	case op == LOOKUPSWITCH:
		return FamilyLookupSwitch
	case op >= GETSTATIC && op <= 181:
		return FamilyField
	case op >= 182 && op <= 185:
		return FamilyMethod
	case op == 186:
		return FamilyInvokeDynamic
	case op == 187 || op == 189 || op == 192 || op == 193:
		return FamilyType
	case op == 197:
		return FamilyMultiANewArray
	}
	return FamilyPlain
}

// IsExit reports whether op leaves the method (a return or athrow).
func (op Opcode) IsExit() bool {
	return (op >= IRETURN && op <= RETURN) || op == ATHROW
}

// FallsThrough reports whether control can reach the next instruction in
// sequence after op executes.
func (op Opcode) FallsThrough() bool {
	switch {
	case op.IsExit(), op == GOTO, op == RET:
		return false
	case op == TABLESWITCH, op == LOOKUPSWITCH:
		return false
	}
	return true
}
