package native

// Branch is a decoded control transfer.
type Branch struct {
	Target uint64 // absolute target, 0 for RET
	Cond   bool   // conditional, falls through when not taken
	IsRet  bool
}

// DecodeBranch decodes B, B.cond, CBZ, CBNZ, TBZ, TBNZ and RET. It returns
// nil for every other instruction, calls included.
func DecodeBranch(raw uint32, pc uint64) *Branch {
	switch {
	case raw&0xFFFFFC1F == 0xD65F0000: // RET Xn
		return &Branch{IsRet: true}
	case raw&0xFC000000 == 0x14000000: // B imm26
		return &Branch{Target: rel(pc, raw&0x03FFFFFF, 26)}
	case raw&0xFF000010 == 0x54000000: // B.cond imm19
		return &Branch{Target: rel(pc, (raw>>5)&0x7FFFF, 19), Cond: true}
	case raw&0x7E000000 == 0x34000000: // CBZ, CBNZ imm19
		return &Branch{Target: rel(pc, (raw>>5)&0x7FFFF, 19), Cond: true}
	case raw&0x7E000000 == 0x36000000: // TBZ, TBNZ imm14
		return &Branch{Target: rel(pc, (raw>>5)&0x3FFF, 14), Cond: true}
	}
	return nil
}

// rel resolves a word offset of the given width relative to pc.
func rel(pc uint64, imm uint32, bits int) uint64 {
	return uint64(int64(pc) + int64(signExtend(imm, bits))*4)
}

func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask)
	}
	return int32(val & mask)
}

// decodeBL returns the target of a BL.
func decodeBL(raw uint32, pc uint64) (uint64, bool) {
	if raw&0xFC000000 != 0x94000000 {
		return 0, false
	}
	return rel(pc, raw&0x03FFFFFF, 26), true
}

// decodeBLR returns the register number of a BLR.
func decodeBLR(raw uint32) (int, bool) {
	if raw&0xFFFFFC1F != 0xD63F0000 {
		return 0, false
	}
	return int((raw >> 5) & 0x1F), true
}
