package flow

import (
	"errors"
	"reflect"
	"testing"
)

func kinds(evs []Event) []Kind {
	out := make([]Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

// ifElse builds:
//
//	L0: iload 1; ifeq L1; iconst_1; ireturn
//	L1: iconst_0; ireturn
func ifElse() *Method {
	m := &Method{Name: "f", Desc: "(Z)I"}
	l0, l1 := m.NewLabel(), m.NewLabel()
	m.Add(
		LabelEvent(l0), LineEvent(1, l0),
		VarInsn(ILOAD, 1),
		Jump(IFEQ, l1),
		Insn(ICONST_1), Insn(IRETURN),
		LabelEvent(l1), LineEvent(2, l1),
		Insn(ICONST_0), Insn(IRETURN),
	)
	return m
}

func TestAnalyzeLabels_IfElse(t *testing.T) {
	info, err := AnalyzeLabels(ifElse())
	if err != nil {
		t.Fatal(err)
	}
	if !info[0].Target || info[0].Successor {
		t.Errorf("L0 = %+v, want target only", info[0])
	}
	if !info[1].Target || info[1].Successor || info[1].MultiTarget {
		t.Errorf("L1 = %+v, want single target", info[1])
	}
}

func TestPlaceProbes_IfElse(t *testing.T) {
	var ids ProbeCounter
	m := ifElse()
	pm, err := PlaceProbes(m, &ids)
	if err != nil {
		t.Fatal(err)
	}
	want := []Kind{
		KindLabel, KindLine, KindInsn, KindJump, KindInsn, KindInsnWithProbe,
		KindLabel, KindLine, KindInsn, KindInsnWithProbe,
	}
	if got := kinds(pm.Events); !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if ids.Count() != 2 {
		t.Errorf("probes = %d, want 2", ids.Count())
	}
	if pm.Events[5].Probe != 0 || pm.Events[9].Probe != 1 {
		t.Errorf("probe ids = %d,%d, want 0,1", pm.Events[5].Probe, pm.Events[9].Probe)
	}
	if len(m.Events) != 10 || m.Events[5].Kind != KindInsn {
		t.Error("input method was modified")
	}
}

func TestPlaceProbes_IfWithoutElse(t *testing.T) {
	//	L0: iload 1; ifeq L1; iinc 1 1
	//	L1: iload 1; ireturn
	m := &Method{Name: "g", Desc: "(I)I"}
	l0, l1 := m.NewLabel(), m.NewLabel()
	m.Add(
		LabelEvent(l0),
		VarInsn(ILOAD, 1),
		Jump(IFEQ, l1),
		Iinc(1, 1),
		LabelEvent(l1),
		VarInsn(ILOAD, 1),
		Insn(IRETURN),
	)
	var ids ProbeCounter
	pm, err := PlaceProbes(m, &ids)
	if err != nil {
		t.Fatal(err)
	}
	want := []Kind{
		KindLabel, KindInsn, KindJumpWithProbe, KindInsn,
		KindProbe, KindLabel, KindInsn, KindInsnWithProbe,
	}
	if got := kinds(pm.Events); !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i, wantID := range map[int]int{2: 0, 4: 1, 7: 2} {
		if pm.Events[i].Probe != wantID {
			t.Errorf("event %d probe = %d, want %d", i, pm.Events[i].Probe, wantID)
		}
	}
}

func TestPlaceProbes_SwitchSharesProbePerLabel(t *testing.T) {
	//	L0: iload 1; lookupswitch {1: L1, 2: L2} default L2
	//	L1: iinc 1 1
	//	L2: iconst_0; ireturn
	m := &Method{Name: "s", Desc: "(I)I"}
	l0, l1, l2 := m.NewLabel(), m.NewLabel(), m.NewLabel()
	m.Add(
		LabelEvent(l0),
		VarInsn(ILOAD, 1),
		LookupSwitch(l2, []int32{1, 2}, []Label{l1, l2}),
		LabelEvent(l1), Iinc(1, 1),
		LabelEvent(l2), Insn(ICONST_0), Insn(IRETURN),
	)
	var ids ProbeCounter
	pm, err := PlaceProbes(m, &ids)
	if err != nil {
		t.Fatal(err)
	}
	sw := pm.Events[2]
	if sw.Kind != KindLookupSwitchWithProbes {
		t.Fatalf("switch kind = %s, want %s", sw.Kind, KindLookupSwitchWithProbes)
	}
	if sw.DefaultProbe != 0 {
		t.Errorf("default probe = %d, want 0", sw.DefaultProbe)
	}
	if !reflect.DeepEqual(sw.TargetProbes, []int{NoProbe, 0}) {
		t.Errorf("target probes = %v, want [-1 0]", sw.TargetProbes)
	}
	if ids.Count() != 3 {
		t.Errorf("probes = %d, want 3", ids.Count())
	}
}

func TestPlaceProbes_TryCatchAlias(t *testing.T) {
	//	L0: aload 0; invokevirtual run
	//	L1: aload 0; invokevirtual run      (protected L1..L2)
	//	L2: return
	//	L3: astore 1; return                (handler)
	m := &Method{Name: "t", Desc: "()V"}
	l0, l1, l2, l3 := m.NewLabel(), m.NewLabel(), m.NewLabel(), m.NewLabel()
	m.TryCatch = []TryCatch{{Start: l1, End: l2, Handler: l3, Type: "java/lang/Exception"}}
	m.Add(
		LabelEvent(l0), VarInsn(ALOAD, 0), MethodInsn(182, "A", "run", "()V"),
		LabelEvent(l1), VarInsn(ALOAD, 0), MethodInsn(182, "A", "run", "()V"),
		LabelEvent(l2), Insn(RETURN),
		LabelEvent(l3), VarInsn(ASTORE, 1), Insn(RETURN),
	)
	var ids ProbeCounter
	pm, err := PlaceProbes(m, &ids)
	if err != nil {
		t.Fatal(err)
	}
	alias := pm.TryCatch[0].Start
	if alias != 4 || pm.Labels != 5 {
		t.Fatalf("alias = L%d labels = %d, want L4 and 5", alias, pm.Labels)
	}
	if pm.Events[3].Kind != KindLabel || pm.Events[3].Label != alias {
		t.Errorf("event 3 = %s, want alias label", pm.Events[3])
	}
	if pm.Events[4].Kind != KindProbe || pm.Events[5].Label != l1 {
		t.Errorf("events 4,5 = %s %s, want probe then L1", pm.Events[4], pm.Events[5])
	}
	if m.TryCatch[0].Start != l1 {
		t.Error("input try/catch was modified")
	}
	if err := pm.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestPlaceProbes_Subroutine(t *testing.T) {
	m := &Method{Name: "j", Desc: "()V"}
	l0 := m.NewLabel()
	m.Add(LabelEvent(l0), Jump(JSR, l0), Insn(RETURN))
	var ids ProbeCounter
	if _, err := PlaceProbes(m, &ids); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestPlaceClassProbes_DenseIDs(t *testing.T) {
	abstract := &Method{Name: "a", Desc: "()V", Access: AccAbstract}
	c := &Class{Name: "p/C", Methods: []*Method{ifElse(), abstract, ifElse()}}
	pc, err := PlaceClassProbes(c)
	if err != nil {
		t.Fatal(err)
	}
	if pc.ProbeCount != 4 {
		t.Fatalf("ProbeCount = %d, want 4", pc.ProbeCount)
	}
	last := pc.Methods[2].Events[9]
	if last.Probe != 3 {
		t.Errorf("last probe = %d, want 3", last.Probe)
	}
	if c.ProbeCount != 0 {
		t.Error("input class was modified")
	}
}

func TestOpcodeFamilies(t *testing.T) {
	tests := []struct {
		name string
		want Family
	}{
		{"iload", FamilyVar},
		{"bipush", FamilyInt},
		{"goto", FamilyJump},
		{"ifnonnull", FamilyJump},
		{"getfield", FamilyField},
		{"invokeinterface", FamilyMethod},
		{"checkcast", FamilyType},
		{"iinc", FamilyIinc},
		{"tableswitch", FamilyTableSwitch},
		{"multianewarray", FamilyMultiANewArray},
		{"athrow", FamilyPlain},
	}
	for _, tt := range tests {
		op, ok := Lookup(tt.name)
		if !ok {
			t.Errorf("Lookup(%q) failed", tt.name)
			continue
		}
		if got := op.Family(); got != tt.want {
			t.Errorf("%s family = %d, want %d", tt.name, got, tt.want)
		}
		if op.String() != tt.name {
			t.Errorf("String() = %q, want %q", op.String(), tt.name)
		}
	}
	if _, ok := Lookup("iload_0"); ok {
		t.Error("short forms must not resolve")
	}
}
