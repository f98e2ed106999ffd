package flow

import "fmt"

// ProbeCounter hands out dense probe ids for one class.
type ProbeCounter struct{ n int }

// Next returns the next unused probe id.
func (c *ProbeCounter) Next() int {
	id := c.n
	c.n++
	return id
}

// Count returns how many ids have been handed out.
func (c *ProbeCounter) Count() int { return c.n }

// PlaceProbes rewrites a plain method body into one annotated with probes:
//
//   - returns and athrow become KindInsnWithProbe,
//   - jumps into multi-target labels become KindJumpWithProbe,
//   - a KindProbe precedes every fall-through label that needs one,
//   - switch targets that are multi-target get their own probe id.
//
// Exception ranges starting at a probed label are moved to a fresh alias
// label bound just before the probe, so the probe itself is protected.
// The input method is not modified.
func PlaceProbes(m *Method, ids *ProbeCounter) (*Method, error) {
	info, err := AnalyzeLabels(m)
	if err != nil {
		return nil, err
	}
	out := m.Clone()
	out.Events = make([]Event, 0, len(m.Events)+len(m.Events)/4)

	alias := make(map[Label]Label)
	for i, tc := range out.TryCatch {
		if a, ok := alias[tc.Start]; ok {
			out.TryCatch[i].Start = a
			continue
		}
		if info[tc.Start].NeedsProbe() {
			a := out.NewLabel()
			info = append(info, LabelInfo{Successor: true})
			alias[tc.Start] = a
			out.TryCatch[i].Start = a
		}
	}

	for _, ev := range m.Events {
		switch ev.Kind {
		case KindLabel:
			if info[ev.Label].NeedsProbe() {
				if a, ok := alias[ev.Label]; ok {
					out.Events = append(out.Events, LabelEvent(a))
				}
				out.Events = append(out.Events, ProbeEvent(ids.Next()))
			}
			out.Events = append(out.Events, ev)
		case KindInsn:
			if ev.Op.IsExit() {
				ev.Kind = KindInsnWithProbe
				ev.Probe = ids.Next()
			}
			out.Events = append(out.Events, ev)
		case KindJump:
			if info[ev.Label].MultiTarget {
				ev.Kind = KindJumpWithProbe
				ev.Probe = ids.Next()
			}
			out.Events = append(out.Events, ev)
		case KindTableSwitch, KindLookupSwitch:
			out.Events = append(out.Events, placeSwitchProbes(ev, info, ids))
		case KindLine:
			out.Events = append(out.Events, ev)
		default:
			return nil, fmt.Errorf("flow: %s%s: unexpected %s event in plain stream", m.Name, m.Desc, ev.Kind)
		}
	}
	return out, nil
}

// placeSwitchProbes assigns one probe id per distinct multi-target switch
// label. If no target needs a probe the switch is returned unchanged.
func placeSwitchProbes(ev Event, info []LabelInfo, ids *ProbeCounter) Event {
	assigned := make(map[Label]int, len(ev.Targets)+1)
	probe := func(l Label) int {
		if id, ok := assigned[l]; ok {
			return id
		}
		id := NoProbe
		if info[l].MultiTarget {
			id = ids.Next()
		}
		assigned[l] = id
		return id
	}

	dflt := probe(ev.Default)
	targets := make([]int, len(ev.Targets))
	probed := dflt != NoProbe
	for i, l := range ev.Targets {
		targets[i] = probe(l)
		if targets[i] != NoProbe {
			probed = true
		}
	}
	if !probed {
		return ev
	}
	if ev.Kind == KindTableSwitch {
		ev.Kind = KindTableSwitchWithProbes
	} else {
		ev.Kind = KindLookupSwitchWithProbes
	}
	ev.DefaultProbe = dflt
	ev.TargetProbes = targets
	return ev
}

// PlaceClassProbes places probes in every method of c, numbering them
// densely in method order, and returns the annotated copy with ProbeCount
// set. Methods without code get no probes.
func PlaceClassProbes(c *Class) (*Class, error) {
	out := *c
	out.Methods = make([]*Method, len(c.Methods))
	var ids ProbeCounter
	for i, m := range c.Methods {
		if !m.HasCode() {
			out.Methods[i] = m.Clone()
			continue
		}
		pm, err := PlaceProbes(m, &ids)
		if err != nil {
			return nil, fmt.Errorf("flow: class %s: %w", c.Name, err)
		}
		out.Methods[i] = pm
	}
	out.ProbeCount = ids.Count()
	return &out, nil
}
