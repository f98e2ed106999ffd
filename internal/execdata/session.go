package execdata

import (
	"cmp"
	"slices"
	"time"
)

// SessionInfo identifies one collection run. Timestamps are milliseconds
// since the Unix epoch.
type SessionInfo struct {
	ID    string `json:"id"`
	Start int64  `json:"start"`
	Dump  int64  `json:"dump"`
}

// StartTime and DumpTime convert the timestamps.
func (s SessionInfo) StartTime() time.Time { return time.UnixMilli(s.Start) }
func (s SessionInfo) DumpTime() time.Time  { return time.UnixMilli(s.Dump) }

// SessionStore collects session infos in order of arrival.
type SessionStore struct {
	infos []SessionInfo
}

func (s *SessionStore) Add(info SessionInfo) { s.infos = append(s.infos, info) }

func (s *SessionStore) Len() int { return len(s.infos) }

// Infos returns the sessions ordered by start time. Sessions with equal
// start keep their arrival order.
func (s *SessionStore) Infos() []SessionInfo {
	out := slices.Clone(s.infos)
	slices.SortStableFunc(out, func(a, b SessionInfo) int { return cmp.Compare(a.Start, b.Start) })
	return out
}
