package procstate

// GetByPid returns a snapshot of the record for pid, searching live
// processes first then the reaped set, and whether it was found (spec
// §4.6 "Snapshot query").
func (s *Store) GetByPid(pid uint32) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.live[pid]; ok {
		return rec.snapshot(), true
	}
	if entry, ok := s.reaped[pid]; ok {
		return entry.record.snapshot(), true
	}
	return Record{}, false
}

// Children returns snapshots of every live process whose Ppid is pid.
func (s *Store) Children(pid uint32) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.live {
		if rec.Ppid == pid {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// Live returns a snapshot of every currently live process, in no
// particular order.
func (s *Store) Live() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.live))
	for _, rec := range s.live {
		out = append(out, rec.snapshot())
	}
	return out
}

// AncestryRoot returns the topmost ancestor reachable from pid by
// walking Ppid, or pid itself if the chain is empty, cyclic, or pid is
// unknown. Implements rules.AncestryResolver.
func (s *Store) AncestryRoot(pid uint32) uint32 {
	chain, cyclic := s.Ancestry(pid)
	if cyclic || len(chain) == 0 {
		return pid
	}
	return chain[len(chain)-1].Pid
}

// Counts returns the current size of the live and reaped sets, used by
// health/metrics reporting.
func (s *Store) Counts() (live int, reaped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live), len(s.reaped)
}
