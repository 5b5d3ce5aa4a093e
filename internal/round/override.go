package round

// Override is an admin-supplied winning number and bonus multiplier that
// preempts the random draw for the next settlement. Single-use.
type Override struct {
	Number int   `json:"number"` // 0..99
	Bonus  int64 `json:"bonus"`  // 1..max
}

// overrideStore is a single-slot holder for at most one pending override.
// Access is serialized by the Tracker's mutex; the store itself carries no
// locking so it can be snapshotted together with the rest of round state.
type overrideStore struct {
	slot *Override
}

func (s *overrideStore) set(o Override) {
	s.slot = &o
}

// consume returns the pending override, if any, and empties the slot.
func (s *overrideStore) consume() *Override {
	o := s.slot
	s.slot = nil
	return o
}

func (s *overrideStore) clear() {
	s.slot = nil
}
