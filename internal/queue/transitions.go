package queue

var transitionMap = map[EntryStatus][]EntryStatus{
	EntryCalled:    {EntryWaiting},
	EntryServed:    {EntryCalled},
	EntryNoShow:    {EntryCalled},
	EntryCancelled: {EntryWaiting, EntryCalled},
}

// ValidTransition reports whether an entry may move from one status to another.
func ValidTransition(from, to EntryStatus) bool {
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
