package core

// recordArena stores the OrderRecords of one side. Handles stay valid until
// released; pointers returned by at are only valid until the next alloc.
type recordArena struct {
	records []OrderRecord
	free    []handle
}

func (a *recordArena) alloc(rec OrderRecord) handle {
	rec.prev, rec.next = nilHandle, nilHandle

	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.records[h] = rec
		return h
	}

	a.records = append(a.records, rec)
	return handle(len(a.records) - 1)
}

func (a *recordArena) release(h handle) {
	a.records[h] = OrderRecord{prev: nilHandle, next: nilHandle}
	a.free = append(a.free, h)
}

func (a *recordArena) at(h handle) *OrderRecord {
	return &a.records[h]
}

func (a *recordArena) live() int {
	return len(a.records) - len(a.free)
}
