package binary

// A lease ties a binary and every view derived from it to the lifetime of
// the memory it reads. Views check it on every access.
type lease interface {
	alive() bool
}

// ownedLease belongs to a binary that owns its image outright.
type ownedLease struct {
	released bool
}

func (l *ownedLease) alive() bool { return !l.released }

func (l *ownedLease) release() { l.released = true }

// slotLease belongs to a binary borrowed from a fat container slot. It dies
// when the slot is taken or the container is closed.
type slotLease struct {
	slot *fatSlot
	fat  *FatBinary
}

func (l slotLease) alive() bool {
	return !l.slot.taken && !l.fat.closed
}

// Borrowed is a non-owning handle to a value whose memory belongs to a
// container. It becomes invalid once the container gives that memory away.
type Borrowed[T any] struct {
	value T
	lease lease
}

// Valid reports whether the borrowed value can still be used.
func (b *Borrowed[T]) Valid() bool {
	return b != nil && b.lease.alive()
}

// Get returns the borrowed value while it is valid.
func (b *Borrowed[T]) Get() (T, bool) {
	if !b.Valid() {
		var zero T
		return zero, false
	}
	return b.value, true
}

// With calls fn with the borrowed value, or returns ErrReleased when the
// borrow has expired.
func (b *Borrowed[T]) With(fn func(T) error) error {
	v, ok := b.Get()
	if !ok {
		return ErrReleased
	}
	return fn(v)
}
