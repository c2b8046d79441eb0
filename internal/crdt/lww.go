package crdt

// LWWRegister is a Last-Writer-Wins register.
// Clock is the writer's logical time for the value; a register with Clock 0
// has never been written.
//
// Merge keeps the value with the highest clock. On equal clocks the current
// value is kept, so presence converges to the last write observed.
type LWWRegister[T any] struct {
	Value T      `json:"value"`
	Clock uint64 `json:"clock"`
}

// Set writes value at the given clock. It is a no-op when the register
// already holds a write at clock or later.
func (r *LWWRegister[T]) Set(value T, clock uint64) bool {
	if clock <= r.Clock {
		return false
	}
	r.Value = value
	r.Clock = clock
	return true
}

// Merge pulls in a remote register's state and reports whether it changed.
// This operation is:
//   - Commutative for distinct clocks
//   - Idempotent: r.Merge(r) leaves r unchanged
func (r *LWWRegister[T]) Merge(other LWWRegister[T]) bool {
	return r.Set(other.Value, other.Clock)
}

// IsSet reports whether the register has ever been written.
func (r LWWRegister[T]) IsSet() bool {
	return r.Clock > 0
}
