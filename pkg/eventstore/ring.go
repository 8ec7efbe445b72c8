package eventstore

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring[E any] struct {
	buf   []E
	start int
	n     int
}

func newRing[E any](capacity int) *ring[E] {
	return &ring[E]{buf: make([]E, capacity)}
}

func (r *ring[E]) push(e E) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// last copies the newest k entries, oldest first.
func (r *ring[E]) last(k int) []E {
	k = min(k, r.n)
	out := make([]E, k)
	off := r.n - k
	for i := 0; i < k; i++ {
		out[i] = r.buf[(r.start+off+i)%len(r.buf)]
	}
	return out
}

func (r *ring[E]) len() int { return r.n }
