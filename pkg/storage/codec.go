package storage

import "fmt"

// Key schema:
//
//	ev:<len(symbol)>:<symbol>:<seq, 20 digits> → Record
//
// The length makes every symbol's prefix unique even when a symbol contains
// ':'. Zero padding keeps lexicographic order equal to sequence order.
const prefixEvent = "ev:"

func eventKey(symbol string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", eventPrefix(symbol), seq))
}

func eventPrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:", prefixEvent, len(symbol), symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
