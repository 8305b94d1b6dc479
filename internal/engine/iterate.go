package engine

import "github.com/varserverd/varserver/internal/wire"

// iterator is the GET_FIRST/GET_NEXT cursor of spec.md §9: a snapshot of
// candidate handles taken at GET_FIRST time, walked in order by every
// following GET_NEXT. Handles created after the snapshot never appear;
// handles deleted after the snapshot are skipped when reached.
type iterator struct {
	handles []Handle
	pos     int
}

// iteratorTable keys live iterators by the client that opened them — a
// client may only have one iteration in flight (spec.md §9).
type iteratorTable struct {
	byClient map[uint32]*iterator
}

func newIteratorTable() *iteratorTable {
	return &iteratorTable{byClient: make(map[uint32]*iterator)}
}

// advance returns the next snapshotted handle that still resolves,
// skipping any deleted since the snapshot was taken, and retires the
// iterator once exhausted.
func (t *iteratorTable) advance(s *store, it *iterator) (Handle, wire.Errno) {
	for it.pos < len(it.handles) {
		h := it.handles[it.pos]
		it.pos++
		if _, ok := s.canonical[h]; ok {
			return h, wire.EOK
		}
	}
	t.retire(it)
	return InvalidHandle, wire.ENOENT
}

func (t *iteratorTable) retire(it *iterator) {
	for id, v := range t.byClient {
		if v == it {
			delete(t.byClient, id)
			return
		}
	}
}

// close drops any iterator held by a disconnecting client.
func (t *iteratorTable) close(clientID uint32) {
	delete(t.byClient, clientID)
}
