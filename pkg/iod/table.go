package iod

import (
	"container/list"
	"sync"
)

// parkedBase starts the id range given to ordinary requests submitted while
// the session is not Active. Parked ids never reach the wire; they are
// replaced with real ones when the session becomes Active.
const parkedBase uint64 = 1 << 62

// table is the set of outstanding requests keyed by correlation id, with
// FIFO submission order kept in a list.
type table struct {
	mu    sync.Mutex
	byID  map[uint64]*Request
	order *list.List

	nextID     uint64
	nextParked uint64

	// live means ordinary requests receive real ids.
	live bool

	// accepting means ordinary requests may be inserted at all.
	accepting bool
}

func newTable() *table {
	return &table{
		byID:       make(map[uint64]*Request),
		order:      list.New(),
		nextParked: parkedBase,
	}
}

// insert assigns req a fresh id and queues it as NotSent.
func (t *table) insert(req *Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !req.internal && !t.accepting {
		return ErrNotConnected
	}

	if req.internal || t.live {
		req.id = t.allocLocked()
	} else {
		req.id = t.nextParked
		t.nextParked++
	}
	req.state = RequestNotSent
	req.elem = t.order.PushBack(req)
	t.byID[req.id] = req
	return nil
}

// allocLocked returns the next free real id. A completed request still
// waiting for its caller is moved out of the way rather than skipped, so
// ids stay dense after a reset.
func (t *table) allocLocked() uint64 {
	for {
		id := t.nextID
		t.nextID++
		occ, taken := t.byID[id]
		if !taken {
			return id
		}
		if occ.state == RequestCompleted {
			t.rekeyLocked(occ, t.nextParked)
			t.nextParked++
			return id
		}
	}
}

// lookup returns the request with the given id, or nil.
func (t *table) lookup(id uint64) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// remove deletes req once; later calls report false.
func (t *table) remove(req *Request) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(req)
}

func (t *table) removeLocked(req *Request) bool {
	if req.elem == nil {
		return false
	}
	t.order.Remove(req.elem)
	req.elem = nil
	if t.byID[req.id] == req {
		delete(t.byID, req.id)
	}
	return true
}

// snapshot returns the requests in state st in FIFO order.
func (t *table) snapshot(st RequestState) []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Request
	for e := t.order.Front(); e != nil; e = e.Next() {
		if req := e.Value.(*Request); req.state == st {
			out = append(out, req)
		}
	}
	return out
}

// outstanding returns every request not yet completed, in FIFO order.
func (t *table) outstanding() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Request
	for e := t.order.Front(); e != nil; e = e.Next() {
		if req := e.Value.(*Request); req.state != RequestCompleted {
			out = append(out, req)
		}
	}
	return out
}

// counts returns the number of NotSent and Sent requests.
func (t *table) counts() (notSent, sent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for e := t.order.Front(); e != nil; e = e.Next() {
		switch e.Value.(*Request).state {
		case RequestNotSent:
			notSent++
		case RequestSent:
			sent++
		}
	}
	return notSent, sent
}

// len returns the number of requests in the table, completed ones included.
func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// reset restarts correlation ids at zero for a new transport and parks
// every unsent ordinary request.
func (t *table) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID = 0
	t.live = false
	t.accepting = true
	for e := t.order.Front(); e != nil; e = e.Next() {
		req := e.Value.(*Request)
		if req.internal || req.state != RequestNotSent || req.id >= parkedBase {
			continue
		}
		t.rekeyLocked(req, t.nextParked)
		t.nextParked++
	}
}

// goLive gives every parked request a real id in FIFO order and lets new
// ordinary requests take real ids directly. It returns how many were
// renumbered.
func (t *table) goLive() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live = true
	n := 0
	for e := t.order.Front(); e != nil; e = e.Next() {
		req := e.Value.(*Request)
		if req.state != RequestNotSent || req.id < parkedBase {
			continue
		}
		t.rekeyLocked(req, t.allocLocked())
		n++
	}
	return n
}

// stop refuses further ordinary requests.
func (t *table) stop() {
	t.mu.Lock()
	t.live = false
	t.accepting = false
	t.mu.Unlock()
}

func (t *table) rekeyLocked(req *Request, id uint64) {
	if t.byID[req.id] == req {
		delete(t.byID, req.id)
	}
	req.id = id
	t.byID[id] = req
}
