package store

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

type Storager[K comparable, V any] interface {
	Put(k K, v V) error
	Get(k K) (V, error)
	Delete(k K) error
	Len() int
}

// MemStore is an in-memory store. A single goroutine owns the map; every
// access is a request on one of its channels.
type MemStore[K comparable, V any] struct {
	putChan    chan *putRequest[K, V]
	putNewChan chan *putNewRequest[K, V]
	readChan   chan *getRequest[K, V]
	deleteChan chan K
	lenChan    chan chan int
	listChan   chan chan []V
	done       chan struct{}
	closeOnce  sync.Once
	data       map[K]V
}

type putRequest[K comparable, V any] struct {
	key K
	val V
}

// putNewRequest stores val only when key is absent and answers with the
// value the key holds afterwards.
type putNewRequest[K comparable, V any] struct {
	key      K
	val      V
	response chan<- *lookupResult[V]
}

type getRequest[K comparable, V any] struct {
	key      K
	response chan<- *lookupResult[V]
}

type lookupResult[V any] struct {
	v      V
	exists bool
}

func NewMemStore[K comparable, V any]() *MemStore[K, V] {
	s := &MemStore[K, V]{
		putChan:    make(chan *putRequest[K, V]),
		putNewChan: make(chan *putNewRequest[K, V]),
		readChan:   make(chan *getRequest[K, V]),
		deleteChan: make(chan K),
		lenChan:    make(chan chan int),
		listChan:   make(chan chan []V),
		done:       make(chan struct{}),
		data:       make(map[K]V),
	}

	go s.handleAccess()
	return s
}

func (s *MemStore[K, V]) handleAccess() {
	for {
		select {
		case <-s.done:
			return
		case req := <-s.putChan:
			s.data[req.key] = req.val
		case req := <-s.putNewChan:
			v, ok := s.data[req.key]
			if !ok {
				v = req.val
				s.data[req.key] = v
			}
			req.response <- &lookupResult[V]{
				v:      v,
				exists: ok,
			}
		case k := <-s.deleteChan:
			delete(s.data, k)
		case resp := <-s.lenChan:
			resp <- len(s.data)
		case resp := <-s.listChan:
			vals := make([]V, 0, len(s.data))
			for _, v := range s.data {
				vals = append(vals, v)
			}
			resp <- vals
		case req := <-s.readChan:
			v, ok := s.data[req.key]
			req.response <- &lookupResult[V]{
				v:      v,
				exists: ok,
			}
		}
	}
}

func (s *MemStore[K, V]) Put(k K, v V) error {
	select {
	case s.putChan <- &putRequest[K, V]{key: k, val: v}:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// PutIfAbsent stores v under k unless k is already present. It returns the
// value k holds afterwards and whether that value was already there.
func (s *MemStore[K, V]) PutIfAbsent(k K, v V) (V, bool, error) {
	var empty V
	respCh := make(chan *lookupResult[V], 1)
	req := &putNewRequest[K, V]{
		key:      k,
		val:      v,
		response: respCh,
	}
	select {
	case s.putNewChan <- req:
	case <-s.done:
		return empty, false, ErrClosed
	}
	resp := <-respCh
	return resp.v, resp.exists, nil
}

func (s *MemStore[K, V]) Get(k K) (V, error) {
	var empty V
	respCh := make(chan *lookupResult[V], 1)
	req := &getRequest[K, V]{
		key:      k,
		response: respCh,
	}
	select {
	case s.readChan <- req:
	case <-s.done:
		return empty, ErrClosed
	}
	resp := <-respCh
	if !resp.exists {
		return empty, fmt.Errorf("key %v: %w", k, ErrNotFound)
	}
	return resp.v, nil
}

func (s *MemStore[K, V]) Delete(k K) error {
	select {
	case s.deleteChan <- k:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *MemStore[K, V]) Len() int {
	respCh := make(chan int, 1)
	select {
	case s.lenChan <- respCh:
		return <-respCh
	case <-s.done:
		return 0
	}
}

// Values returns every stored value in no particular order.
func (s *MemStore[K, V]) Values() ([]V, error) {
	respCh := make(chan []V, 1)
	select {
	case s.listChan <- respCh:
		return <-respCh, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

// Close stops the owning goroutine. Later calls fail with ErrClosed.
func (s *MemStore[K, V]) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
