package utils

import (
	"sync"
	"sync/atomic"
)

// Promise is a one-shot completion cell: Done may be called once, Get blocks
// until it has been.
type Promise[T any] interface {
	Get() (T, error)
	Peek() (int32, T, error)
	Done(res T, err error)
}

type SinglePromise[T any] struct {
	lock    sync.Mutex
	err     error
	res     T
	pending int32
}

func New[T any]() Promise[T] {
	res := &SinglePromise[T]{
		pending: 1,
	}
	res.lock.Lock()
	return res
}

func Fulfilled[T any](err error, res T) Promise[T] {
	return &SinglePromise[T]{
		err:     err,
		res:     res,
		pending: 0,
	}
}

func (p *SinglePromise[T]) Get() (T, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.res, p.err
}

func (p *SinglePromise[T]) Peek() (int32, T, error) {
	return atomic.LoadInt32(&p.pending), p.res, p.err
}

func (p *SinglePromise[T]) Done(res T, err error) {
	if atomic.LoadInt32(&p.pending) == 0 {
		return
	}
	p.pending = 0
	p.res = res
	p.err = err
	p.lock.Unlock()
}
