package main

import (
	"io"
	"sync"
	"time"
)

const bellInterval = 2 * time.Second

// bellRinger rings the terminal bell while an incoming call waits for an answer
type bellRinger struct {
	out      io.Writer
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func newBellRinger(out io.Writer, interval time.Duration) *bellRinger {
	if interval <= 0 {
		interval = bellInterval
	}
	return &bellRinger{out: out, interval: interval}
}

func (r *bellRinger) StartRinging() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	stop := make(chan struct{})
	r.stop = stop

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			r.ring(stop)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// ring writes one bell unless the ringer was stopped meanwhile
func (r *bellRinger) ring(stop chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != stop {
		return
	}
	_, _ = io.WriteString(r.out, "\a")
}

func (r *bellRinger) StopRinging() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return
	}
	close(r.stop)
	r.stop = nil
}
