package session

import (
	"io"
	"sync"
)

// funnel serializes every write to a host's terminal sink so exec echo and
// shell data reach the terminal in arrival order.
type funnel struct {
	mu   sync.Mutex
	sink io.Writer
}

func (f *funnel) setSink(sink io.Writer) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
}

func (f *funnel) hasSink() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink != nil
}

func (f *funnel) write(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sink != nil {
		_, _ = f.sink.Write(p)
	}
}

func (f *funnel) writeString(s string) {
	f.write([]byte(s))
}

// deliver hands a shell chunk to fn while holding the funnel lock.
func (f *funnel) deliver(fn func([]byte), p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(p)
}

// echoWriter captures a stream into buf and mirrors each chunk to the funnel.
type echoWriter struct {
	buf    []byte
	funnel *funnel
	prefix string
	suffix string
	wrote  func()
}

func (w *echoWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.buf = append(w.buf, p...)
	if w.wrote != nil {
		w.wrote()
	}
	if w.funnel != nil {
		if w.prefix == "" && w.suffix == "" {
			w.funnel.write(p)
		} else {
			chunk := make([]byte, 0, len(w.prefix)+len(p)+len(w.suffix))
			chunk = append(chunk, w.prefix...)
			chunk = append(chunk, p...)
			chunk = append(chunk, w.suffix...)
			w.funnel.write(chunk)
		}
	}
	return len(p), nil
}
