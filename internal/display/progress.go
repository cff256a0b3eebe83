package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner shows activity on a terminal while a long operation runs
type Spinner struct {
	message string
	style   SpinnerStyle
	active  bool
	writer  io.Writer
	colors  ColorSystem
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.RWMutex
}

// NewSpinner creates a spinner. It renders nothing unless colors are
// supported, which implies w is a terminal.
func NewSpinner(colors ColorSystem, w io.Writer, message string) *Spinner {
	return &Spinner{
		message: message,
		style:   DefaultSpinnerStyles["dots"],
		writer:  w,
		colors:  colors,
	}
}

// Start begins the animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active || !s.colors.IsColorSupported() {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.animate()
}

// Update changes the message
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop ends the animation and clears the line
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	fmt.Fprint(s.writer, "\r\033[K")
}

func (s *Spinner) animate() {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Duration(s.style.Delay) * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			msg := s.message
			s.mu.RUnlock()

			glyph := s.colors.Colorize(s.style.Frames[frame%len(s.style.Frames)], s.colors.Theme().Primary)
			fmt.Fprintf(s.writer, "\r\033[K%s %s", glyph, msg)
			frame++
		}
	}
}
