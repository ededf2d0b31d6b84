// Package hotkey provides a global hotkey listener using gohook.
// It supports "toggle" mode (press to start, press again to stop) and
// "hold" mode (press to start, release to stop).
package hotkey

import (
	"errors"
	"fmt"
	"sync"

	hook "github.com/robotn/gohook"
)

// Mode selects how key presses map to recording actions.
type Mode int

const (
	Toggle Mode = iota
	Hold
)

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "toggle", "":
		return Toggle, nil
	case "hold":
		return Hold, nil
	default:
		return Toggle, fmt.Errorf("hotkey: unknown mode %q", s)
	}
}

func (m Mode) String() string {
	if m == Hold {
		return "hold"
	}
	return "toggle"
}

// EventType is a raw key transition of the hotkey combo.
type EventType int

const (
	// Pressed fires when the combo goes down.
	Pressed EventType = iota
	// Released fires when the combo goes up. Only emitted in hold mode.
	Released
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Action is what the recorder should do in response to an Event.
type Action int

const (
	None Action = iota
	Start
	Stop
)

func (a Action) String() string {
	switch a {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "none"
	}
}

// Decide maps ev to an action given whether a recording is running. The
// decision is made against the recorder's real state so a capture that
// ended by itself never leaves the hotkey out of step.
func (m Mode) Decide(ev Event, recording bool) Action {
	switch {
	case m == Toggle && ev.Type == Pressed && recording:
		return Stop
	case m == Toggle && ev.Type == Pressed:
		return Start
	case m == Hold && ev.Type == Pressed && !recording:
		return Start
	case m == Hold && ev.Type == Released && recording:
		return Stop
	default:
		return None
	}
}

// Listener watches a global key combo and emits events.
type Listener struct {
	keys []string
	mode Mode
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	down bool
}

// NewListener creates a Listener for the given key combo.
// keys should be lowercase key names (e.g., ["ctrl", "alt", "j"]).
func NewListener(keys []string, mode Mode) (*Listener, error) {
	if len(keys) == 0 {
		return nil, errors.New("hotkey: no keys configured")
	}
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}, nil
}

// Mode returns the listener's mode.
func (l *Listener) Mode() Mode { return l.mode }

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Run listens for the global hotkey until Stop is called. Run it in a
// goroutine.
func (l *Listener) Run() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.press() })
	if l.mode == Hold {
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.release() })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// press emits Pressed once per physical press; key auto-repeat while the
// combo is held is ignored.
func (l *Listener) press() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down && l.mode == Hold {
		return
	}
	l.down = true
	l.send(Event{Type: Pressed})
	if l.mode == Toggle {
		l.down = false
	}
}

func (l *Listener) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.down {
		return
	}
	l.down = false
	l.send(Event{Type: Released})
}

func (l *Listener) send(ev Event) {
	select {
	case l.ch <- ev:
	default: // don't block the hook thread
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
