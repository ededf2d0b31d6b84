// Package inject provides text injection into the active application
// using robotgo for keystroke simulation or clipboard paste.
package inject

import (
	"fmt"
	"runtime"

	"github.com/go-vgo/robotgo"
)

// TextInjector delivers a transcript somewhere.
type TextInjector interface {
	Inject(text string) error
}

// keyboard is the slice of robotgo the injector drives.
type keyboard interface {
	Type(text string)
	ReadClipboard() (string, error)
	WriteClipboard(text string) error
	KeyTap(key string, modifier string) error
}

type robotgoKeyboard struct{}

func (robotgoKeyboard) Type(text string) { robotgo.Type(text) }

func (robotgoKeyboard) ReadClipboard() (string, error) { return robotgo.ReadAll() }

func (robotgoKeyboard) WriteClipboard(text string) error { return robotgo.WriteAll(text) }

func (robotgoKeyboard) KeyTap(key, modifier string) error { return robotgo.KeyTap(key, modifier) }

// Nop discards text. It backs inject.method "none".
type Nop struct{}

func (Nop) Inject(string) error { return nil }

// Injector handles typing or pasting text into the active application.
type Injector struct {
	method   string // "type" or "paste"
	kb       keyboard
	pasteMod string
}

// New returns the injector for a config method: "none", "type" or "paste".
func New(method string) (TextInjector, error) {
	switch method {
	case "none", "":
		return Nop{}, nil
	case "type", "paste":
		return newInjector(method, robotgoKeyboard{}, runtime.GOOS), nil
	default:
		return nil, fmt.Errorf("inject: unknown method %q", method)
	}
}

func newInjector(method string, kb keyboard, goos string) *Injector {
	mod := "ctrl"
	if goos == "darwin" {
		mod = "cmd"
	}
	return &Injector{method: method, kb: kb, pasteMod: mod}
}

// Inject sends text to the active application using the configured method.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}

	switch inj.method {
	case "paste":
		return inj.paste(text)
	default: // "type"
		inj.kb.Type(text)
		return nil
	}
}

// paste copies text to the clipboard and pastes it with Cmd+V or Ctrl+V.
// Faster for long text but briefly overwrites the clipboard.
func (inj *Injector) paste(text string) error {
	prev, _ := inj.kb.ReadClipboard()

	if err := inj.kb.WriteClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	if err := inj.kb.KeyTap("v", inj.pasteMod); err != nil {
		return fmt.Errorf("inject: key tap %s+v: %w", inj.pasteMod, err)
	}

	// best effort
	_ = inj.kb.WriteClipboard(prev)
	return nil
}
