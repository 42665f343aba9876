package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// NopSound discards sounds.
type NopSound struct{}

func (NopSound) Play() {}

// NopToaster discards toasts.
type NopToaster struct{}

func (NopToaster) Toast(Toast) {}

// BellSound rings the terminal bell.
type BellSound struct {
	W io.Writer
}

func (b BellSound) Play() {
	_, _ = io.WriteString(b.W, "\a")
}

// TerminalToaster prints one colored line per toast.
type TerminalToaster struct {
	mu sync.Mutex
	W  io.Writer
}

var kindColors = map[Kind]*color.Color{
	KindMessage:     color.New(color.FgCyan),
	KindInbox:       color.New(color.FgMagenta),
	KindEnded:       color.New(color.FgYellow),
	KindSendFailed:  color.New(color.FgRed),
	KindFetchFailed: color.New(color.FgRed),
	KindInfo:        color.New(color.FgHiBlack),
}

func (t *TerminalToaster) Toast(toast Toast) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := kindColors[toast.Kind]
	if !ok {
		c = kindColors[KindInfo]
	}
	_, _ = c.Fprint(t.W, "● ")
	if toast.Body == "" {
		_, _ = fmt.Fprintln(t.W, toast.Title)
		return
	}
	_, _ = fmt.Fprintf(t.W, "%s: %s\n", toast.Title, toast.Body)
}

// Recorder captures side effects. Tests and the JSON output mode use it.
type Recorder struct {
	mu     sync.Mutex
	sounds int
	toasts []Toast
}

func (r *Recorder) Play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sounds++
}

func (r *Recorder) Toast(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

// Sounds returns how many sounds were played.
func (r *Recorder) Sounds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sounds
}

// Toasts returns a copy of the recorded toasts.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// ToastsOf returns the recorded toasts of one kind.
func (r *Recorder) ToastsOf(kind Kind) []Toast {
	var out []Toast
	for _, t := range r.Toasts() {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}
