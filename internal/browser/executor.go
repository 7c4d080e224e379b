package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/matchpilot/matchpilot/internal/providers"
)

// ExecAction performs one planner action on the live page. Coordinates are
// viewport coordinates matching the screenshots the planner sees.
func (r *Rod) ExecAction(ctx context.Context, a *providers.ComputerAction) error {
	if a == nil {
		return nil
	}
	page := r.op(ctx)

	switch a.Type {
	case "click":
		if err := page.Mouse.MoveTo(proto.Point{X: float64(a.X), Y: float64(a.Y)}); err != nil {
			return fmt.Errorf("move to (%d,%d): %w", a.X, a.Y, err)
		}
		return page.Mouse.Click(mouseButton(a.Button), 1)

	case "double_click":
		if err := page.Mouse.MoveTo(proto.Point{X: float64(a.X), Y: float64(a.Y)}); err != nil {
			return fmt.Errorf("move to (%d,%d): %w", a.X, a.Y, err)
		}
		return page.Mouse.Click(mouseButton(a.Button), 2)

	case "move":
		return page.Mouse.MoveTo(proto.Point{X: float64(a.X), Y: float64(a.Y)})

	case "drag":
		if len(a.Path) == 0 {
			return nil
		}
		first := a.Path[0]
		if err := page.Mouse.MoveTo(proto.Point{X: float64(first.X), Y: float64(first.Y)}); err != nil {
			return fmt.Errorf("drag start: %w", err)
		}
		if err := page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("drag down: %w", err)
		}
		for _, p := range a.Path[1:] {
			if err := page.Mouse.MoveTo(proto.Point{X: float64(p.X), Y: float64(p.Y)}); err != nil {
				return fmt.Errorf("drag move: %w", err)
			}
		}
		return page.Mouse.Up(proto.InputMouseButtonLeft, 1)

	case "scroll":
		if a.X != 0 || a.Y != 0 {
			if err := page.Mouse.MoveTo(proto.Point{X: float64(a.X), Y: float64(a.Y)}); err != nil {
				return fmt.Errorf("move to (%d,%d): %w", a.X, a.Y, err)
			}
		}
		return page.Mouse.Scroll(float64(a.ScrollX), float64(a.ScrollY), 1)

	case "type":
		return page.InsertText(a.Text)

	case "keypress":
		return pressKeys(page.KeyActions(), a.Keys)

	case "wait":
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}

	case "screenshot":
		// The planner captures a fresh screenshot after every action.
		return nil

	default:
		return fmt.Errorf("unsupported planner action %q", a.Type)
	}
}

func mouseButton(name string) proto.InputMouseButton {
	switch strings.ToLower(name) {
	case "right":
		return proto.InputMouseButtonRight
	case "middle":
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

// pressKeys presses a key combination. Modifiers are held for the duration
// of the chord; rod releases everything when the actions run.
func pressKeys(ka *rod.KeyActions, keys []string) error {
	for _, name := range keys {
		key, ok := keyFor(name)
		if !ok {
			return fmt.Errorf("unknown key %q", name)
		}
		if isModifier(name) {
			ka = ka.Press(key)
		} else {
			ka = ka.Type(key)
		}
	}
	return ka.Do()
}

func isModifier(name string) bool {
	switch strings.ToUpper(name) {
	case "CTRL", "CONTROL", "SHIFT", "ALT", "OPTION", "CMD", "META", "SUPER", "WIN":
		return true
	}
	return false
}

func keyFor(name string) (input.Key, bool) {
	switch strings.ToUpper(name) {
	case "ENTER", "RETURN":
		return input.Enter, true
	case "TAB":
		return input.Tab, true
	case "ESC", "ESCAPE":
		return input.Escape, true
	case "BACKSPACE":
		return input.Backspace, true
	case "DELETE", "DEL":
		return input.Delete, true
	case "SPACE":
		return input.Space, true
	case "UP", "ARROWUP":
		return input.ArrowUp, true
	case "DOWN", "ARROWDOWN":
		return input.ArrowDown, true
	case "LEFT", "ARROWLEFT":
		return input.ArrowLeft, true
	case "RIGHT", "ARROWRIGHT":
		return input.ArrowRight, true
	case "PAGEUP":
		return input.PageUp, true
	case "PAGEDOWN":
		return input.PageDown, true
	case "HOME":
		return input.Home, true
	case "END":
		return input.End, true
	case "CTRL", "CONTROL":
		return input.ControlLeft, true
	case "SHIFT":
		return input.ShiftLeft, true
	case "ALT", "OPTION":
		return input.AltLeft, true
	case "CMD", "META", "SUPER", "WIN":
		return input.MetaLeft, true
	}
	if runes := []rune(name); len(runes) == 1 {
		return input.Key(unicode.ToLower(runes[0])), true
	}
	return 0, false
}
