package main

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// KeyMap binds each logical key to the physical key name reported by the
// input source.
type KeyMap map[Key]string

func DefaultKeyMap() KeyMap {
	return KeyMap{
		KeyForward1:  "w",
		KeyReverse1:  "s",
		KeyForward2:  "a",
		KeyReverse2:  "d",
		KeySpeedUp:   "e",
		KeySpeedDown: "q",
		KeyExit:      "esc",
	}
}

func (km KeyMap) Validate() error {
	seen := map[string]Key{}
	for _, key := range append(append([]Key{}, MonitoredKeys...), KeyExit) {
		name := km[key]
		if len(name) == 0 {
			return ValidationError{Field: "keys." + string(key), Message: "no key bound"}
		}

		if other, ok := seen[name]; ok {
			return ValidationError{
				Field:   "keys." + string(key),
				Message: fmt.Sprintf("key %q is already bound to %s", name, other),
			}
		}

		seen[name] = key
	}

	for key := range km {
		if !isKnownKey(key) {
			return ValidationError{Field: "keys." + string(key), Message: "unknown key"}
		}
	}

	return nil
}

// Resolve returns the logical key bound to a physical key name.
func (km KeyMap) Resolve(name string) (Key, bool) {
	keys := make([]Key, 0, len(km))
	for key := range km {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		if km[key] == name {
			return key, true
		}
	}

	return "", false
}

func (km KeyMap) IsExit(name string) bool {
	return len(name) > 0 && km[KeyExit] == name
}

func isKnownKey(key Key) bool {
	if key == KeyExit {
		return true
	}

	for _, k := range MonitoredKeys {
		if k == key {
			return true
		}
	}

	return false
}

type MotorActions interface {
	StartForward(motor MotorId)
	StartBackward(motor MotorId)
	Stop(motor MotorId)
	IncreaseSpeed()
	DecreaseSpeed()
}

// EdgeDetector collapses raw key events into single press and release
// transitions, so OS key-repeat never reaches the motor direction commands.
type EdgeDetector struct {
	motors MotorActions
	keys   KeyMap
	held   map[Key]bool
	log    *logrus.Entry
}

func NewEdgeDetector(motors MotorActions, keys KeyMap, log *logrus.Entry) *EdgeDetector {
	held := make(map[Key]bool, len(MonitoredKeys))
	for _, key := range MonitoredKeys {
		held[key] = false
	}

	return &EdgeDetector{
		motors: motors,
		keys:   keys,
		held:   held,
		log:    log,
	}
}

func (ed *EdgeDetector) Held(key Key) bool {
	return ed.held[key]
}

// Handle applies one raw event and reports whether it was a press or release
// transition of a monitored key.
func (ed *EdgeDetector) Handle(event KeyEvent) bool {
	key, ok := ed.keys.Resolve(event.Name)
	if !ok {
		return false
	}

	held, monitored := ed.held[key]
	if !monitored {
		return false
	}

	// speed keys are momentary: every down steps the speed, repeats included
	if key == KeySpeedUp || key == KeySpeedDown {
		if event.Action != KeyDown {
			return false
		}

		ed.press(key)
		ed.log.Debugf("Key pressed: %s", event.Name)
		return true
	}

	switch {
	case event.Action == KeyDown && !held:
		ed.held[key] = true
		ed.press(key)
		ed.log.Debugf("Key pressed: %s", event.Name)
		return true
	case event.Action == KeyUp && held:
		ed.held[key] = false
		ed.release(key)
		ed.log.Debugf("Key released: %s", event.Name)
		return true
	}

	return false
}

func (ed *EdgeDetector) press(key Key) {
	switch key {
	case KeySpeedDown:
		ed.motors.DecreaseSpeed()
	case KeySpeedUp:
		ed.motors.IncreaseSpeed()
	case KeyForward1:
		ed.motors.StartForward(Motor1)
	case KeyReverse1:
		ed.motors.StartBackward(Motor1)
	case KeyForward2:
		ed.motors.StartForward(Motor2)
	case KeyReverse2:
		ed.motors.StartBackward(Motor2)
	}
}

func (ed *EdgeDetector) release(key Key) {
	switch key {
	case KeyForward1, KeyReverse1:
		ed.motors.Stop(Motor1)
	case KeyForward2, KeyReverse2:
		ed.motors.Stop(Motor2)
	}
}
