package main

import (
	"fmt"
	"time"
)

type MotorId int

const (
	Motor1 MotorId = 1
	Motor2 MotorId = 2
)

func (m MotorId) String() string {
	return fmt.Sprintf("Motor %d", int(m))
}

type Direction int

const (
	Stopped Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "stopped"
	}
}

// Command is one line of the wire protocol, newline included.
type Command string

const (
	IncreaseSpeed Command = "INCREASE_SPEED\n"
	DecreaseSpeed Command = "DECREASE_SPEED\n"
	M1Forward     Command = "M1F\n"
	M1Reverse     Command = "M1R\n"
	M1Stop        Command = "M1S\n"
	M2Forward     Command = "M2F\n"
	M2Reverse     Command = "M2R\n"
	M2Stop        Command = "M2S\n"
)

// Token returns the command without its line terminator.
func (c Command) Token() string {
	return string(c[:len(c)-1])
}

type motorCommands struct {
	forward Command
	reverse Command
	stop    Command
}

var commandsByMotor = map[MotorId]motorCommands{
	Motor1: {forward: M1Forward, reverse: M1Reverse, stop: M1Stop},
	Motor2: {forward: M2Forward, reverse: M2Reverse, stop: M2Stop},
}

// Key is a logical monitored key, independent of the physical key bound to it.
type Key string

const (
	KeyForward1  Key = "forward-1"
	KeyReverse1  Key = "reverse-1"
	KeyForward2  Key = "forward-2"
	KeyReverse2  Key = "reverse-2"
	KeySpeedUp   Key = "speed-up"
	KeySpeedDown Key = "speed-down"
	KeyExit      Key = "exit"
)

var MonitoredKeys = []Key{
	KeyForward1,
	KeyReverse1,
	KeyForward2,
	KeyReverse2,
	KeySpeedUp,
	KeySpeedDown,
}

type KeyAction int

const (
	KeyDown KeyAction = iota
	KeyUp
)

func (a KeyAction) String() string {
	if a == KeyUp {
		return "up"
	}

	return "down"
}

// KeyEvent is a raw event from an input source. Name is the physical key,
// e.g. "w" or "esc".
type KeyEvent struct {
	Name   string
	Action KeyAction
}

func Down(name string) KeyEvent {
	return KeyEvent{Name: name, Action: KeyDown}
}

func Up(name string) KeyEvent {
	return KeyEvent{Name: name, Action: KeyUp}
}

type Telemetry struct {
	Session    string    `json:"session"`
	Line       string    `json:"line"`
	ReceivedAt time.Time `json:"receivedAt"`
}
