package main

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type CommandWriter interface {
	WriteCommand(cmd Command) error
}

// MotorController turns start/stop requests into edge-triggered commands: a
// direction command is only sent when the direction changes and a stop only
// when the motor is running. Speed commands are relative steps and always
// sent; the speed level itself is not tracked.
type MotorController struct {
	writer CommandWriter
	log    *logrus.Entry

	lock   sync.Mutex
	states map[MotorId]Direction
}

func NewMotorController(writer CommandWriter, log *logrus.Entry) *MotorController {
	return &MotorController{
		writer: writer,
		log:    log,
		states: map[MotorId]Direction{
			Motor1: Stopped,
			Motor2: Stopped,
		},
	}
}

func (mc *MotorController) State(motor MotorId) Direction {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	return mc.states[motor]
}

func (mc *MotorController) StartForward(motor MotorId) {
	mc.transition(motor, Forward, fmt.Sprintf("%s Forward Start", motor))
}

func (mc *MotorController) StartBackward(motor MotorId) {
	mc.transition(motor, Backward, fmt.Sprintf("%s Backward Start", motor))
}

func (mc *MotorController) Stop(motor MotorId) {
	mc.transition(motor, Stopped, fmt.Sprintf("%s Stop", motor))
}

// StopAll stops both motors. Motors already stopped are left alone.
func (mc *MotorController) StopAll() {
	mc.Stop(Motor1)
	mc.Stop(Motor2)
	mc.log.Info("All motors stopped")
}

func (mc *MotorController) IncreaseSpeed() {
	mc.send(IncreaseSpeed, "Increase Speed")
}

func (mc *MotorController) DecreaseSpeed() {
	mc.send(DecreaseSpeed, "Decrease Speed")
}

func (mc *MotorController) transition(motor MotorId, target Direction, description string) {
	commands, ok := commandsByMotor[motor]
	if !ok {
		mc.log.Warnf("Ignoring command for unknown motor %d", int(motor))
		return
	}

	mc.lock.Lock()
	defer mc.lock.Unlock()
	if mc.states[motor] == target {
		return
	}

	var cmd Command
	switch target {
	case Forward:
		cmd = commands.forward
	case Backward:
		cmd = commands.reverse
	default:
		cmd = commands.stop
	}

	mc.send(cmd, description)
	mc.states[motor] = target
}

// send never fails towards the caller: a dropped command must not block input
// handling, so write errors are only logged.
func (mc *MotorController) send(cmd Command, description string) {
	err := mc.writer.WriteCommand(cmd)
	if err != nil {
		mc.log.WithError(err).Errorf("Failed to send command %s", cmd.Token())
		return
	}

	mc.log.Infof("Command: %s", description)
}
