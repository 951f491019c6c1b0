package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Relay wires keyboard input to the motors and owns the session lifecycle.
type Relay struct {
	conn     *SerialConnection
	motors   *MotorController
	detector *EdgeDetector
	keys     KeyMap
	log      *logrus.Entry

	stomp     *StompConnection
	publisher *TelemetryPublisher
}

func NewRelay(conn *SerialConnection, keys KeyMap, log *logrus.Entry) *Relay {
	motors := NewMotorController(conn, log)
	return &Relay{
		conn:     conn,
		motors:   motors,
		detector: NewEdgeDetector(motors, keys, log),
		keys:     keys,
		log:      log,
	}
}

// WithTelemetry forwards every line read from the port to the broker.
func (r *Relay) WithTelemetry(stomp *StompConnection, publisher *TelemetryPublisher) *Relay {
	r.stomp = stomp
	r.publisher = publisher
	return r
}

func (r *Relay) Motors() *MotorController {
	return r.motors
}

// Run handles input until the exit key is pressed, the input source ends or
// ctx is cancelled. Every path stops the motors, closes the port and waits
// for the reader before returning.
func (r *Relay) Run(ctx context.Context, input InputSource) error {
	defer r.conn.Close()

	g, gctx := errgroup.WithContext(context.Background())
	readCtx, stopReading := context.WithCancel(gctx)
	defer stopReading()

	// A read failure ends telemetry but not motor control. Returning it
	// cancels gctx, which also stops the broker listener since nothing is
	// left to forward. If shutdown starts before this goroutine is
	// scheduled, Listen returns without reading, which is fine.
	r.log.Info("Listening for data from serial port")
	g.Go(func() error {
		err := r.conn.Listen(readCtx, r.onLine)
		if err != nil {
			r.log.WithError(err).Error("Failed to read from serial port")
		}

		return err
	})

	if r.stomp != nil {
		g.Go(func() error {
			r.stomp.Listen(readCtx)
			return nil
		})
	}

	inputCtx, stopInput := context.WithCancel(ctx)
	defer stopInput()

	events, err := input.Events(inputCtx)
	if err == nil {
		r.log.Info(r.consume(ctx, events))
	} else {
		r.log.WithError(err).Error("Failed to read keyboard input")
	}

	stopInput()
	if closeErr := input.Close(); closeErr != nil {
		r.log.WithError(closeErr).Warn("Failed to close input")
	}

	r.motors.StopAll()
	r.disconnect()
	stopReading()

	// closing the port unblocks a reader stuck in Read
	r.conn.Close()
	if readErr := g.Wait(); readErr != nil {
		r.log.WithError(readErr).Debug("Serial reader had stopped early")
	}

	if r.stomp != nil {
		r.stomp.Close()
	}

	return err
}

func (r *Relay) consume(ctx context.Context, events <-chan KeyEvent) string {
	for {
		select {
		case <-ctx.Done():
			return "Program interrupted"
		case event, ok := <-events:
			if !ok {
				return "Input closed, exiting program..."
			}

			if event.Name == InterruptKey {
				return "Program interrupted"
			}

			if event.Action == KeyDown && r.keys.IsExit(event.Name) {
				return "Exiting program..."
			}

			r.detector.Handle(event)
		}
	}
}

func (r *Relay) onLine(line string) {
	if r.publisher != nil {
		r.publisher.Publish(line)
	}
}

func (r *Relay) disconnect() {
	if r.stomp == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.stomp.Disconnect(ctx, uuid.New())
	if err != nil {
		r.log.WithError(err).Warn("Failed to disconnect from broker")
	}
}
