package deocean

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge exposes a gateway session over MQTT. It handles:
//   - Commands from Core, translated to device commands
//   - Device state changes, published as retained state messages
//   - Panel button presses, published as scene events
//   - Device inventory and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID string
	topics   Topics
	mqtt     MQTTClient
	registry *Registry
	health   *HealthReporter

	tracked   map[Address]bool
	trackedMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once

	logSink
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Topics sets the topic prefix.
	Topics Topics

	// Registry holds the devices and scenes to expose.
	Registry *Registry

	// Link provides session statistics for health reporting (optional).
	Link LinkStatus

	// GatewayAddress is reported in health messages.
	GatewayAddress string

	MQTTClient MQTTClient

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = Protocol
	}

	b := &Bridge{
		bridgeID: opts.BridgeID,
		topics:   opts.Topics,
		mqtt:     opts.MQTTClient,
		registry: opts.Registry,
		tracked:  make(map[Address]bool),
		done:     make(chan struct{}),
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:       opts.BridgeID,
		Version:        opts.Version,
		Interval:       opts.HealthInterval,
		GatewayAddress: opts.GatewayAddress,
		Topics:         opts.Topics,
		Publisher:      opts.MQTTClient,
		Link:           opts.Link,
	})
	b.SetLogger(opts.Logger)
	return b, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.set(logger)
	b.health.SetLogger(logger)
}

// Health returns the health reporter, e.g. to configure the MQTT LWT.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to commands, starts publishing device state and scene
// events, announces the device inventory and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.registry.OnScene(b.publishSceneEvent)
	for _, dev := range b.registry.Devices() {
		b.Track(dev)
	}

	topic := b.topics.CommandSubscribe()
	if err := b.mqtt.Subscribe(topic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.PublishDiscovery()

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"devices", b.registry.DeviceCount(),
		"scenes", len(b.registry.Scenes()))
	return nil
}

// Stop stops health reporting. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// Track publishes the device's state now and on every change. Devices
// registered after Start must be tracked explicitly.
func (b *Bridge) Track(dev *Device) {
	b.trackedMu.Lock()
	if b.tracked[dev.Address()] {
		b.trackedMu.Unlock()
		return
	}
	b.tracked[dev.Address()] = true
	b.trackedMu.Unlock()

	dev.OnUpdate(b.publishState)
	b.publishState(dev)
}

// PublishDiscovery publishes the device and scene inventory.
func (b *Bridge) PublishDiscovery() {
	msg := NewDiscoveryMessage(b.bridgeID, b.registry)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Discovery(), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// publishState publishes a device's retained state.
func (b *Bridge) publishState(dev *Device) {
	if b.stopped() {
		return
	}

	payload, err := json.Marshal(NewStateMessage(dev))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(dev.Address().String()), payload, 1, true); err != nil {
		b.logError("failed to publish state", err, "device", dev.Address().String())
	}
}

// publishSceneEvent publishes a panel button press.
func (b *Bridge) publishSceneEvent(task *SceneTask) {
	if b.stopped() {
		return
	}

	payload, err := json.Marshal(NewSceneEvent(task))
	if err != nil {
		b.logError("failed to marshal scene event", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Event(task.ID), payload, 1, false); err != nil {
		b.logError("failed to publish scene event", err, "scene_id", task.ID)
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err, "topic", topic)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	target := topic[strings.LastIndex(topic, "/")+1:]
	if target == "" || target == "+" {
		target = cmd.DeviceID
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device", target,
		"command", cmd.Command)

	addr, err := ParseAddress(target)
	if err != nil {
		b.publishAckError(cmd, target, ErrCodeInvalidParameters, err.Error())
		return
	}
	dev, ok := b.registry.Get(addr)
	if !ok {
		b.publishAckError(cmd, addr.String(), ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", addr))
		return
	}

	if code, err := b.executeCommand(dev, cmd); err != nil {
		b.publishAckError(cmd, addr.String(), code, err.Error())
		return
	}
	b.publishAck(cmd, addr.String(), AckAccepted)
}

// executeCommand runs a command on a device.
//
// Returns:
//   - string: Ack error code when err is non-nil
//   - error: Why the command was rejected
func (b *Bridge) executeCommand(dev *Device, cmd CommandMessage) (string, error) {
	var err error
	switch cmd.Command {
	case "on":
		err = dev.TurnOn()
	case "off":
		err = dev.TurnOff()
	case "toggle":
		err = dev.Toggle()
	case "sync":
		err = dev.Sync()
	case "set_position":
		pos, perr := positionParameter(cmd.Parameters)
		if perr != nil {
			return ErrCodeInvalidParameters, perr
		}
		err = dev.SetPosition(pos)
	default:
		return ErrCodeInvalidCommand, fmt.Errorf("unknown command: %s", cmd.Command)
	}

	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, ErrUnsupportedOperation):
		return ErrCodeInvalidCommand, err
	default:
		return ErrCodeBridgeError, err
	}
}

// positionParameter extracts a 0-100 "position" parameter.
func positionParameter(params map[string]any) (int, error) {
	v, ok := params["position"]
	if !ok {
		return 0, fmt.Errorf("missing 'position' parameter")
	}
	pos, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("'position' must be a number")
	}
	if pos < 0 || pos > maxPosition {
		return 0, fmt.Errorf("'position' must be 0-100, got %.2f", pos)
	}
	return int(pos), nil
}

func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	b.sendAck(NewAckMessage(cmd, address, status), address)
}

func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.logWarn("command failed", "command_id", cmd.ID, "code", code, "message", message)
	b.sendAck(NewAckError(cmd, address, code, message), address)
}

func (b *Bridge) sendAck(ack AckMessage, address string) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(address), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}
