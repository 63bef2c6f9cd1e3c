package deocean

import (
	"fmt"
	"time"
)

// Protocol is the protocol identifier used in bridge messages and topics.
const Protocol = "deocean"

// DefaultTopicPrefix is the base topic for all bridge messages.
const DefaultTopicPrefix = "graylogic"

// CommandMessage is sent from Core to the bridge to command a device.
// Topic: {prefix}/command/deocean/{address}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the device address ("001E9DFE"). Used when the topic does
	// not carry an address.
	DeviceID string `json:"device_id,omitempty"`

	// Command is one of "on", "off", "toggle", "set_position", "sync".
	Command string `json:"command"`

	// Parameters contains command-specific values, e.g. {"position": 40}.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was handed to the gateway.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: {prefix}/ack/deocean/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage reports a device's state.
// Topic: {prefix}/state/deocean/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// State structure depends on device type:
	//   Light: {"status": "on", "on": true}
	//   Cover: {"status": "off", "closed": true, "position": 0}
	State map[string]any `json:"state"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// SceneEvent reports a panel button press.
// Topic: {prefix}/event/deocean/{scene_id}
type SceneEvent struct {
	SceneID   string    `json:"scene_id"`
	Name      string    `json:"name"`
	Panel     string    `json:"panel"`
	Channel   uint8     `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: {prefix}/health/deocean
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	SessionID      string            `json:"session_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *LinkStatistics   `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	ScenesManaged  int               `json:"scenes_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the gateway connection.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status       string     `json:"status"`
	Address      string     `json:"address"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// LinkStatistics contains gateway link counters.
type LinkStatistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	SendRetries    uint64 `json:"send_retries"`
	SendsDropped   uint64 `json:"sends_dropped"`
	DecodeErrors   uint64 `json:"decode_errors"`
	Reconnects     uint64 `json:"reconnects"`
	Errors         uint64 `json:"errors"`
	ScenesRun      uint64 `json:"scenes_run"`
}

// DiscoveryMessage announces the configured devices and scenes.
// Topic: {prefix}/discovery/deocean
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
	Scenes    []DiscoveredScene  `json:"scenes"`
}

// DiscoveredDevice describes one configured device.
type DiscoveredDevice struct {
	Protocol     string   `json:"protocol"`
	Address      string   `json:"address"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// DiscoveredScene describes one panel scene.
type DiscoveredScene struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Panel   string `json:"panel"`
	Channel uint8  `json:"channel"`
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, address string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  address,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, address, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage builds the state message for a device.
func NewStateMessage(dev *Device) StateMessage {
	status := dev.Status()
	state := map[string]any{"status": status.String()}

	switch dev.Type() {
	case TypeLight:
		if status != SwitchUnknown {
			state["on"] = status == SwitchOn
		}
	case TypeCover:
		if status != SwitchUnknown {
			state["closed"] = status == SwitchOff
		}
		if pos, ok := dev.CoverPosition(); ok {
			state["position"] = pos
		}
	}

	return StateMessage{
		DeviceID:  dev.UniqueID(),
		Name:      dev.Name(),
		Type:      dev.Type().String(),
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   dev.Address().String(),
	}
}

// NewSceneEvent builds the event for a triggered scene.
func NewSceneEvent(task *SceneTask) SceneEvent {
	return SceneEvent{
		SceneID:   task.ID,
		Name:      task.Name,
		Panel:     task.Address.String(),
		Channel:   task.Channel,
		Timestamp: time.Now().UTC(),
		Protocol:  Protocol,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats SessionStats, startTime time.Time) HealthMessage {
	gw := stats.Gateway
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: stats.Devices,
		ScenesManaged:  stats.Scenes,
	}

	msg.Connection = &ConnectionStatus{Status: "disconnected"}
	if gw.Connected {
		msg.Connection.Status = "connected"
	}
	if !gw.LastActivity.IsZero() && gw.LastActivity.Unix() > 0 {
		last := gw.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}

	msg.Statistics = &LinkStatistics{
		FramesReceived: gw.FramesRx,
		FramesSent:     gw.FramesTx,
		SendRetries:    gw.SendRetries,
		SendsDropped:   gw.SendsDropped,
		DecodeErrors:   gw.DecodeErrors,
		Reconnects:     gw.ReconnectsTotal,
		Errors:         gw.ErrorsTotal,
		ScenesRun:      stats.ScenesRun,
	}
	return msg
}

// NewLWTMessage creates the Last Will and Testament message published by
// the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewDiscoveryMessage describes every device and scene in the registry.
func NewDiscoveryMessage(bridgeID string, reg *Registry) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices:   []DiscoveredDevice{},
		Scenes:    []DiscoveredScene{},
	}

	for _, dev := range reg.Devices() {
		caps := []string{"on_off", "sync"}
		if dev.Type() == TypeCover {
			caps = append(caps, "position")
		}
		msg.Devices = append(msg.Devices, DiscoveredDevice{
			Protocol:     Protocol,
			Address:      dev.Address().String(),
			Type:         dev.Type().String(),
			Name:         dev.Name(),
			Capabilities: caps,
		})
	}
	for _, task := range reg.Scenes() {
		msg.Scenes = append(msg.Scenes, DiscoveredScene{
			ID:      task.ID,
			Name:    task.Name,
			Panel:   task.Address.String(),
			Channel: task.Channel,
		})
	}
	return msg
}

// Topics builds the bridge's MQTT topics under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Command returns the command topic for a device.
// Example: graylogic/command/deocean/001E9DFE
func (t Topics) Command(address string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.prefix(), Protocol, address)
}

// CommandSubscribe returns the subscription pattern for all commands.
// Example: graylogic/command/deocean/+
func (t Topics) CommandSubscribe() string {
	return fmt.Sprintf("%s/command/%s/+", t.prefix(), Protocol)
}

// Ack returns the acknowledgment topic for a device.
func (t Topics) Ack(address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", t.prefix(), Protocol, address)
}

// State returns the state topic for a device.
func (t Topics) State(address string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.prefix(), Protocol, address)
}

// Event returns the event topic for a scene.
// Example: graylogic/event/deocean/0A0B0C0D:2
func (t Topics) Event(sceneID string) string {
	return fmt.Sprintf("%s/event/%s/%s", t.prefix(), Protocol, sceneID)
}

// Health returns the health topic.
func (t Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", t.prefix(), Protocol)
}

// Discovery returns the discovery topic.
func (t Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", t.prefix(), Protocol)
}
