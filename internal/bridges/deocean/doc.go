// Package deocean implements a bridge for Deocean home-automation gateways.
//
// A Deocean gateway relays commands over TCP to RF-controlled lights and
// covers (curtains, blinds) and reports their state changes and wall-panel
// button presses back on the same stream.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   TCP    ┌─────────┐    RF
//	│   Gray Logic    │   MQTT   │  Deocean Bridge │◄────────►│ Gateway │◄────────► Devices
//	│      Core       │◄────────►│   (this pkg)    │   9999   └─────────┘           Panels
//	└─────────────────┘          └─────────────────┘
//
// # Components
//
//   - Address: 32-bit device address, printed as 8 hex digits
//   - Frame: one protocol message (Encode, Parser for the byte stream)
//   - Device and Registry: device state and commands, frame dispatch
//   - SceneTask: action bound to a (panel address, channel) button
//   - ParseDeviceTable, ParseSceneTable: the text configuration tables
//   - Gateway: TCP session with reopen-and-retry
//   - Session: gateway plus registry plus scene worker
//   - Bridge, HealthReporter, StatsRecorder: MQTT and telemetry boundary
//
// # Wire Format
//
//	Light: 7E len func [addr x4] tail 0D
//	Cover: 55 AA len func [addr x4] tail 0D
//
// The length counts the bytes after the function byte; a cover's length
// also counts the AA placeholder. Tails are "01 hi lo" for a control
// code, "02 04 pos" for a position and "EF ch" for a panel channel.
//
// # Configuration Tables
//
//	# name, type, address
//	Porch Light, light, 001E9DFE
//	Living Room Curtain, blind, 0x00A1B2C3
//
//	# name, panel address, channel, targets[, default op]
//	Leave Home, 0x0A0B0C0D, 2, all_light|Living Room Curtain, turn_on
//	Movie, 0A0B0C0D, 3, all_light:turn_off|Living Room Curtain:30
//
// # Thread Safety
//
// All exported types are safe for concurrent use unless documented
// otherwise. A Parser is owned by a single reader.
package deocean
