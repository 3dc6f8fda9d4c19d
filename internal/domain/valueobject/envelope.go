package valueobject

import (
	"encoding/json"
	"errors"
)

// EventVersion is the contract version carried by every envelope on the
// host channel. A command whose v differs is rejected before routing.
const EventVersion = 1

// ErrUnsupportedVersion and ErrInvalidEnvelope are the two ways envelope
// parsing can fail; they never wrap a lower-level cause because the
// failure is purely structural.
var (
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrInvalidEnvelope    = errors.New("invalid envelope")
)

// CommandName is the closed set of command names the router accepts.
// Any value outside this set fails to parse; there is no passthrough.
type CommandName string

const (
	CommandHostPing    CommandName = "host.ping"
	CommandHostVersion CommandName = "host.version"

	CommandRuntimeStart  CommandName = "runtime.start"
	CommandRuntimeStop   CommandName = "runtime.stop"
	CommandRuntimeStatus CommandName = "runtime.status"

	CommandConversationInjectText CommandName = "conversation.inject_text"
	// CommandConversationGateSet is a supplement not named in the prose
	// spec but present in the original contract: it toggles whether the
	// pipeline coordinator accepts new injected turns without tearing
	// down the session.
	CommandConversationGateSet CommandName = "conversation.gate_set"

	CommandApprovalRespond CommandName = "approval.respond"

	CommandSchedulerList       CommandName = "scheduler.list"
	CommandSchedulerCreate     CommandName = "scheduler.create"
	CommandSchedulerUpdate     CommandName = "scheduler.update"
	CommandSchedulerDelete     CommandName = "scheduler.delete"
	CommandSchedulerTriggerNow CommandName = "scheduler.trigger_now"

	CommandOrbPaletteSet   CommandName = "orb.palette.set"
	CommandOrbPaletteClear CommandName = "orb.palette.clear"
	CommandOrbFeelingSet   CommandName = "orb.feeling.set"
	CommandOrbUrgencySet   CommandName = "orb.urgency.set"
	CommandOrbFlash        CommandName = "orb.flash"

	CommandCapabilityRequest CommandName = "capability.request"
	CommandCapabilityGrant   CommandName = "capability.grant"
	CommandCapabilityDeny    CommandName = "capability.deny"

	CommandOnboardingGetState CommandName = "onboarding.get_state"
	CommandOnboardingAdvance  CommandName = "onboarding.advance"
	CommandOnboardingComplete CommandName = "onboarding.complete"

	CommandSkillChannelInstall CommandName = "skill.channel.install"
	CommandSkillChannelList    CommandName = "skill.channel.list"

	CommandConfigGet   CommandName = "config.get"
	CommandConfigPatch CommandName = "config.patch"

	CommandDeviceMove   CommandName = "device.move"
	CommandDeviceGoHome CommandName = "device.go_home"
)

// knownCommands backs the closed-enum check in ParseCommand.
var knownCommands = map[CommandName]bool{
	CommandHostPing: true, CommandHostVersion: true,
	CommandRuntimeStart: true, CommandRuntimeStop: true, CommandRuntimeStatus: true,
	CommandConversationInjectText: true, CommandConversationGateSet: true,
	CommandApprovalRespond: true,
	CommandSchedulerList:   true, CommandSchedulerCreate: true, CommandSchedulerUpdate: true,
	CommandSchedulerDelete: true, CommandSchedulerTriggerNow: true,
	CommandOrbPaletteSet: true, CommandOrbPaletteClear: true, CommandOrbFeelingSet: true,
	CommandOrbUrgencySet: true, CommandOrbFlash: true,
	CommandCapabilityRequest: true, CommandCapabilityGrant: true, CommandCapabilityDeny: true,
	CommandOnboardingGetState: true, CommandOnboardingAdvance: true, CommandOnboardingComplete: true,
	CommandSkillChannelInstall: true, CommandSkillChannelList: true,
	CommandConfigGet: true, CommandConfigPatch: true,
	CommandDeviceMove: true, CommandDeviceGoHome: true,
}

// Command is the envelope shape carried on stdin.
type Command struct {
	V         int             `json:"v"`
	RequestID string          `json:"request_id"`
	Command   CommandName     `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope shape written back on stdout in reply to a
// Command. It always echoes RequestID.
type Response struct {
	V         int             `json:"v"`
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Event is the envelope shape used for fire-and-forget broadcast
// notifications (orb state changes, onboarding progress, pipeline
// control signals, ...).
type Event struct {
	V       int             `json:"v"`
	EventID string          `json:"event_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseCommand decodes a single newline-delimited JSON line into a
// Command, validating version and required fields. It never returns a
// Command alongside a non-nil error.
func ParseCommand(line []byte, hostVersion int) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, ErrInvalidEnvelope
	}
	if cmd.V != hostVersion {
		return Command{}, ErrUnsupportedVersion
	}
	if cmd.RequestID == "" {
		return Command{}, ErrInvalidEnvelope
	}
	if cmd.Command == "" || !knownCommands[cmd.Command] {
		return Command{}, ErrInvalidEnvelope
	}
	return cmd, nil
}

// EncodeResponse serializes resp with a trailing newline, as required
// for newline-delimited stdout framing.
func EncodeResponse(resp Response) ([]byte, error) {
	return encodeWithNewline(resp)
}

// EncodeEvent serializes evt with a trailing newline.
func EncodeEvent(evt Event) ([]byte, error) {
	return encodeWithNewline(evt)
}

func encodeWithNewline(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// NewOKResponse builds a successful response, marshaling payload.
func NewOKResponse(requestID string, payload interface{}) (Response, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Response{}, err
		}
		raw = b
	}
	return Response{V: EventVersion, RequestID: requestID, OK: true, Payload: raw}, nil
}

// NewErrorResponse builds a failed response carrying a string error.
func NewErrorResponse(requestID string, errMsg string) Response {
	return Response{V: EventVersion, RequestID: requestID, OK: false, Error: errMsg}
}

// NewEvent builds an event envelope, marshaling payload and generating
// no event id of its own — callers supply one (typically a uuid).
func NewEvent(eventID, name string, payload interface{}) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{V: EventVersion, EventID: eventID, Event: name, Payload: raw}, nil
}
