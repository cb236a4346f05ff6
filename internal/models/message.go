package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command is the tag carried in the "command" field of every signalling message
type Command string

const (
	CommandJoinCamera    Command = "JOIN_CAMERA"
	CommandJoinedCamera  Command = "JOINED_CAMERA"
	CommandUpdateCameras Command = "UPDATE_CAMERAS"
	CommandCall          Command = "CALL"
	CommandSDPOffer      Command = "SDP_OFFER"
	CommandSDPAnswer     Command = "SDP_ANSWER"
	CommandICECandidate  Command = "ICE_CANDIDATE"
	CommandICEAnswer     Command = "ICE_ANSWER"
	CommandHangUp        Command = "HANG_UP"
)

// SDP types used in the "offer" object
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ErrMissingField is returned by Decode when a known command lacks a field it
// cannot be handled without.
var ErrMissingField = errors.New("models: missing field")

// SessionDescription is the {type, sdp} pair exchanged under the "offer" key
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the {candidate, sdpMLineIndex} pair exchanged under the "ice" key
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// SignalMessage is the JSON shape of every message on the signalling channel
type SignalMessage struct {
	Command    Command             `json:"command"`
	Identifier string              `json:"identifier,omitempty"`
	Offer      *SessionDescription `json:"offer,omitempty"`
	ICE        *ICECandidate       `json:"ice,omitempty"`
}

func NewJoinCamera(identifier string) SignalMessage {
	return SignalMessage{Command: CommandJoinCamera, Identifier: identifier}
}

func NewSDPOffer(identifier, sdp string) SignalMessage {
	return SignalMessage{
		Command:    CommandSDPOffer,
		Identifier: identifier,
		Offer:      &SessionDescription{Type: SDPTypeOffer, SDP: sdp},
	}
}

func NewSDPAnswer(identifier, sdp string) SignalMessage {
	return SignalMessage{
		Command:    CommandSDPAnswer,
		Identifier: identifier,
		Offer:      &SessionDescription{Type: SDPTypeAnswer, SDP: sdp},
	}
}

func NewICECandidate(identifier string, lineIndex uint16, candidate string) SignalMessage {
	return SignalMessage{
		Command:    CommandICECandidate,
		Identifier: identifier,
		ICE:        &ICECandidate{Candidate: candidate, SDPMLineIndex: lineIndex},
	}
}

func NewHangUp(identifier string) SignalMessage {
	return SignalMessage{Command: CommandHangUp, Identifier: identifier}
}

// Inbound is a decoded server message. The concrete types below are the
// complete set; anything else decodes to Unknown.
type Inbound interface {
	Cmd() Command
}

type JoinedCamera struct{}

type UpdateCameras struct{}

// Call asks the camera to start streaming to a peer.
type Call struct {
	Identifier string
}

// SDPAnswer carries the remote answer to an offer we sent.
type SDPAnswer struct {
	Identifier  string
	Description SessionDescription
}

// SDPOffer carries an offer from a peer that wants the camera to answer.
type SDPOffer struct {
	Identifier  string
	Description SessionDescription
}

// ICEAnswer carries one remote ICE candidate.
type ICEAnswer struct {
	Identifier string
	Candidate  ICECandidate
}

type HangUp struct {
	Identifier string
}

// Unknown is any command this camera does not handle.
type Unknown struct {
	Command Command
}

func (JoinedCamera) Cmd() Command  { return CommandJoinedCamera }
func (UpdateCameras) Cmd() Command { return CommandUpdateCameras }
func (Call) Cmd() Command          { return CommandCall }
func (SDPAnswer) Cmd() Command     { return CommandSDPAnswer }
func (SDPOffer) Cmd() Command      { return CommandSDPOffer }
func (ICEAnswer) Cmd() Command     { return CommandICEAnswer }
func (HangUp) Cmd() Command        { return CommandHangUp }
func (u Unknown) Cmd() Command     { return u.Command }

// Decode parses one signalling message into its tagged variant.
func Decode(data []byte) (Inbound, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	switch msg.Command {
	case CommandJoinedCamera:
		return JoinedCamera{}, nil
	case CommandUpdateCameras:
		return UpdateCameras{}, nil
	case CommandCall:
		if msg.Identifier == "" {
			return nil, missing(msg.Command, "identifier")
		}
		return Call{Identifier: msg.Identifier}, nil
	case CommandSDPAnswer:
		desc, err := description(msg, SDPTypeAnswer)
		if err != nil {
			return nil, err
		}
		return SDPAnswer{Identifier: msg.Identifier, Description: desc}, nil
	case CommandSDPOffer:
		desc, err := description(msg, SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		return SDPOffer{Identifier: msg.Identifier, Description: desc}, nil
	case CommandICEAnswer:
		if msg.Identifier == "" {
			return nil, missing(msg.Command, "identifier")
		}
		if msg.ICE == nil || msg.ICE.Candidate == "" {
			return nil, missing(msg.Command, "ice.candidate")
		}
		return ICEAnswer{Identifier: msg.Identifier, Candidate: *msg.ICE}, nil
	case CommandHangUp:
		if msg.Identifier == "" {
			return nil, missing(msg.Command, "identifier")
		}
		return HangUp{Identifier: msg.Identifier}, nil
	default:
		return Unknown{Command: msg.Command}, nil
	}
}

// description extracts the offer object, defaulting its type when the server
// omits it.
func description(msg SignalMessage, defaultType string) (SessionDescription, error) {
	if msg.Identifier == "" {
		return SessionDescription{}, missing(msg.Command, "identifier")
	}
	if msg.Offer == nil || msg.Offer.SDP == "" {
		return SessionDescription{}, missing(msg.Command, "offer.sdp")
	}
	desc := *msg.Offer
	if desc.Type == "" {
		desc.Type = defaultType
	}
	return desc, nil
}

func missing(cmd Command, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingField, cmd, field)
}
