package camera

import "github.com/mossy-p/webrtc-camera/internal/models"

// dispatch decodes one server message and runs its handler. Malformed and
// unknown messages are logged and leave all state untouched.
func (c *Camera) dispatch(data []byte) {
	msg, err := models.Decode(data)
	if err != nil {
		c.log.Warnf("Dropping message: %v", err)
		return
	}
	c.log.Debugf("Received %s", msg.Cmd())

	switch m := msg.(type) {
	case models.JoinedCamera:
		c.registered()
	case models.UpdateCameras:
		c.log.Debug("Camera list updated")
	case models.Call:
		c.neg.Call(m.Identifier)
	case models.SDPAnswer:
		c.neg.HandleAnswer(m.Identifier, m.Description)
	case models.SDPOffer:
		c.neg.HandleOffer(m.Identifier, m.Description)
	case models.ICEAnswer:
		c.neg.HandleRemoteCandidate(m.Identifier, m.Candidate.SDPMLineIndex, m.Candidate.Candidate)
	case models.HangUp:
		c.neg.HangUp(m.Identifier, false)
	case models.Unknown:
		c.log.Warnf("Ignoring unknown command %q", m.Command)
	default:
		c.log.Errorf("No handler for %T", m)
	}
}
