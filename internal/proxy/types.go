package proxy

import "errors"

// AgentRequest is the body accepted on /start_agent and /stop_agent and
// forwarded byte-for-byte (after re-serialization) to the backend.
type AgentRequest struct {
	ChannelName string `json:"channel_name"`
	UID         int    `json:"uid"`
}

// Validate checks the request fields.
func (r *AgentRequest) Validate() error {
	if r.ChannelName == "" {
		return errors.New("channel_name is required")
	}
	return nil
}
