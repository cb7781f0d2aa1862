package session

import "encoding/json"

// MarshalPayload serializes the full session, track included, for the
// local cache.
func (s *Session) MarshalPayload() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalPayload restores a session written by MarshalPayload.
func UnmarshalPayload(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
