package server

import (
	"encoding/json"

	"github.com/okvee/parlor/internal/protocol"
)

// decodePayload rehydrates an envelope payload, which arrives as a
// generic JSON value, into its typed request struct.
func decodePayload(payload interface{}, dst interface{}) error {
	if payload == nil {
		return errInvalidPayload
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return err
	}
	return nil
}

func decodeAuthRequest(payload interface{}) (protocol.AuthRequest, error) {
	var req protocol.AuthRequest
	err := decodePayload(payload, &req)
	return req, err
}

func decodeConnectRequest(payload interface{}) (protocol.ConnectRequest, error) {
	var req protocol.ConnectRequest
	if payload == nil {
		// The credential may ride in the envelope token field alone.
		return req, nil
	}
	err := decodePayload(payload, &req)
	return req, err
}

func decodeJoinRoomRequest(payload interface{}) (protocol.JoinRoomRequest, error) {
	var req protocol.JoinRoomRequest
	err := decodePayload(payload, &req)
	return req, err
}

func decodeSendMessageRequest(payload interface{}) (protocol.SendMessageRequest, error) {
	var req protocol.SendMessageRequest
	err := decodePayload(payload, &req)
	return req, err
}
