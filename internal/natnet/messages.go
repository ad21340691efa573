// Package natnet implements the subset of the NatNet wire protocol the
// bridge needs: the connect request sent to the server's command port,
// the server-info response that completes the handshake, and the
// frame-of-data message carrying rigid body poses.
//
// MESSAGE STRUCTURE (all little-endian):
// ├── Header (4 bytes): uint16 message id + uint16 payload length
// └── Payload (variable):
//     ├── ServerInfo: 256-byte application name + 4-byte server version
//     │   + 4-byte NatNet version
//     └── FrameOfData: frame number, marker sets, unlabeled markers,
//         rigid bodies (see dataframe.go); layout varies with the
//         negotiated NatNet version
//
// Unknown message ids are classified, not rejected: the bridge keeps
// polling no matter what arrives on the multicast group.
package natnet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arena-data/mocap.bridge/internal/mocap"
)

// MessageID identifies a NatNet message type.
type MessageID uint16

const (
	MsgConnect            MessageID = 0
	MsgServerInfo         MessageID = 1
	MsgRequest            MessageID = 2
	MsgResponse           MessageID = 3
	MsgRequestModelDef    MessageID = 4
	MsgModelDef           MessageID = 5
	MsgRequestFrameOfData MessageID = 6
	MsgFrameOfData        MessageID = 7
	MsgMessageString      MessageID = 8
	MsgUnrecognized       MessageID = 0x0100
)

const (
	headerSize        = 4
	serverInfoNameLen = 256
)

// ErrNoServerInfo is returned when a frame-of-data arrives before the
// server's protocol version is known. The frame cannot be decoded without
// a version, so it is dropped and the handshake continues.
var ErrNoServerInfo = errors.New("natnet: frame received before server info")

// ErrShortMessage is returned for buffers too small to carry a header or
// whose payload is truncated relative to the header's length field.
var ErrShortMessage = errors.New("natnet: short message")

// EncodeConnectRequest serializes a connect request for the server's
// command port: a bare header with no payload, matching the packet the
// NatNet server answers with server info.
func EncodeConnectRequest() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(MsgConnect))
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	return buf
}

// Decode classifies an inbound datagram and applies it to the model.
// Server-info messages set the model's versions; frame-of-data messages
// overwrite the model's frame slot. The returned MessageID reports what
// arrived even when the payload could not be used. Message kinds the
// bridge has no use for decode to their id with a nil error.
func Decode(buf []byte, model *mocap.DataModel) (MessageID, error) {
	if len(buf) < headerSize {
		return MsgUnrecognized, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(buf))
	}

	id := MessageID(binary.LittleEndian.Uint16(buf[0:2]))
	payloadLen := int(binary.LittleEndian.Uint16(buf[2:4]))
	payload := buf[headerSize:]
	if payloadLen > len(payload) {
		return id, fmt.Errorf("%w: header claims %d payload bytes, have %d",
			ErrShortMessage, payloadLen, len(payload))
	}
	payload = payload[:payloadLen]

	switch id {
	case MsgServerInfo:
		info, err := decodeServerInfo(payload)
		if err != nil {
			return id, err
		}
		model.SetServerInfo(info)
		return id, nil

	case MsgFrameOfData:
		if !model.HasServerInfo() {
			return id, ErrNoServerInfo
		}
		frame, err := decodeFrame(payload, model.NatNetVersion())
		if err != nil {
			return id, err
		}
		model.Frame = frame
		return id, nil

	default:
		return id, nil
	}
}

// decodeServerInfo parses a server-info payload: a fixed 256-byte
// zero-padded application name followed by two 4-byte versions.
func decodeServerInfo(payload []byte) (mocap.ServerInfo, error) {
	const want = serverInfoNameLen + 4 + 4
	if len(payload) < want {
		return mocap.ServerInfo{}, fmt.Errorf("%w: server info payload %d bytes, want %d",
			ErrShortMessage, len(payload), want)
	}

	name := payload[:serverInfoNameLen]
	if idx := indexNul(name); idx >= 0 {
		name = name[:idx]
	}

	var appVer, natVer [4]byte
	copy(appVer[:], payload[serverInfoNameLen:serverInfoNameLen+4])
	copy(natVer[:], payload[serverInfoNameLen+4:serverInfoNameLen+8])

	return mocap.ServerInfo{
		AppName:       string(name),
		ServerVersion: mocap.NewVersion(appVer),
		NatNetVersion: mocap.NewVersion(natVer),
	}, nil
}

func indexNul(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
