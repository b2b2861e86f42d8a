package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a message into a single JSON frame with its type
// discriminator injected.
func Encode(message Message) ([]byte, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", message.MessageType(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", message.MessageType(), err)
	}

	discriminator, err := json.Marshal(message.MessageType())
	if err != nil {
		return nil, err
	}
	fields["type"] = discriminator

	return json.Marshal(fields)
}

// Decode parses a JSON frame into its typed message, validating required
// fields. Unknown discriminators and non-object frames yield typed errors.
func Decode(frame []byte) (Message, error) {
	var header struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(frame, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if header.Type == "" {
		return nil, ErrMissingType
	}

	switch header.Type {
	case TypeJoinNote:
		return decodeValidated[JoinNote](frame)
	case TypeNoteUpdate:
		return decodeValidated[NoteUpdate](frame)
	case TypeNoteDelete:
		return decodeValidated[NoteDelete](frame)
	case TypeCursorUpdate:
		return decodeInto[CursorUpdate](frame)
	case TypeReplicaUpdate:
		return decodeValidated[ReplicaUpdate](frame)
	case TypeDocumentState:
		return decodeInto[DocumentState](frame)
	case TypeNoteUpdated:
		return decodeInto[NoteUpdated](frame)
	case TypeNoteDeleted:
		return decodeInto[NoteDeleted](frame)
	case TypeUserJoined:
		return decodeInto[UserJoined](frame)
	case TypeUserLeft:
		return decodeInto[UserLeft](frame)
	case TypeError:
		return decodeInto[ErrorReply](frame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, header.Type)
	}
}

type validated interface {
	Message
	Validate() error
}

func decodeInto[M Message](frame []byte) (Message, error) {
	var message M
	if err := json.Unmarshal(frame, &message); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return message, nil
}

func decodeValidated[M validated](frame []byte) (Message, error) {
	var message M
	if err := json.Unmarshal(frame, &message); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}
	return message, nil
}
