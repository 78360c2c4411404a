package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownKind is returned by Decode for a kind byte with no registered
// message type.
var ErrUnknownKind = errors.New("unknown message kind")

var factories = map[Kind]func() Message{
	KindSubscribe:          func() Message { return &SubscribeMessage{} },
	KindMovement:           func() Message { return &MovementMessage{} },
	KindFireBullet:         func() Message { return &FireBulletMessage{} },
	KindTargetMoveLocation: func() Message { return &TargetMoveLocationMessage{} },
	KindKill:               func() Message { return &KillMessage{} },
	KindState:              func() Message { return &StateMessage{} },
	KindCollision:          func() Message { return &CollisionMessage{} },
	KindDamage:             func() Message { return &DamageMessage{} },
	KindGameFinished:       func() Message { return &GameFinishedMessage{} },
	KindLifecycle:          func() Message { return &LifecycleMessage{} },
}

// Encode serializes msg as [1B kind][msgpack body].
func Encode(msg Message) ([]byte, error) {
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(msg.Kind()))
	return append(out, body...), nil
}

// Decode parses a payload produced by Encode. The returned message is a
// value, never a pointer, so handlers can type-switch on value types.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	kind := Kind(data[0])
	newMsg, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, data[0])
	}
	ptr := newMsg()
	if err := msgpack.Unmarshal(data[1:], ptr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return deref(ptr), nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *SubscribeMessage:
		return *v
	case *MovementMessage:
		return *v
	case *FireBulletMessage:
		return *v
	case *TargetMoveLocationMessage:
		return *v
	case *KillMessage:
		return *v
	case *StateMessage:
		return *v
	case *CollisionMessage:
		return *v
	case *DamageMessage:
		return *v
	case *GameFinishedMessage:
		return *v
	case *LifecycleMessage:
		return *v
	}
	return m
}
