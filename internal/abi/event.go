package abi

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Log is a decoded event log.
type Log struct {
	Event string
	Args  map[string]any
}

// EncodeEventTopics builds a topic filter for the event. args line up with the
// indexed inputs; a nil arg (or a missing trailing one) matches anything.
func EncodeEventTopics(event Item, args ...any) ([][]common.Hash, error) {
	topic, err := event.Topic()
	if err != nil {
		return nil, err
	}
	var indexed []Parameter
	for _, p := range event.Inputs {
		if p.Indexed {
			indexed = append(indexed, p)
		}
	}
	if len(args) > len(indexed) {
		return nil, fmt.Errorf("%w: %d indexed inputs, %d args", ErrTopicsMismatch, len(indexed), len(args))
	}

	topics := [][]common.Hash{{topic}}
	for i, arg := range args {
		if arg == nil {
			topics = append(topics, nil)
			continue
		}
		h, err := encodeTopic(indexed[i], arg)
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", indexed[i].Name, err)
		}
		topics = append(topics, []common.Hash{h})
	}
	for len(topics) > 1 && topics[len(topics)-1] == nil {
		topics = topics[:len(topics)-1]
	}
	return topics, nil
}

func encodeTopic(p Parameter, v any) (common.Hash, error) {
	t, err := ParseType(p)
	if err != nil {
		return common.Hash{}, err
	}
	switch t.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return common.Hash{}, fmt.Errorf("%w: %T is not a string", ErrInvalidValue, v)
		}
		return crypto.Keccak256Hash([]byte(s)), nil
	case KindBytes:
		b, err := toBytes(v)
		if err != nil {
			return common.Hash{}, err
		}
		return crypto.Keccak256Hash(b), nil
	case KindArray, KindTuple:
		return common.Hash{}, fmt.Errorf("%w: indexed %s filters are not supported", ErrInvalidType, t)
	}
	word, err := encodeValue(t, v)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(word), nil
}

// DecodeEventLog matches topic[0] against the ABI's events and decodes the log.
// Indexed dynamic values cannot be recovered and are returned as their hash.
func DecodeEventLog(a *ABI, topics []common.Hash, data []byte) (*Log, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", ErrTopicsMismatch)
	}
	event, err := a.EventByTopic(topics[0])
	if err != nil {
		return nil, err
	}

	var indexed, plain []Parameter
	for _, p := range event.Inputs {
		if p.Indexed {
			indexed = append(indexed, p)
		} else {
			plain = append(plain, p)
		}
	}
	if len(indexed) != len(topics)-1 {
		return nil, fmt.Errorf("%w: %s expects %d indexed topics, got %d", ErrTopicsMismatch, event.Name, len(indexed), len(topics)-1)
	}

	args := make(map[string]any, len(event.Inputs))
	for i, p := range indexed {
		t, err := ParseType(p)
		if err != nil {
			return nil, err
		}
		if t.IsDynamic() || t.Kind == KindArray || t.Kind == KindTuple {
			args[argName(p, i)] = topics[i+1]
			continue
		}
		vals, err := DecodeTypes([]*Type{t}, topics[i+1].Bytes())
		if err != nil {
			return nil, fmt.Errorf("decode %s topic %d: %w", event.Name, i+1, err)
		}
		args[argName(p, i)] = vals[0]
	}

	if len(plain) > 0 {
		vals, err := DecodeParameters(plain, data)
		if err != nil {
			return nil, fmt.Errorf("decode %s data: %w", event.Name, err)
		}
		for i, p := range plain {
			args[argName(p, len(indexed)+i)] = vals[i]
		}
	}
	return &Log{Event: event.Name, Args: args}, nil
}

func argName(p Parameter, i int) string {
	if p.Name != "" {
		return p.Name
	}
	return strconv.Itoa(i)
}
