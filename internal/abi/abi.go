package abi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Item is one entry of a JSON ABI: a function, event, error or constructor.
type Item struct {
	Type            string      `json:"type"`
	Name            string      `json:"name"`
	Inputs          []Parameter `json:"inputs"`
	Outputs         []Parameter `json:"outputs,omitempty"`
	StateMutability string      `json:"stateMutability,omitempty"`
	Anonymous       bool        `json:"anonymous,omitempty"`
}

// Signature renders name(type,...) with canonical types.
func (it Item) Signature() (string, error) {
	types, err := ParseTypes(it.Inputs)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return it.Name + "(" + strings.Join(parts, ",") + ")", nil
}

// Selector is the first four bytes of keccak256(signature).
func (it Item) Selector() ([4]byte, error) {
	var sel [4]byte
	h, err := it.Topic()
	if err != nil {
		return sel, err
	}
	copy(sel[:], h[:4])
	return sel, nil
}

// Topic is keccak256(signature), used as topic[0] for events.
func (it Item) Topic() (common.Hash, error) {
	sig, err := it.Signature()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte(sig)), nil
}

// Payable reports whether the function accepts value.
func (it Item) Payable() bool {
	return it.StateMutability == "payable"
}

// ABI groups the parsed items of a contract interface.
type ABI struct {
	Functions []Item
	Events    []Item
	Errors    []Item
}

// ParseABI parses a JSON ABI and validates every parameter type.
func ParseABI(raw []byte) (*ABI, error) {
	var items []Item
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("parse abi json: %w", err)
	}

	out := &ABI{}
	for _, it := range items {
		if _, err := ParseTypes(it.Inputs); err != nil {
			return nil, fmt.Errorf("%s %s inputs: %w", it.Type, it.Name, err)
		}
		if _, err := ParseTypes(it.Outputs); err != nil {
			return nil, fmt.Errorf("%s %s outputs: %w", it.Type, it.Name, err)
		}
		switch it.Type {
		case "function", "":
			it.Type = "function"
			out.Functions = append(out.Functions, it)
		case "event":
			out.Events = append(out.Events, it)
		case "error":
			out.Errors = append(out.Errors, it)
		}
	}
	return out, nil
}

// MustParseABI is ParseABI for package level constants.
func MustParseABI(raw string) *ABI {
	a, err := ParseABI([]byte(raw))
	if err != nil {
		panic(err)
	}
	return a
}

// Function finds a function by name or by full signature. Overloaded names
// must be looked up by signature.
func (a *ABI) Function(name string) (Item, error) {
	return lookup(a.Functions, name, ErrFunctionNotFound)
}

// Event finds an event by name or by full signature.
func (a *ABI) Event(name string) (Item, error) {
	return lookup(a.Events, name, ErrEventNotFound)
}

// FunctionBySelector finds the function whose selector prefixes data.
func (a *ABI) FunctionBySelector(sel []byte) (Item, error) {
	return bySelector(a.Functions, sel)
}

// ErrorBySelector finds a custom error by selector.
func (a *ABI) ErrorBySelector(sel []byte) (Item, error) {
	return bySelector(a.Errors, sel)
}

// EventByTopic finds a non-anonymous event by topic[0].
func (a *ABI) EventByTopic(topic common.Hash) (Item, error) {
	for _, it := range a.Events {
		if it.Anonymous {
			continue
		}
		h, err := it.Topic()
		if err == nil && h == topic {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("%w: topic %s", ErrEventNotFound, topic.Hex())
}

func lookup(items []Item, name string, notFound error) (Item, error) {
	bySig := strings.Contains(name, "(")
	var match []Item
	for _, it := range items {
		if bySig {
			if sig, err := it.Signature(); err == nil && sig == name {
				return it, nil
			}
			continue
		}
		if it.Name == name {
			match = append(match, it)
		}
	}
	switch len(match) {
	case 0:
		return Item{}, fmt.Errorf("%w: %s", notFound, name)
	case 1:
		return match[0], nil
	default:
		return Item{}, fmt.Errorf("%w: %s is overloaded, use its signature", notFound, name)
	}
}

func bySelector(items []Item, sel []byte) (Item, error) {
	if len(sel) < 4 {
		return Item{}, fmt.Errorf("%w: %x", ErrSelectorNotFound, sel)
	}
	for _, it := range items {
		s, err := it.Selector()
		if err == nil && bytes.Equal(s[:], sel[:4]) {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("%w: 0x%x", ErrSelectorNotFound, sel[:4])
}
