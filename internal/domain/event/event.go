// Package event holds the overlay events relayed to connected clients and
// their wire encoding.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindRedemption Kind = "redemption"
	KindCheer      Kind = "cheer"
)

const (
	// AnonymousUser is shown when a cheer carries no user name.
	AnonymousUser = "Anonymous"

	BeansPerBit = 2

	// ShowTextThreshold is the bit count from which the overlay shows text.
	ShowTextThreshold = 100
)

// Event is an immutable occurrence ready to be encoded for overlays.
type Event interface {
	Kind() Kind
	Payload() ([]byte, error)
}

type Redemption struct {
	rewardTitle string
	userName    string
}

var _ Event = Redemption{}

func NewRedemption(rewardTitle, userName string) Redemption {
	return Redemption{rewardTitle: rewardTitle, userName: userName}
}

func (r Redemption) Kind() Kind          { return KindRedemption }
func (r Redemption) RewardTitle() string { return r.rewardTitle }
func (r Redemption) UserName() string    { return r.userName }

// Payload encodes {"reward":...,"user":...}. Overlays tell redemptions apart
// from cheers by the missing "type" key, so none is added here.
func (r Redemption) Payload() ([]byte, error) {
	return encode(redemptionPayload{Reward: r.rewardTitle, User: r.userName})
}

type Cheer struct {
	userName string
	bits     int
	beans    int
	showText bool
}

var _ Event = Cheer{}

// NewCheer derives beans and the show-text flag from bits. An empty user name
// becomes AnonymousUser and negative bit counts are treated as zero.
func NewCheer(userName string, bits int) Cheer {
	if userName == "" {
		userName = AnonymousUser
	}
	if bits < 0 {
		bits = 0
	}
	return Cheer{
		userName: userName,
		bits:     bits,
		beans:    bits * BeansPerBit,
		showText: bits >= ShowTextThreshold,
	}
}

func (c Cheer) Kind() Kind       { return KindCheer }
func (c Cheer) UserName() string { return c.userName }
func (c Cheer) Bits() int        { return c.bits }
func (c Cheer) Beans() int       { return c.beans }
func (c Cheer) ShowText() bool   { return c.showText }

func (c Cheer) Payload() ([]byte, error) {
	return encode(cheerPayload{
		Type:     string(KindCheer),
		User:     c.userName,
		Beans:    c.beans,
		ShowText: c.showText,
	})
}

type redemptionPayload struct {
	Reward string `json:"reward"`
	User   string `json:"user"`
}

type cheerPayload struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Beans    int    `json:"beans"`
	ShowText bool   `json:"showText"`
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
