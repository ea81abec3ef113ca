// Package contract exposes the escrow through three entry points in the
// shape of a smart contract: instantiate, execute and query. It decodes
// tagged messages, dispatches to the escrow service and renders
// attribute responses or JSON payloads.
package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/atinyakov/keyescrow/internal/models"
	"github.com/atinyakov/keyescrow/internal/service"
)

// Escrow is the record lifecycle the entry points dispatch to.
type Escrow interface {
	Instantiate(ctx context.Context, creator, broadcast string) (*models.Config, error)
	StoreKey(ctx context.Context, req service.StoreRequest) (uint64, error)
	RetrieveKey(ctx context.Context, keyID uint64) (string, error)
	KeyDetails(ctx context.Context, keyID uint64) (*models.KeyDetails, error)
}

// Attribute is one key/value pair of a Response.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the result of instantiate and execute.
type Response struct {
	Attributes []Attribute `json:"attributes"`
}

func (r *Response) add(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// Get returns the value of the first attribute named key.
func (r *Response) Get(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Contract dispatches entry calls to an Escrow.
type Contract struct {
	escrow Escrow
}

// New returns a Contract backed by escrow.
func New(escrow Escrow) *Contract {
	return &Contract{escrow: escrow}
}

// Instantiate records the sender as creator together with the broadcast string.
func (c *Contract) Instantiate(ctx context.Context, env Env, info MessageInfo, msg InstantiateMsg) (*Response, error) {
	if info.Sender == "" {
		return nil, fmt.Errorf("%w: missing sender", models.ErrInvalidMessage)
	}
	cfg, err := c.escrow.Instantiate(ctx, info.Sender, msg.Broadcast)
	if err != nil {
		return nil, err
	}
	return new(Response).
		add("owner", cfg.Creator).
		add("action", "instantiate"), nil
}

// Execute runs a store_key or retrieve_key request.
func (c *Contract) Execute(ctx context.Context, env Env, info MessageInfo, msg ExecuteMsg) (*Response, error) {
	switch {
	case msg.StoreKey != nil && msg.RetrieveKey != nil:
		return nil, fmt.Errorf("%w: more than one variant set", models.ErrInvalidMessage)
	case msg.StoreKey != nil:
		return c.storeKey(ctx, env, info, msg.StoreKey)
	case msg.RetrieveKey != nil:
		return c.retrieveKey(ctx, msg.RetrieveKey)
	default:
		return nil, fmt.Errorf("%w: no variant set", models.ErrInvalidMessage)
	}
}

func (c *Contract) storeKey(ctx context.Context, env Env, info MessageInfo, msg *StoreKeyMsg) (*Response, error) {
	if info.Sender == "" {
		return nil, fmt.Errorf("%w: missing sender", models.ErrInvalidMessage)
	}
	if msg.Recipient == "" {
		return nil, fmt.Errorf("%w: empty recipient", models.ErrInvalidMessage)
	}

	keyID, err := c.escrow.StoreKey(ctx, service.StoreRequest{
		Creator:   info.Sender,
		Secret:    msg.Key,
		Recipient: msg.Recipient,
		Block:     env.Block,
	})
	if err != nil {
		return nil, err
	}
	return new(Response).
		add("action", "store_key").
		add("key_id", strconv.FormatUint(keyID, 10)), nil
}

func (c *Contract) retrieveKey(ctx context.Context, msg *RetrieveKeyMsg) (*Response, error) {
	plaintext, err := c.escrow.RetrieveKey(ctx, msg.Key)
	if err != nil {
		return nil, err
	}
	return new(Response).
		add("action", "retrieve_key").
		add("key", plaintext), nil
}

// Query answers get_key_details with the JSON encoding of models.KeyDetails.
func (c *Contract) Query(ctx context.Context, env Env, msg QueryMsg) ([]byte, error) {
	if msg.GetKeyDetails == nil {
		return nil, fmt.Errorf("%w: no variant set", models.ErrInvalidMessage)
	}
	details, err := c.escrow.KeyDetails(ctx, msg.GetKeyDetails.Key)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode key details: %w", err)
	}
	return out, nil
}

// LegacyKeyDetailsAttributes renders key details as an attribute set. The
// broadcast string is reported under "encrypted_data" and the ciphertext is
// omitted.
//
// Deprecated: use Query, which returns the structured payload.
func (c *Contract) LegacyKeyDetailsAttributes(ctx context.Context, keyID uint64) (*Response, error) {
	details, err := c.escrow.KeyDetails(ctx, keyID)
	if err != nil {
		return nil, err
	}
	ts := uint64(details.Timestamp)
	return new(Response).
		add("action", "get_key_details").
		add("key_id", strconv.FormatUint(keyID, 10)).
		add("creator", details.Creator).
		add("recipient", details.Recipient).
		add("retrieved", strconv.FormatBool(details.Retrieved)).
		add("timestamp", fmt.Sprintf("%d.%09d", ts/1e9, ts%1e9)).
		add("encrypted_data", details.Broadcast), nil
}
