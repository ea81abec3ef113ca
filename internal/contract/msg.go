package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atinyakov/keyescrow/internal/chain"
	"github.com/atinyakov/keyescrow/internal/models"
)

// Env describes the block an entry call executes in.
type Env struct {
	Block chain.Block
}

// MessageInfo identifies the caller of an entry.
type MessageInfo struct {
	Sender string
}

// InstantiateMsg configures a fresh deployment.
type InstantiateMsg struct {
	Broadcast string `json:"broadcast"`
}

// StoreKeyMsg asks to escrow Key for Recipient.
type StoreKeyMsg struct {
	Key       string `json:"key"`
	Recipient string `json:"recipient"`
}

// RetrieveKeyMsg asks to decrypt the record filed under Key.
type RetrieveKeyMsg struct {
	Key uint64 `json:"key"`
}

// GetKeyDetailsMsg asks for the metadata of the record filed under Key.
type GetKeyDetailsMsg struct {
	Key uint64 `json:"key"`
}

// ExecuteMsg is a state-changing request. Exactly one variant is set.
type ExecuteMsg struct {
	StoreKey    *StoreKeyMsg    `json:"store_key,omitempty"`
	RetrieveKey *RetrieveKeyMsg `json:"retrieve_key,omitempty"`
}

// QueryMsg is a read-only request. Exactly one variant is set.
type QueryMsg struct {
	GetKeyDetails *GetKeyDetailsMsg `json:"get_key_details,omitempty"`
}

// UnmarshalJSON decodes {"<variant>":{...}} and rejects anything else.
func (m *ExecuteMsg) UnmarshalJSON(data []byte) error {
	tag, body, err := variant(data)
	if err != nil {
		return err
	}

	var out ExecuteMsg
	switch tag {
	case "store_key":
		out.StoreKey = new(StoreKeyMsg)
		err = strictDecode(body, out.StoreKey)
	case "retrieve_key":
		out.RetrieveKey = new(RetrieveKeyMsg)
		err = strictDecode(body, out.RetrieveKey)
	default:
		return fmt.Errorf("%w: unknown execute variant %q", models.ErrInvalidMessage, tag)
	}
	if err != nil {
		return err
	}
	*m = out
	return nil
}

// UnmarshalJSON decodes {"get_key_details":{...}} and rejects anything else.
func (m *QueryMsg) UnmarshalJSON(data []byte) error {
	tag, body, err := variant(data)
	if err != nil {
		return err
	}
	if tag != "get_key_details" {
		return fmt.Errorf("%w: unknown query variant %q", models.ErrInvalidMessage, tag)
	}

	out := QueryMsg{GetKeyDetails: new(GetKeyDetailsMsg)}
	if err := strictDecode(body, out.GetKeyDetails); err != nil {
		return err
	}
	*m = out
	return nil
}

// ParseExecuteMsg decodes an execute request body.
func ParseExecuteMsg(data []byte) (ExecuteMsg, error) {
	var msg ExecuteMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return ExecuteMsg{}, invalid(err)
	}
	return msg, nil
}

// ParseQueryMsg decodes a query request body.
func ParseQueryMsg(data []byte) (QueryMsg, error) {
	var msg QueryMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return QueryMsg{}, invalid(err)
	}
	return msg, nil
}

// ParseInstantiateMsg decodes an instantiate request body.
func ParseInstantiateMsg(data []byte) (InstantiateMsg, error) {
	var msg InstantiateMsg
	if err := strictDecode(data, &msg); err != nil {
		return InstantiateMsg{}, err
	}
	return msg, nil
}

func variant(data []byte) (string, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, invalid(err)
	}
	if len(fields) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", models.ErrInvalidMessage, len(fields))
	}
	for tag, body := range fields {
		return tag, body, nil
	}
	return "", nil, nil
}

func strictDecode(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: empty body", models.ErrInvalidMessage)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid(err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", models.ErrInvalidMessage)
	}
	return nil
}

func invalid(err error) error {
	if errors.Is(err, models.ErrInvalidMessage) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrInvalidMessage, err)
}
