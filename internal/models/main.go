// Package models defines the core data structures of the escrow:
// the deployment config singleton, encrypted records and accounts.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Config is the one-per-deployment settings record written by instantiate.
type Config struct {
	// Creator is the account that instantiated the escrow.
	Creator string `json:"creator" cbor:"1,keyasint"`
	// Broadcast is an arbitrary string surfaced on record inspection.
	Broadcast string `json:"broadcast" cbor:"2,keyasint"`
}

// EncryptedRecord is a stored secret together with its metadata.
type EncryptedRecord struct {
	// KeyID is the handle the record is filed under.
	KeyID uint64 `json:"key_id" cbor:"1,keyasint"`
	// Creator is the account that stored the secret.
	Creator string `json:"creator" cbor:"2,keyasint"`
	// Timestamp is the block time at which the record was stored.
	Timestamp Timestamp `json:"timestamp" cbor:"3,keyasint"`
	// Recipient is the account designated at store time. It is not checked on retrieval.
	Recipient string `json:"recipient" cbor:"4,keyasint"`
	// Retrieved flips to true on the first successful retrieval and never back.
	Retrieved bool `json:"retrieved" cbor:"5,keyasint"`
	// Ciphertext is the AEAD output (ciphertext and tag) of the secret.
	Ciphertext []byte `json:"encrypted_data" cbor:"6,keyasint"`
}

// KeyDetails is the query view of a record joined with the config broadcast.
type KeyDetails struct {
	EncryptedRecord
	Broadcast string `json:"broadcast"`
}

// Account is a registered caller identity. Its Login is the Common Name of
// the client certificate issued to it.
type Account struct {
	Login     string    `json:"login" cbor:"1,keyasint"`
	CreatedAt time.Time `json:"created_at" cbor:"2,keyasint"`
}

// RecordStats summarises the record map for reporting.
type RecordStats struct {
	Total     int64
	Retrieved int64
}

// Timestamp is a block time in nanoseconds since the Unix epoch.
// It is rendered in JSON as a decimal string.
type Timestamp uint64

// TimestampFromTime converts t to a Timestamp. Times before the epoch map to zero.
func TimestampFromTime(t time.Time) Timestamp {
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return Timestamp(ns)
}

// Time returns the timestamp as a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(ts)).UTC()
}

// String returns the decimal nanosecond value.
func (ts Timestamp) String() string {
	return strconv.FormatUint(uint64(ts), 10)
}

// MarshalJSON encodes the timestamp as a quoted decimal string.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

// UnmarshalJSON accepts a quoted decimal string.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*ts = Timestamp(v)
	return nil
}
