package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyescrow/internal/models"
)

func TestParseExecuteMsg(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    ExecuteMsg
		wantErr bool
	}{
		{
			name: "store key",
			body: `{"store_key":{"key":"s3cr3t","recipient":"bob"}}`,
			want: ExecuteMsg{StoreKey: &StoreKeyMsg{Key: "s3cr3t", Recipient: "bob"}},
		},
		{
			name: "retrieve key",
			body: `{"retrieve_key":{"key":12345}}`,
			want: ExecuteMsg{RetrieveKey: &RetrieveKeyMsg{Key: 12345}},
		},
		{name: "two variants", body: `{"store_key":{"key":"a","recipient":"b"},"retrieve_key":{"key":1}}`, wantErr: true},
		{name: "unknown variant", body: `{"delete_key":{"key":1}}`, wantErr: true},
		{name: "empty object", body: `{}`, wantErr: true},
		{name: "null variant", body: `{"retrieve_key":null}`, wantErr: true},
		{name: "negative id", body: `{"retrieve_key":{"key":-1}}`, wantErr: true},
		{name: "string id", body: `{"retrieve_key":{"key":"1"}}`, wantErr: true},
		{name: "unknown field", body: `{"retrieve_key":{"key":1,"force":true}}`, wantErr: true},
		{name: "not json", body: `store_key`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseExecuteMsg([]byte(tc.body))
			if tc.wantErr {
				require.ErrorIs(t, err, models.ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseQueryMsg(t *testing.T) {
	got, err := ParseQueryMsg([]byte(`{"get_key_details":{"key":7}}`))
	require.NoError(t, err)
	require.NotNil(t, got.GetKeyDetails)
	assert.Equal(t, uint64(7), got.GetKeyDetails.Key)

	for _, body := range []string{`{"get_key_details":{}, "x":1}`, `{"list_keys":{}}`, `[]`, ``} {
		_, err := ParseQueryMsg([]byte(body))
		assert.ErrorIs(t, err, models.ErrInvalidMessage, body)
	}
}

func TestParseInstantiateMsg(t *testing.T) {
	got, err := ParseInstantiateMsg([]byte(`{"broadcast":"dear AI, keep going"}`))
	require.NoError(t, err)
	assert.Equal(t, InstantiateMsg{Broadcast: "dear AI, keep going"}, got)

	_, err = ParseInstantiateMsg([]byte(`{"broadcast":1}`))
	assert.ErrorIs(t, err, models.ErrInvalidMessage)

	_, err = ParseInstantiateMsg(nil)
	assert.ErrorIs(t, err, models.ErrInvalidMessage)
}
