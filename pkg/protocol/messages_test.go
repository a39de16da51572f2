package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	hash := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"begin", `{"cmd":"begin","name":"auto:/src","deployment":"d1"}`, ""},
		{"file", `{"cmd":"file","path":"/root/a.py","hash":"` + hash + `","mode":420,"size":0}`, ""},
		{"commit", `{"cmd":"commit"}`, ""},
		{"finalize", `{"cmd":"finalize"}`, ""},
		{"no cmd", `{"name":"x"}`, "missing cmd"},
		{"unknown cmd", `{"cmd":"pack"}`, "unknown cmd"},
		{"begin without name", `{"cmd":"begin"}`, "missing name"},
		{"file without hash", `{"cmd":"file","path":"/root/a.py"}`, "missing path or hash"},
		{"negative size", `{"cmd":"file","path":"/a","hash":"x","size":-1}`, "negative size"},
		{"not json", `{cmd`, "parse request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, req.Cmd)
		})
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"type":"missing","hashes":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeMissing, resp.Type)
	assert.Equal(t, []string{"a", "b"}, resp.Hashes)
	assert.NoError(t, resp.Err())

	_, err = ParseResponse([]byte(`{"hashes":[]}`))
	assert.ErrorContains(t, err, "missing type")
}

func TestResponseErr(t *testing.T) {
	resp := &Response{Type: TypeError, Message: "blobs missing", Fatal: true}
	err := resp.Err()

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.True(t, remote.Fatal)
	assert.Equal(t, "remote: blobs missing", err.Error())

	soft := (&Response{Type: TypeError, Message: "slow"}).Err()
	assert.Contains(t, soft.Error(), "non-fatal")
}
