package roap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantTag string
		wantErr error
	}{
		{
			name:    "request root",
			input:   `<?xml version="1.0"?><addContentKeyRequest transactionId="t1"><contentId>c</contentId></addContentKeyRequest>`,
			wantTag: TagAddContentKeyRequest,
		},
		{
			name:    "unknown root is still a document",
			input:   `<hello><world/></hello>`,
			wantTag: "hello",
		},
		{
			name:    "empty input",
			input:   "   ",
			wantErr: ErrEmptyDocument,
		},
		{
			name:    "unclosed element",
			input:   `<addContentKeyRequest>`,
			wantErr: ErrMalformed,
		},
		{
			name:    "two roots",
			input:   `<a/><b/>`,
			wantErr: ErrMalformed,
		},
		{
			name:    "plain text",
			input:   `not xml at all`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := DecodeDocument(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTag, doc.RootElement().Name())
		})
	}
}

func TestDecodeDocumentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<omaDRMServerInfo id="s1"/>`), 0644))

	doc, err := DecodeDocumentFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "omaDRMServerInfo", doc.RootElement().Name())

	_, err = DecodeDocumentFromFile(filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := NewAddDeviceRightsRequest("device-7", "cid:movie-1", "play", "display")
	text, err := req.Encode()
	require.NoError(t, err)

	doc, err := DecodeDocument(text)
	require.NoError(t, err)
	assert.Equal(t, TagAddDeviceRightsRequest, doc.RootElement().Name())

	parsed, err := ParseAddDeviceRightsRequest(doc.RootElement())
	require.NoError(t, err)
	assert.Equal(t, req.TransactionID, parsed.TransactionID)
	assert.Equal(t, req.DeviceID, parsed.DeviceID)
	assert.Equal(t, req.ContentID, parsed.ContentID)
	assert.Equal(t, []string{"play", "display"}, parsed.Permissions)

	resp := &AddDeviceRightsResponse{
		TransactionID:  req.TransactionID,
		Status:         StatusSuccess,
		DeviceID:       req.DeviceID,
		ContentID:      req.ContentID,
		RightsObjectID: "ro-1",
		NotAfter:       time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	text, err = resp.Encode()
	require.NoError(t, err)

	doc, err = DecodeDocument(text)
	require.NoError(t, err)
	parsedResp, err := ParseAddDeviceRightsResponse(doc.RootElement())
	require.NoError(t, err)
	assert.Equal(t, resp.Status, parsedResp.Status)
	assert.Equal(t, resp.RightsObjectID, parsedResp.RightsObjectID)
	assert.True(t, resp.NotAfter.Equal(parsedResp.NotAfter))
}

func TestParseValidation(t *testing.T) {
	t.Run("wrong tag", func(t *testing.T) {
		doc, err := DecodeDocument(`<addContentKeyResponse transactionId="t" status="Success"/>`)
		require.NoError(t, err)
		_, err = ParseAddContentKeyRequest(doc.RootElement())
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing content key", func(t *testing.T) {
		doc, err := DecodeDocument(`<addContentKeyRequest transactionId="t"><contentId>c</contentId></addContentKeyRequest>`)
		require.NoError(t, err)
		_, err = ParseAddContentKeyRequest(doc.RootElement())
		assert.ErrorIs(t, err, ErrMalformed)
		assert.Contains(t, err.Error(), "contentKey")
	})

	t.Run("missing status", func(t *testing.T) {
		doc, err := DecodeDocument(`<addContentKeyResponse transactionId="t"/>`)
		require.NoError(t, err)
		_, err = ParseAddContentKeyResponse(doc.RootElement())
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("nil element", func(t *testing.T) {
		_, err := ParseAddDeviceRightsRequest(nil)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("content key request", func(t *testing.T) {
		req := NewAddContentKeyRequest("cid:a", "AAECAwQFBgcICQoLDA0ODw==")
		text, err := req.Encode()
		require.NoError(t, err)
		doc, err := DecodeDocument(text)
		require.NoError(t, err)
		parsed, err := ParseAddContentKeyRequest(doc.RootElement())
		require.NoError(t, err)
		assert.Equal(t, "AES_128_CBC", parsed.EncryptionMethod)
		assert.NotEmpty(t, parsed.TransactionID)
	})
}
