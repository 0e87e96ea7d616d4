package comm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	keyReq := &roap.AddContentKeyRequest{TransactionID: "t1", ContentID: "c1", ContentKey: "a2V5"}
	rightsReq := &roap.AddDeviceRightsRequest{TransactionID: "t2", DeviceID: "d1", ContentID: "c1"}

	tests := []struct {
		name      string
		in        string
		wantOut   string
		wantAgent []string
		wantErr   error
	}{
		{
			name:    "content key request",
			in:      mustEncode(keyReq),
			wantOut: mustEncode(&roap.AddContentKeyResponse{TransactionID: "t1", Status: roap.StatusSuccess, ContentID: "c1"}),
		},
		{
			name: "device rights request",
			in:   mustEncode(rightsReq),
			wantOut: mustEncode(&roap.AddDeviceRightsResponse{
				TransactionID: "t2", Status: roap.StatusSuccess, DeviceID: "d1", ContentID: "c1", RightsObjectID: "ro-t2",
			}),
		},
		{
			name:      "content key response",
			in:        contentKeyResponse("t3"),
			wantAgent: []string{"t3"},
		},
		{
			name:      "device rights response",
			in:        mustEncode(&roap.AddDeviceRightsResponse{TransactionID: "t4", Status: roap.StatusNotFound}),
			wantAgent: []string{"t4"},
		},
		{
			name:    "unknown tag",
			in:      "<helloRequest/>",
			wantErr: ErrUnknownMessageType,
		},
		{
			name:    "malformed document",
			in:      "<addContentKeyRequest>",
			wantErr: roap.ErrMalformed,
		},
		{
			name:    "missing required field",
			in:      `<addContentKeyRequest transactionId="t5"><contentId>c</contentId></addContentKeyRequest>`,
			wantErr: roap.ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := newRecordingAgent()
			server := &stubServer{}

			out, err := Dispatch(ctx, tt.in, agent, server)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsProtocol(err))
				assert.Empty(t, out)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOut, out)
			assert.Equal(t, tt.wantAgent, agent.ids())
		})
	}
}

func TestDispatchMissingParticipants(t *testing.T) {
	in := contentKeyResponse("t1")

	_, err := Dispatch(context.Background(), in, nil, &stubServer{})
	assert.ErrorIs(t, err, ErrMissingParticipant)

	_, err = Dispatch(context.Background(), in, newRecordingAgent(), nil)
	assert.ErrorIs(t, err, ErrMissingParticipant)
	assert.True(t, IsProtocol(err))
}

func TestDispatchHandlerFailures(t *testing.T) {
	req := mustEncode(roap.NewAddContentKeyRequest("c1", "a2V5"))

	t.Run("nil response", func(t *testing.T) {
		_, err := Dispatch(context.Background(), req, newRecordingAgent(), &stubServer{nilResp: true})
		assert.ErrorIs(t, err, ErrNilResponse)
		assert.True(t, IsProtocol(err))
	})

	t.Run("panic", func(t *testing.T) {
		var (
			out string
			err error
		)
		assert.NotPanics(t, func() {
			out, err = Dispatch(context.Background(), req, newRecordingAgent(), &stubServer{panicMsg: "boom"})
		})
		assert.Empty(t, out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.True(t, IsProtocol(err))
	})
}
