package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/drmcomm/internal/encagent"
	"github.com/aixgo-dev/drmcomm/pkg/comm"
	"github.com/aixgo-dev/drmcomm/pkg/config"
	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

const testServerInfo = `<omaDRMServerInfo id="drm-cli" name="CLI test"><rightsTtl>2h</rightsTtl></omaDRMServerInfo>`

func writeServerInfo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.xml")
	require.NoError(t, os.WriteFile(path, []byte(testServerInfo), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configFile, serverInfoPath = "", ""
		keyValue, rightsKey = "", ""
		rightsPermissions = nil
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSendKey(t *testing.T) {
	info := writeServerInfo(t)

	out, err := execute(t, "send", "key", "--server-info", info, "--content-id", "movie-1")
	require.NoError(t, err)
	assert.Contains(t, out, "<addContentKeyResponse")
	assert.Contains(t, out, `status="Success"`)
}

func TestSendKeyRejectsBadKey(t *testing.T) {
	info := writeServerInfo(t)

	out, err := execute(t, "send", "key", "--server-info", info, "--content-id", "movie-1", "--key", "c2hvcnQ=")
	require.Error(t, err)
	assert.Contains(t, out, "MalformedRequest")
}

func TestSendRights(t *testing.T) {
	info := writeServerInfo(t)
	key, err := randomContentKey()
	require.NoError(t, err)

	out, err := execute(t, "send", "rights", "--server-info", info,
		"--device-id", "phone-1", "--content-id", "movie-1", "--key", key, "--permission", "play,display")
	require.NoError(t, err)
	assert.Contains(t, out, "<addDeviceRightsResponse")
	assert.Contains(t, out, "<rightsObjectId>")
}

func TestSendRightsUnknownContent(t *testing.T) {
	info := writeServerInfo(t)

	out, err := execute(t, "send", "rights", "--server-info", info, "--device-id", "phone-1", "--content-id", "nothing")
	require.Error(t, err)
	assert.Contains(t, out, "NotFound")
}

func TestSendMissingServerInfo(t *testing.T) {
	_, err := execute(t, "send", "key", "--server-info", filepath.Join(t.TempDir(), "absent.xml"), "--content-id", "c")
	require.Error(t, err)
	assert.True(t, comm.IsInitialization(err))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "drmcomm "+Version))
}

func TestRightsSweepSchedule(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	shared := comm.NewSharedServer(nil, logger)

	c, err := startRightsSweep(context.Background(), "", shared, logger)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = startRightsSweep(context.Background(), "not a schedule", shared, logger)
	assert.Error(t, err)

	c, err = startRightsSweep(context.Background(), "@every 1h", shared, logger)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}

func TestOpenTransport(t *testing.T) {
	cfg := config.Default()

	tr, closer, err := openTransport(cfg)
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Nil(t, closer)

	cfg.Transport.Type = config.TransportMemory
	tr, closer, err = openTransport(cfg)
	require.NoError(t, err)
	require.NotNil(t, tr)
	require.NoError(t, closer.Close())
}

func TestDrainResultsStopsOnCancel(t *testing.T) {
	agent := encagent.New(4, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := drainResults(ctx, agent.Results())

	agent.HandleAddContentKeyResponse(context.Background(), &roap.AddContentKeyResponse{
		TransactionID: "t1", Status: roap.StatusSuccess,
	})
	assert.Eventually(t, func() bool { return len(agent.Results()) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain goroutine still running after cancel")
	}
}
