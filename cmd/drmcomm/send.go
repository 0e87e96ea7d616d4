package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/drmcomm/internal/drmserver"
	"github.com/aixgo-dev/drmcomm/internal/encagent"
	"github.com/aixgo-dev/drmcomm/pkg/comm"
	"github.com/aixgo-dev/drmcomm/pkg/config"
	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

var (
	sendTimeout time.Duration
	sendVerbose bool

	keyContentID string
	keyValue     string

	rightsDeviceID    string
	rightsContentID   string
	rightsKey         string
	rightsPermissions []string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single request through an in-process handler and print the response",
}

var sendKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Register a content encryption key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keyContentID == "" {
			return fmt.Errorf("--content-id is required")
		}
		key := keyValue
		if key == "" {
			k, err := randomContentKey()
			if err != nil {
				return err
			}
			key = k
		}
		return runSend(cmd, func(ctx context.Context, s *session) (encagent.Result, error) {
			return s.sendKey(ctx, keyContentID, key)
		})
	},
}

var sendRightsCmd = &cobra.Command{
	Use:   "rights",
	Short: "Request a rights object for a device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rightsDeviceID == "" || rightsContentID == "" {
			return fmt.Errorf("--device-id and --content-id are required")
		}
		return runSend(cmd, func(ctx context.Context, s *session) (encagent.Result, error) {
			if rightsKey != "" {
				res, err := s.sendKey(ctx, rightsContentID, rightsKey)
				if err != nil {
					return res, err
				}
				if !res.OK() {
					return res, nil
				}
			}
			req := roap.NewAddDeviceRightsRequest(rightsDeviceID, rightsContentID, rightsPermissions...)
			wait := s.agent.Expect(req.TransactionID)
			defer s.agent.Forget(req.TransactionID)
			if err := s.handler.SendAddDeviceRightsRequest(ctx, req); err != nil {
				return encagent.Result{}, err
			}
			return s.await(ctx, wait)
		})
	},
}

func init() {
	sendCmd.PersistentFlags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the response")
	sendCmd.PersistentFlags().BoolVarP(&sendVerbose, "verbose", "v", false, "Log handler activity to stderr")

	sendKeyCmd.Flags().StringVar(&keyContentID, "content-id", "", "Content identifier")
	sendKeyCmd.Flags().StringVar(&keyValue, "key", "", "Base64 content key (random if empty)")

	sendRightsCmd.Flags().StringVar(&rightsDeviceID, "device-id", "", "Device identifier")
	sendRightsCmd.Flags().StringVar(&rightsContentID, "content-id", "", "Content identifier")
	sendRightsCmd.Flags().StringVar(&rightsKey, "key", "", "Register this base64 content key first")
	sendRightsCmd.Flags().StringSliceVar(&rightsPermissions, "permission", nil, "Granted permission (repeatable, default play)")

	sendCmd.AddCommand(sendKeyCmd, sendRightsCmd)
	rootCmd.AddCommand(sendCmd)
}

// session is a loopback handler wired to a private shared server.
type session struct {
	shared  *comm.SharedServer
	handler *comm.Handler
	agent   *encagent.Agent
}

func openSession(ctx context.Context, cfg *config.Config, logger *log.Logger) (*session, error) {
	// One-shot sends have no metrics endpoint.
	cfg.Handler.EnableMetrics = false
	shared := newSharedServer(cfg, logger)

	h, err := comm.New(ctx, shared, handlerOptions(cfg, logger)...)
	if err != nil {
		return nil, err
	}
	agent := encagent.New(16, logger)
	if err := h.Run(agent); err != nil {
		_ = h.Close(ctx)
		return nil, err
	}
	return &session{shared: shared, handler: h, agent: agent}, nil
}

func (s *session) close(ctx context.Context) {
	_ = s.handler.Close(ctx)
	_ = s.shared.Close(ctx)
}

func (s *session) sendKey(ctx context.Context, contentID, key string) (encagent.Result, error) {
	req := roap.NewAddContentKeyRequest(contentID, key)
	wait := s.agent.Expect(req.TransactionID)
	defer s.agent.Forget(req.TransactionID)
	if err := s.handler.SendAddContentKeyRequest(ctx, req); err != nil {
		return encagent.Result{}, err
	}
	return s.await(ctx, wait)
}

func (s *session) await(ctx context.Context, wait <-chan encagent.Result) (encagent.Result, error) {
	select {
	case r := <-wait:
		return r, nil
	case <-ctx.Done():
		return encagent.Result{}, fmt.Errorf("no response: %w", ctx.Err())
	}
}

func runSend(cmd *cobra.Command, exchange func(context.Context, *session) (encagent.Result, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := log.New(io.Discard, "", 0)
	if sendVerbose {
		logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, sendTimeout)
	defer cancel()

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	res, err := exchange(ctx, s)
	if err != nil {
		return err
	}

	text, err := res.Message.Encode()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)

	if !res.OK() {
		return fmt.Errorf("%s: %s %s", res.Tag, res.Status, res.Reason)
	}
	return nil
}

func randomContentKey() (string, error) {
	key := make([]byte, drmserver.ContentKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate content key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
