// Package drmserver implements the server side of the content key and
// device rights exchange: it registers content encryption keys pushed by
// encoding agents and issues rights objects for devices.
package drmserver

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aixgo-dev/drmcomm/pkg/roap"
	"github.com/google/uuid"
)

// InfoTag is the root element name of the server bootstrap document
const InfoTag = "omaDRMServerInfo"

// ContentKeySize is the required length of a content encryption key (AES-128)
const ContentKeySize = 16

// DefaultRightsTTL is used when the bootstrap document does not set rightsTtl
const DefaultRightsTTL = 30 * 24 * time.Hour

// Info is the server bootstrap document.
//
//	<omaDRMServerInfo id="drm-1" name="Test DRM server">
//	    <url>https://drm.example.com/roap</url>
//	    <rightsTtl>720h</rightsTtl>
//	    <keyStore backend="redis">
//	        <addr>localhost:6379</addr>
//	        <prefix>drmcomm:</prefix>
//	    </keyStore>
//	</omaDRMServerInfo>
type Info struct {
	XMLName   xml.Name     `xml:"omaDRMServerInfo"`
	ID        string       `xml:"id,attr"`
	Name      string       `xml:"name,attr"`
	URL       string       `xml:"url"`
	RightsTTL string       `xml:"rightsTtl"`
	KeyStore  KeyStoreInfo `xml:"keyStore"`
}

// KeyStoreInfo selects and configures the Store backend.
type KeyStoreInfo struct {
	Backend  string `xml:"backend,attr"`
	Addr     string `xml:"addr"`
	Password string `xml:"password"`
	DB       int    `xml:"db"`
	Prefix   string `xml:"prefix"`
}

// Option configures a Server
type Option func(*Server)

// WithStore overrides the store selected by the bootstrap document
func WithStore(store Store) Option {
	return func(s *Server) { s.store = store }
}

// WithClock sets the time source used for rights expiry
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the server logger
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server handles content key and device rights requests.
type Server struct {
	info      Info
	rightsTTL time.Duration
	store     Store
	now       func() time.Time
	logger    *log.Logger
}

// New builds a server from the root element of its bootstrap document.
func New(root *roap.Element, opts ...Option) (*Server, error) {
	if root == nil {
		return nil, errors.New("server info: missing root element")
	}
	if root.Name() != InfoTag {
		return nil, fmt.Errorf("server info: expected <%s>, got <%s>", InfoTag, root.Name())
	}

	var info Info
	if err := root.Decode(&info); err != nil {
		return nil, fmt.Errorf("server info: %w", err)
	}
	if strings.TrimSpace(info.ID) == "" {
		return nil, errors.New("server info: id is required")
	}

	ttl := DefaultRightsTTL
	if info.RightsTTL != "" {
		d, err := time.ParseDuration(info.RightsTTL)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("server info: invalid rightsTtl %q", info.RightsTTL)
		}
		ttl = d
	}

	s := &Server{
		info:      info,
		rightsTTL: ttl,
		now:       time.Now,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		store, err := openStore(info.KeyStore)
		if err != nil {
			return nil, fmt.Errorf("server info: %w", err)
		}
		s.store = store
	}

	return s, nil
}

func openStore(ks KeyStoreInfo) (Store, error) {
	switch strings.ToLower(ks.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:     ks.Addr,
			Password: ks.Password,
			DB:       ks.DB,
			Prefix:   ks.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown key store backend: %s", ks.Backend)
	}
}

// ID returns the server identifier from the bootstrap document
func (s *Server) ID() string { return s.info.ID }

// Store returns the backing store
func (s *Server) Store() Store { return s.store }

// HandleAddContentKeyRequest registers the content key carried by req.
// It always returns a response; failures are reported through its status.
func (s *Server) HandleAddContentKeyRequest(ctx context.Context, req *roap.AddContentKeyRequest) *roap.AddContentKeyResponse {
	resp := &roap.AddContentKeyResponse{
		TransactionID: req.TransactionID,
		ContentID:     req.ContentID,
		Status:        roap.StatusSuccess,
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.ContentKey))
	if err != nil || len(key) != ContentKeySize {
		resp.Status = roap.StatusMalformedRequest
		resp.Reason = fmt.Sprintf("content key must be %d base64-encoded bytes", ContentKeySize)
		return resp
	}

	if err := s.store.PutContentKey(ctx, req.ContentID, key); err != nil {
		s.logger.Printf("[DRMServer] %s: store content key %s: %v", s.info.ID, req.ContentID, err)
		resp.Status = roap.StatusUnknownError
		resp.Reason = "content key could not be stored"
		return resp
	}

	s.logger.Printf("[DRMServer] %s: registered content key for %s", s.info.ID, req.ContentID)
	return resp
}

// HandleAddDeviceRightsRequest issues a rights object for a registered content item.
func (s *Server) HandleAddDeviceRightsRequest(ctx context.Context, req *roap.AddDeviceRightsRequest) *roap.AddDeviceRightsResponse {
	resp := &roap.AddDeviceRightsResponse{
		TransactionID: req.TransactionID,
		DeviceID:      req.DeviceID,
		ContentID:     req.ContentID,
		Status:        roap.StatusSuccess,
	}

	ok, err := s.store.HasContentKey(ctx, req.ContentID)
	if err != nil {
		s.logger.Printf("[DRMServer] %s: look up content key %s: %v", s.info.ID, req.ContentID, err)
		resp.Status = roap.StatusUnknownError
		resp.Reason = "content key lookup failed"
		return resp
	}
	if !ok {
		resp.Status = roap.StatusNotFound
		resp.Reason = "no content key registered for " + req.ContentID
		return resp
	}

	now := s.now().UTC()
	ro := &RightsObject{
		ID:          uuid.New().String(),
		DeviceID:    req.DeviceID,
		ContentID:   req.ContentID,
		Permissions: req.Permissions,
		IssuedAt:    now,
		NotAfter:    now.Add(s.rightsTTL),
	}
	if err := s.store.PutRights(ctx, ro); err != nil {
		s.logger.Printf("[DRMServer] %s: store rights for %s: %v", s.info.ID, req.DeviceID, err)
		resp.Status = roap.StatusUnknownError
		resp.Reason = "rights object could not be stored"
		return resp
	}

	resp.RightsObjectID = ro.ID
	resp.NotAfter = ro.NotAfter
	return resp
}

// PurgeExpiredRights drops rights objects whose validity has ended.
func (s *Server) PurgeExpiredRights(ctx context.Context) (int, error) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Printf("[DRMServer] %s: purged %d expired rights objects", s.info.ID, n)
	}
	return n, nil
}

// Close releases the store
func (s *Server) Close() error {
	return s.store.Close()
}
