// Package roap defines the rights-object acquisition messages exchanged
// between an encoding agent and a DRM server, along with their XML codec.
//
// Every message is carried as a standalone XML document whose root element
// name identifies the message type:
//
//	<addContentKeyRequest transactionId="...">
//	    <contentId>cid:movie-1</contentId>
//	    <contentKey>base64...</contentKey>
//	</addContentKeyRequest>
//
// Use DecodeDocument to inspect the type tag of an incoming payload, then
// the matching Parse function to obtain the typed message.
package roap

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message type tags
const (
	TagAddContentKeyRequest    = "addContentKeyRequest"
	TagAddContentKeyResponse   = "addContentKeyResponse"
	TagAddDeviceRightsRequest  = "addDeviceRightsRequest"
	TagAddDeviceRightsResponse = "addDeviceRightsResponse"
)

// Status is the outcome carried by every response.
type Status string

const (
	StatusSuccess          Status = "Success"
	StatusNotFound         Status = "NotFound"
	StatusMalformedRequest Status = "MalformedRequest"
	StatusUnknownError     Status = "UnknownError"
)

// Message is implemented by all ROAP messages
type Message interface {
	// Tag returns the root element name of the encoded message
	Tag() string

	// Encode serializes the message to its XML wire form
	Encode() (string, error)
}

// AddContentKeyRequest registers a content encryption key with the server.
type AddContentKeyRequest struct {
	XMLName          xml.Name `xml:"addContentKeyRequest"`
	TransactionID    string   `xml:"transactionId,attr"`
	ContentID        string   `xml:"contentId"`
	EncryptionMethod string   `xml:"encryptionMethod,omitempty"`
	ContentKey       string   `xml:"contentKey"`
}

// NewAddContentKeyRequest creates a request with a fresh transaction ID
func NewAddContentKeyRequest(contentID, contentKey string) *AddContentKeyRequest {
	return &AddContentKeyRequest{
		TransactionID:    uuid.New().String(),
		ContentID:        contentID,
		EncryptionMethod: "AES_128_CBC",
		ContentKey:       contentKey,
	}
}

func (r *AddContentKeyRequest) Tag() string { return TagAddContentKeyRequest }

func (r *AddContentKeyRequest) Encode() (string, error) { return encode(r) }

// AddContentKeyResponse acknowledges an AddContentKeyRequest.
type AddContentKeyResponse struct {
	XMLName       xml.Name `xml:"addContentKeyResponse"`
	TransactionID string   `xml:"transactionId,attr"`
	Status        Status   `xml:"status,attr"`
	ContentID     string   `xml:"contentId"`
	Reason        string   `xml:"reason,omitempty"`
}

func (r *AddContentKeyResponse) Tag() string { return TagAddContentKeyResponse }

func (r *AddContentKeyResponse) Encode() (string, error) { return encode(r) }

// AddDeviceRightsRequest asks the server to issue rights for a device to
// consume previously registered content.
type AddDeviceRightsRequest struct {
	XMLName       xml.Name `xml:"addDeviceRightsRequest"`
	TransactionID string   `xml:"transactionId,attr"`
	DeviceID      string   `xml:"deviceId"`
	ContentID     string   `xml:"contentId"`
	Permissions   []string `xml:"permission"`
}

// NewAddDeviceRightsRequest creates a request with a fresh transaction ID.
// With no permissions, "play" is requested.
func NewAddDeviceRightsRequest(deviceID, contentID string, permissions ...string) *AddDeviceRightsRequest {
	if len(permissions) == 0 {
		permissions = []string{"play"}
	}
	return &AddDeviceRightsRequest{
		TransactionID: uuid.New().String(),
		DeviceID:      deviceID,
		ContentID:     contentID,
		Permissions:   permissions,
	}
}

func (r *AddDeviceRightsRequest) Tag() string { return TagAddDeviceRightsRequest }

func (r *AddDeviceRightsRequest) Encode() (string, error) { return encode(r) }

// AddDeviceRightsResponse carries the issued rights object reference.
type AddDeviceRightsResponse struct {
	XMLName        xml.Name  `xml:"addDeviceRightsResponse"`
	TransactionID  string    `xml:"transactionId,attr"`
	Status         Status    `xml:"status,attr"`
	DeviceID       string    `xml:"deviceId"`
	ContentID      string    `xml:"contentId"`
	RightsObjectID string    `xml:"rightsObjectId,omitempty"`
	NotAfter       time.Time `xml:"notAfter"`
	Reason         string    `xml:"reason,omitempty"`
}

func (r *AddDeviceRightsResponse) Tag() string { return TagAddDeviceRightsResponse }

func (r *AddDeviceRightsResponse) Encode() (string, error) { return encode(r) }

func encode(m Message) (string, error) {
	data, err := xml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", m.Tag(), err)
	}
	return string(data), nil
}

// ParseAddContentKeyRequest extracts an AddContentKeyRequest from a root element.
func ParseAddContentKeyRequest(e *Element) (*AddContentKeyRequest, error) {
	var r AddContentKeyRequest
	if err := parse(e, TagAddContentKeyRequest, &r); err != nil {
		return nil, err
	}
	if err := requireFields(TagAddContentKeyRequest,
		"transactionId", r.TransactionID,
		"contentId", r.ContentID,
		"contentKey", r.ContentKey,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseAddContentKeyResponse extracts an AddContentKeyResponse from a root element.
func ParseAddContentKeyResponse(e *Element) (*AddContentKeyResponse, error) {
	var r AddContentKeyResponse
	if err := parse(e, TagAddContentKeyResponse, &r); err != nil {
		return nil, err
	}
	if err := requireFields(TagAddContentKeyResponse,
		"transactionId", r.TransactionID,
		"status", string(r.Status),
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseAddDeviceRightsRequest extracts an AddDeviceRightsRequest from a root element.
func ParseAddDeviceRightsRequest(e *Element) (*AddDeviceRightsRequest, error) {
	var r AddDeviceRightsRequest
	if err := parse(e, TagAddDeviceRightsRequest, &r); err != nil {
		return nil, err
	}
	if err := requireFields(TagAddDeviceRightsRequest,
		"transactionId", r.TransactionID,
		"deviceId", r.DeviceID,
		"contentId", r.ContentID,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseAddDeviceRightsResponse extracts an AddDeviceRightsResponse from a root element.
func ParseAddDeviceRightsResponse(e *Element) (*AddDeviceRightsResponse, error) {
	var r AddDeviceRightsResponse
	if err := parse(e, TagAddDeviceRightsResponse, &r); err != nil {
		return nil, err
	}
	if err := requireFields(TagAddDeviceRightsResponse,
		"transactionId", r.TransactionID,
		"status", string(r.Status),
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func parse(e *Element, tag string, v any) error {
	if e == nil {
		return fmt.Errorf("%w: nil element", ErrMalformed)
	}
	if e.Name() != tag {
		return fmt.Errorf("%w: expected <%s>, got <%s>", ErrMalformed, tag, e.Name())
	}
	return e.Decode(v)
}

// requireFields checks name/value pairs and reports the first empty value.
func requireFields(tag string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s is missing %s", ErrMalformed, tag, pairs[i])
		}
	}
	return nil
}
