package cfapi

import (
	"encoding/base64"
	"encoding/json"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// Error codes returned by the KV API.
const (
	CodeBadRequest        = 10001
	CodeInternal          = 10002
	CodeKeyNotFound       = 10009
	CodeNamespaceNotFound = 10013
	CodeNamespaceExists   = 10014
	CodeAuthentication    = 10000
)

// Envelope wraps every JSON response of the API.
type Envelope struct {
	Success    bool              `json:"success"`
	Errors     []kvsdk.APIError  `json:"errors"`
	Messages   []json.RawMessage `json:"messages"`
	Result     json.RawMessage   `json:"result,omitempty"`
	ResultInfo *ResultInfo       `json:"result_info,omitempty"`
}

type ResultInfo struct {
	Count      int    `json:"count"`
	Cursor     string `json:"cursor,omitempty"`
	Page       int    `json:"page,omitempty"`
	PerPage    int    `json:"per_page,omitempty"`
	TotalCount int    `json:"total_count,omitempty"`
}

// BulkItem is one element of a bulk write body. Values that are not valid
// UTF-8 travel base64 encoded.
type BulkItem struct {
	Key           string         `json:"key"`
	Value         string         `json:"value"`
	Expiration    int64          `json:"expiration,omitempty"`
	ExpirationTTL int64          `json:"expiration_ttl,omitempty"`
	Metadata      kvsdk.Metadata `json:"metadata,omitempty"`
	Base64        bool           `json:"base64,omitempty"`
}

// KeyInfo is one element of a key listing.
type KeyInfo struct {
	Name       string         `json:"name"`
	Expiration int64          `json:"expiration,omitempty"`
	Metadata   kvsdk.Metadata `json:"metadata,omitempty"`
}

type Namespace struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	SupportsURLEncoding bool   `json:"supports_url_encoding"`
}

type TitleRequest struct {
	Title string `json:"title"`
}

func NewBulkItem(kv kvsdk.KeyValue) BulkItem {
	item := BulkItem{
		Key:           kv.Key,
		Expiration:    kv.Expiration,
		ExpirationTTL: kv.ExpirationTTL,
		Metadata:      kv.Metadata,
	}
	if utf8.Valid(kv.Value) {
		item.Value = string(kv.Value)
	} else {
		item.Value = base64.StdEncoding.EncodeToString(kv.Value)
		item.Base64 = true
	}
	return item
}

func (b BulkItem) KeyValue() (kvsdk.KeyValue, error) {
	kv := kvsdk.KeyValue{
		Key:           b.Key,
		Value:         []byte(b.Value),
		Metadata:      b.Metadata,
		Expiration:    b.Expiration,
		ExpirationTTL: b.ExpirationTTL,
	}
	if b.Base64 {
		v, err := base64.StdEncoding.DecodeString(b.Value)
		if err != nil {
			return kvsdk.KeyValue{}, errors.Wrapf(err, "decode base64 value of %s", b.Key)
		}
		kv.Value = v
	}
	return kv, nil
}
