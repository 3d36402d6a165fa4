package cfapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// NamespaceClient is the key-value store of one namespace.
type NamespaceClient struct {
	c  *Client
	id string
}

var _ kvsdk.Remote = &NamespaceClient{}

// Namespace returns the store of the namespace with the given id.
func (c *Client) Namespace(id string) *NamespaceClient {
	return &NamespaceClient{c: c, id: id}
}

func (n *NamespaceClient) ID() string {
	return n.id
}

func (n *NamespaceClient) path(parts ...string) string {
	p := "/" + url.PathEscape(n.id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func valuePath(kind, key string) string {
	return kind + "/" + url.PathEscape(key)
}

// Get reads a value and its metadata. The values endpoint answers with the
// raw value, so metadata takes a second request.
func (n *NamespaceClient) Get(ctx context.Context, key string) (*kvsdk.GetOutput, error) {
	res, err := n.c.send(ctx, request{
		op:     "get",
		method: http.MethodGet,
		path:   n.path(valuePath("values", key)),
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		_, err := decodeEnvelope("get", res)
		if isKeyNotFound(err) {
			return &kvsdk.GetOutput{}, nil
		}
		return nil, err
	}
	value, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s: read value", key)
	}

	out := &kvsdk.GetOutput{Found: true, Value: value}
	if exp := res.Header.Get("Expiration"); exp != "" {
		if out.Expiration, err = strconv.ParseInt(exp, 10, 64); err != nil {
			n.c.opts.logger.Debug().Err(err).Str("key", key).Str("expiration", exp).Msg("ignoring malformed expiration header")
			out.Expiration = 0
		}
	}
	_, err = n.c.call(ctx, request{
		op:     "get metadata",
		method: http.MethodGet,
		path:   n.path(valuePath("metadata", key)),
	}, &out.Metadata)
	if isKeyNotFound(err) {
		// deleted between the two requests
		return &kvsdk.GetOutput{}, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isKeyNotFound(err error) bool {
	var re *kvsdk.RemoteError
	if !errors.As(err, &re) {
		return false
	}
	for _, e := range re.Errors {
		if e.Code == CodeKeyNotFound {
			return true
		}
	}
	return false
}

// Put writes one value with its metadata as a multipart form.
func (n *NamespaceClient) Put(ctx context.Context, kv kvsdk.KeyValue) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormField("value")
	if err != nil {
		return errors.Wrap(err, "put: build form")
	}
	if _, err := fw.Write(kv.Value); err != nil {
		return errors.Wrap(err, "put: build form")
	}
	md := kv.Metadata
	if md == nil {
		md = kvsdk.Metadata{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return errors.Wrapf(err, "put %s: encode metadata", kv.Key)
	}
	if err := mw.WriteField("metadata", string(mdJSON)); err != nil {
		return errors.Wrap(err, "put: build form")
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "put: build form")
	}

	q := url.Values{}
	if kv.Expiration > 0 {
		q.Set("expiration", strconv.FormatInt(kv.Expiration, 10))
	}
	if kv.ExpirationTTL > 0 {
		q.Set("expiration_ttl", strconv.FormatInt(kv.ExpirationTTL, 10))
	}
	_, err = n.c.call(ctx, request{
		op:          "put",
		method:      http.MethodPut,
		path:        n.path(valuePath("values", kv.Key)),
		query:       q,
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, nil)
	return err
}

func (n *NamespaceClient) BulkPut(ctx context.Context, kvs []kvsdk.KeyValue) error {
	if err := kvsdk.CheckBulk(len(kvs)); err != nil {
		return err
	}
	items := make([]BulkItem, 0, len(kvs))
	for _, kv := range kvs {
		items = append(items, NewBulkItem(kv))
	}
	body, err := jsonBody(items)
	if err != nil {
		return err
	}
	_, err = n.c.call(ctx, request{
		op:     "bulk put",
		method: http.MethodPut,
		path:   n.path("bulk"),
		body:   body,
	}, nil)
	return err
}

func (n *NamespaceClient) Delete(ctx context.Context, key string) error {
	_, err := n.c.call(ctx, request{
		op:     "delete",
		method: http.MethodDelete,
		path:   n.path(valuePath("values", key)),
	}, nil)
	return err
}

func (n *NamespaceClient) BulkDelete(ctx context.Context, keys []string) error {
	if err := kvsdk.CheckBulk(len(keys)); err != nil {
		return err
	}
	body, err := jsonBody(keys)
	if err != nil {
		return err
	}
	_, err = n.c.call(ctx, request{
		op:     "bulk delete",
		method: http.MethodDelete,
		path:   n.path("bulk"),
		body:   body,
	}, nil)
	return err
}

func (n *NamespaceClient) List(ctx context.Context, in kvsdk.ListInput) (*kvsdk.ListOutput, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(kvsdk.NormalizeLimit(in.Limit)))
	if in.Prefix != "" {
		q.Set("prefix", in.Prefix)
	}
	if in.Cursor != "" {
		q.Set("cursor", in.Cursor)
	}
	var keys []KeyInfo
	info, err := n.c.call(ctx, request{
		op:     "list",
		method: http.MethodGet,
		path:   n.path("keys"),
		query:  q,
	}, &keys)
	if err != nil {
		return nil, err
	}
	out := &kvsdk.ListOutput{Items: make([]kvsdk.ListItem, 0, len(keys))}
	for _, k := range keys {
		out.Items = append(out.Items, kvsdk.ListItem{
			Name:       k.Name,
			Metadata:   k.Metadata,
			Expiration: k.Expiration,
		})
	}
	if info != nil {
		out.Cursor = info.Cursor
	}
	return out, nil
}
