package cfapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

type ListNamespacesOptions struct {
	Page    int
	PerPage int
	// Order is "id" or "title".
	Order string
	// Direction is "asc" or "desc".
	Direction string
}

func (o ListNamespacesOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(o.PerPage))
	}
	if o.Order != "" {
		q.Set("order", o.Order)
	}
	if o.Direction != "" {
		q.Set("direction", o.Direction)
	}
	return q
}

// ListNamespaces returns one page of the account's namespaces.
func (c *Client) ListNamespaces(ctx context.Context, opts ListNamespacesOptions) ([]Namespace, error) {
	var out []Namespace
	_, err := c.call(ctx, request{
		op:     "list namespaces",
		method: http.MethodGet,
		query:  opts.query(),
	}, &out)
	return out, err
}

const namespacePageSize = 100

// FindNamespace pages through all namespaces and returns the one with the
// given title, or nil.
func (c *Client) FindNamespace(ctx context.Context, title string) (*Namespace, error) {
	for page := 1; ; page++ {
		list, err := c.ListNamespaces(ctx, ListNamespacesOptions{Page: page, PerPage: namespacePageSize})
		if err != nil {
			return nil, err
		}
		for i := range list {
			if list[i].Title == title {
				return &list[i], nil
			}
		}
		if len(list) < namespacePageSize {
			return nil, nil
		}
	}
}

func (c *Client) CreateNamespace(ctx context.Context, title string) (*Namespace, error) {
	body, err := jsonBody(TitleRequest{Title: title})
	if err != nil {
		return nil, err
	}
	var ns Namespace
	if _, err := c.call(ctx, request{
		op:     "create namespace",
		method: http.MethodPost,
		body:   body,
	}, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

// RemoveNamespace deletes a namespace and everything stored in it.
func (c *Client) RemoveNamespace(ctx context.Context, id string) error {
	_, err := c.call(ctx, request{
		op:     "remove namespace",
		method: http.MethodDelete,
		path:   "/" + url.PathEscape(id),
	}, nil)
	return err
}

func (c *Client) RenameNamespace(ctx context.Context, id, title string) error {
	body, err := jsonBody(TitleRequest{Title: title})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, request{
		op:     "rename namespace",
		method: http.MethodPut,
		path:   "/" + url.PathEscape(id),
		body:   body,
	}, nil)
	return err
}

// CreateOrGetNamespace returns the namespace with the given title, creating
// it if there is none.
func (c *Client) CreateOrGetNamespace(ctx context.Context, title string) (*Namespace, error) {
	ns, err := c.FindNamespace(ctx, title)
	if err != nil {
		return nil, errors.Wrapf(err, "create or get namespace %s", title)
	}
	if ns != nil {
		return ns, nil
	}
	return c.CreateNamespace(ctx, title)
}

// ResetAndGetNamespace removes the namespace with the given title, if any,
// and creates an empty one in its place.
func (c *Client) ResetAndGetNamespace(ctx context.Context, title string) (*Namespace, error) {
	ns, err := c.FindNamespace(ctx, title)
	if err != nil {
		return nil, errors.Wrapf(err, "reset namespace %s", title)
	}
	if ns != nil {
		if err := c.RemoveNamespace(ctx, ns.ID); err != nil {
			return nil, errors.Wrapf(err, "reset namespace %s", title)
		}
	}
	return c.CreateNamespace(ctx, title)
}
