package table

import (
	"github.com/rs/zerolog"
)

type Option func(*options)

type options struct {
	separator string
	pageSize  int
	logger    zerolog.Logger
}

// WithSeparator sets the string joining the segments of a physical key.
// Defaults to "__".
func WithSeparator(sep string) Option {
	return func(o *options) {
		o.separator = sep
	}
}

// WithPageSize sets the page size of List and Iterator calls that do not ask
// for one. Defaults to the remote maximum.
func WithPageSize(n int) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

type SetOption func(*setOpts)

type setOpts struct {
	expiration    int64
	expirationTTL int64
}

// WithExpiration makes the record expire at the given unix time in seconds.
func WithExpiration(unix int64) SetOption {
	return func(o *setOpts) {
		o.expiration = unix
	}
}

// WithExpirationTTL makes the record expire the given number of seconds
// after the write.
func WithExpirationTTL(seconds int64) SetOption {
	return func(o *setOpts) {
		o.expirationTTL = seconds
	}
}

func expiry(opts []SetOption) setOpts {
	var o setOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
