package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/acksell/cfkv/kv/cfapi"
	"github.com/acksell/cfkv/kv/kvddb"
	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/table"
)

// commonFlags are accepted by every command that talks to the API.
type commonFlags struct {
	verbose   bool
	namespace string
	baseURL   string
	table     string
}

func newFlagSet(name string, c *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("kv "+name, flag.ContinueOnError)
	fs.BoolVar(&c.verbose, "verbose", false, "log every API call")
	fs.StringVar(&c.namespace, "namespace", "", "namespace id (default from kv.yaml)")
	fs.StringVar(&c.baseURL, "base-url", "", "API root (default from kv.yaml, else the Cloudflare API)")
	fs.StringVar(&c.table, "table", "", "table name from kv.yaml")
	return fs
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

// env is what a command needs to reach the remote store.
type env struct {
	cfg    Config
	log    zerolog.Logger
	client *cfapi.Client
	flags  commonFlags
}

func setup(c commonFlags) (*env, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if c.namespace != "" {
		cfg.Namespace = c.namespace
	}
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if cfg.AccountID == "" && cfg.DynamoDB.Table == "" {
		return nil, errors.New("no account id: set CF_ACCOUNT_ID or account in kv.yaml")
	}

	log := newLogger(c.verbose)
	opts := []cfapi.Option{
		cfapi.WithLogger(log),
		cfapi.WithUserAgent("kv/" + version),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, cfapi.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.APIToken != "":
		opts = append(opts, cfapi.WithAPIToken(cfg.APIToken))
	case cfg.AuthKey != "":
		opts = append(opts, cfapi.WithAuthKey(cfg.AuthKey, cfg.AuthEmail))
	}

	return &env{
		cfg:    cfg,
		log:    log,
		client: cfapi.New(cfg.AccountID, opts...),
		flags:  c,
	}, nil
}

func (e *env) remote() (kvsdk.Remote, error) {
	if e.cfg.DynamoDB.Table != "" {
		return e.dynamoRemote(context.Background())
	}
	if e.cfg.Namespace == "" {
		return nil, errors.New("no namespace: pass --namespace or set namespace in kv.yaml")
	}
	return e.client.Namespace(e.cfg.Namespace), nil
}

// dynamoRemote stores the namespace as one partition of the configured table.
func (e *env) dynamoRemote(ctx context.Context) (kvsdk.Remote, error) {
	dc := e.cfg.DynamoDB
	var loadOpts []func(*config.LoadOptions) error
	if dc.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(dc.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if dc.Endpoint != "" {
			o.BaseEndpoint = aws.String(dc.Endpoint)
		}
	})
	ns := e.cfg.Namespace
	if ns == "" {
		ns = "default"
	}
	return kvddb.New(client, dc.Table, ns, kvddb.WithLogger(e.log)), nil
}

// table opens the table named by --table.
func (e *env) table() (*table.Table, error) {
	if e.flags.table == "" {
		return nil, errors.New("--table is required")
	}
	tc, err := e.cfg.Table(e.flags.table)
	if err != nil {
		return nil, err
	}
	remote, err := e.remote()
	if err != nil {
		return nil, err
	}
	opts := []table.Option{table.WithLogger(e.log)}
	if e.cfg.Separator != "" {
		opts = append(opts, table.WithSeparator(e.cfg.Separator))
	}
	return table.FromConfig(remote, tc, opts...)
}
