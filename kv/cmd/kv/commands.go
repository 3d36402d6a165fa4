package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/acksell/cfkv/kv/cfapi"
	"github.com/acksell/cfkv/kv/kvbig"
	"github.com/acksell/cfkv/kv/kvlocal"
	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/table"
)

const defaultPort = 8787

func runServe(args []string) error {
	var c commonFlags
	fs := newFlagSet("serve", &c)
	var (
		port       = fs.Int("port", 0, "HTTP port (default from kv.yaml, else 8787)")
		dbPath     = fs.String("db", "", "BadgerDB directory (default dataDir from kv.yaml)")
		memory     = fs.Bool("memory", false, "keep everything in memory")
		token      = fs.String("token", "", "require this API token on every request")
		namespaces = fs.String("namespaces", "", "comma separated namespace titles to create at startup")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if *port == 0 {
		*port = cfg.Port
	}
	if *port == 0 {
		*port = defaultPort
	}
	if *dbPath == "" {
		*dbPath = cfg.DataDir
	}
	if *memory {
		*dbPath = ""
	}
	titles := slices.Clone(cfg.Namespaces)
	for _, t := range strings.Split(*namespaces, ",") {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	if c.namespace != "" {
		titles = append(titles, c.namespace)
	}

	if !c.verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	server, err := kvlocal.NewServer(kvlocal.ServerConfig{
		Port:       *port,
		DBPath:     *dbPath,
		APIToken:   *token,
		Namespaces: titles,
		Logger:     newLogger(c.verbose),
	})
	if err != nil {
		return err
	}
	return server.Run()
}

func runNamespaces(args []string) error {
	var c commonFlags
	fs := newFlagSet("namespaces", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx := context.Background()

	rest := fs.Args()
	if len(rest) == 0 {
		rest = []string{"list"}
	}
	switch rest[0] {
	case "list", "ls":
		for page := 1; ; page++ {
			list, err := e.client.ListNamespaces(ctx, cfapi.ListNamespacesOptions{Page: page, PerPage: 100})
			if err != nil {
				return err
			}
			for _, ns := range list {
				fmt.Printf("%s\t%s\n", ns.ID, ns.Title)
			}
			if len(list) < 100 {
				return nil
			}
		}
	case "create":
		if len(rest) != 2 {
			return errors.New("usage: kv namespaces create <title>")
		}
		ns, err := e.client.CreateOrGetNamespace(ctx, rest[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", ns.ID, ns.Title)
		return nil
	case "rename":
		if len(rest) != 3 {
			return errors.New("usage: kv namespaces rename <id> <title>")
		}
		return e.client.RenameNamespace(ctx, rest[1], rest[2])
	case "rm", "remove":
		if len(rest) != 2 {
			return errors.New("usage: kv namespaces rm <id>")
		}
		return e.client.RemoveNamespace(ctx, rest[1])
	default:
		return errors.Errorf("unknown namespaces command %q", rest[0])
	}
}

// listLine is one line of `kv list` output.
type listLine struct {
	Key        string         `json:"key"`
	Metadata   kvsdk.Metadata `json:"metadata,omitempty"`
	Expiration int64          `json:"expiration,omitempty"`
}

func runList(args []string) error {
	var c commonFlags
	fs := newFlagSet("list", &c)
	var (
		indexName = fs.String("index", "", "list the entries of this index")
		value     = fs.String("value", "", "narrow --index to one value")
		prefix    = fs.String("prefix", "", "raw key prefix, without --table")
		limit     = fs.Int("limit", 0, "stop after this many keys")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := json.NewEncoder(os.Stdout)

	printed := 0
	emit := func(line listLine) (bool, error) {
		if err := out.Encode(line); err != nil {
			return false, err
		}
		printed++
		return *limit > 0 && printed >= *limit, nil
	}

	if c.table == "" {
		remote, err := e.remote()
		if err != nil {
			return err
		}
		in := kvsdk.ListInput{Prefix: *prefix}
		for {
			res, err := remote.List(ctx, in)
			if err != nil {
				return err
			}
			for _, it := range res.Items {
				if stop, err := emit(listLine{Key: it.Name, Metadata: it.Metadata, Expiration: it.Expiration}); stop || err != nil {
					return err
				}
			}
			if res.Cursor == "" {
				return nil
			}
			in.Cursor = res.Cursor
		}
	}

	t, err := e.table()
	if err != nil {
		return err
	}
	scan := t.DataPrefix()
	if *indexName != "" {
		if !slices.Contains(t.IndexNames(), *indexName) {
			return errors.Wrapf(table.ErrUnknownIndex, "%q", *indexName)
		}
		scan = t.IndexPrefix(*indexName, *value)
	}
	it := t.Iterator(scan)
	for !it.Done() {
		page, err := it.Next(ctx)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if stop, err := emit(listLine{Key: item.Key, Metadata: item.Metadata, Expiration: item.Expiration}); stop || err != nil {
				return err
			}
		}
	}
	return nil
}

type getOutput struct {
	Key        string         `json:"key"`
	Metadata   kvsdk.Metadata `json:"metadata,omitempty"`
	Value      string         `json:"value"`
	Expiration int64          `json:"expiration,omitempty"`
}

func runGet(args []string) error {
	var c commonFlags
	fs := newFlagSet("get", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: kv get [--table name] <key>")
	}
	key := fs.Arg(0)
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var res *getOutput
	if c.table == "" {
		remote, err := e.remote()
		if err != nil {
			return err
		}
		out, err := remote.Get(ctx, key)
		if err != nil {
			return err
		}
		if out.Found {
			res = &getOutput{Key: key, Metadata: out.Metadata, Value: string(out.Value), Expiration: out.Expiration}
		}
	} else {
		t, err := e.table()
		if err != nil {
			return err
		}
		rec, err := t.Get(ctx, key)
		if err != nil {
			return err
		}
		if rec != nil {
			res = &getOutput{Key: key, Metadata: rec.Metadata, Value: string(rec.Value), Expiration: rec.Expiration}
		}
	}
	if res == nil {
		return errors.Errorf("%s: not found", key)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runDel(args []string) error {
	var c commonFlags
	fs := newFlagSet("del", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: kv del [--table name] <key>")
	}
	key := fs.Arg(0)
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if c.table == "" {
		remote, err := e.remote()
		if err != nil {
			return err
		}
		return remote.Delete(ctx, key)
	}
	t, err := e.table()
	if err != nil {
		return err
	}
	return t.Del(ctx, key)
}

func runRebuild(args []string) error {
	var c commonFlags
	fs := newFlagSet("rebuild", &c)
	chunk := fs.Int("chunk", 0, "coalescer chunk size (default the bulk limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	t, err := e.table()
	if err != nil {
		return err
	}
	n, err := t.RebuildIndexes(context.Background(), *chunk)
	if err != nil {
		return err
	}
	e.log.Info().Str("table", t.Name()).Int("records", n).Int64("calls", e.client.Calls()).Msg("indexes rebuilt")
	return nil
}

func runDropIndex(args []string) error {
	var c commonFlags
	fs := newFlagSet("drop-index", &c)
	chunk := fs.Int("chunk", 0, "coalescer chunk size (default the bulk limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: kv drop-index --table name <index>")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	t, err := e.table()
	if err != nil {
		return err
	}
	n, err := t.DropIndex(context.Background(), fs.Arg(0), *chunk)
	if err != nil {
		return err
	}
	e.log.Info().Str("table", t.Name()).Str("index", fs.Arg(0)).Int("entries", n).Msg("index dropped")
	return nil
}

func runBlob(args []string) error {
	var c commonFlags
	fs := newFlagSet("blob", &c)
	chunk := fs.Int("chunk", 0, "shard size in bytes (default 25MB)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return errors.New("usage: kv blob put|get|rm <key>")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	remote, err := e.remote()
	if err != nil {
		return err
	}
	big := kvbig.New(remote, kvbig.WithChunkSize(*chunk), kvbig.WithLogger(e.log))
	ctx := context.Background()

	switch op, key := rest[0], rest[1]; op {
	case "put":
		n, err := big.Set(ctx, key, os.Stdin)
		if err != nil {
			return err
		}
		e.log.Info().Str("key", key).Int("shards", n).Msg("blob stored")
		return nil
	case "get":
		found, err := big.Get(ctx, key, os.Stdout)
		if err != nil {
			return err
		}
		if !found {
			return errors.Errorf("%s: not found", key)
		}
		return nil
	case "rm":
		return big.Del(ctx, key)
	default:
		return errors.Errorf("unknown blob command %q", op)
	}
}
