// kv is a CLI for indexed tables on Workers KV.
//
// # Installation
//
//	go install github.com/acksell/cfkv/kv/cmd/kv@latest
//
// # Commands
//
//	kv serve        Start the local KV API emulator
//	kv namespaces   List, create, rename or remove namespaces
//	kv list         List records of a table, or of one of its indexes
//	kv get          Print a record
//	kv del          Delete a record and its index entries
//	kv rebuild      Rewrite all index entries of a table
//	kv drop-index   Delete every entry of an index
//	kv blob         Store, print or remove a sharded object
//
// # Quick Start
//
// Run the emulator and point the other commands at it:
//
//	kv serve --memory --namespace dev
//	export CF_ACCOUNT_ID=local CF_API_TOKEN=
//	kv namespaces --base-url http://localhost:8787/client/v4
//
// Tables are declared in kv.yaml, found by walking up from the working
// directory:
//
//	account: 0123456789abcdef
//	namespace: 5ac1e38b0a6c4f1e9b1c
//	tables:
//	  - name: users
//	    properties: [email, points]
//	    indexes:
//	      email: {keyField: email}
//	      ">500points": {filter: {field: points, op: gt, value: 500}}
package main

import (
	"flag"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "namespaces", "ns":
		err = runNamespaces(args)
	case "list", "ls":
		err = runList(args)
	case "get":
		err = runGet(args)
	case "del", "rm":
		err = runDel(args)
	case "rebuild":
		err = runRebuild(args)
	case "drop-index":
		err = runDropIndex(args)
	case "blob":
		err = runBlob(args)
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("kv version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "kv: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kv %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kv - indexed tables on Workers KV

Usage:
  kv <command> [flags] [args]

Commands:
  serve                          Start the local KV API emulator
  namespaces [create|rename|rm]  Manage namespaces
  list                           List records, or index entries with --index
  get <key>                      Print a record
  del <key>                      Delete a record and its index entries
  rebuild                        Rewrite all index entries of a table
  drop-index <index>             Delete every entry of an index
  blob put|get|rm <key>          Sharded object from stdin / to stdout

Examples:
  # Start the emulator with an in-memory database:
  kv serve --memory --namespace dev

  # Users with more than 500 points:
  kv list --table users --index '>500points'

  # Look a user up by email:
  kv list --table users --index email --value ada@example.com

Configuration:
  kv.yaml holds the account, namespace and table definitions.
  Credentials are read from the environment or a .env file:

    CF_ACCOUNT_ID   account id, overrides kv.yaml
    CF_API_TOKEN    API token
    CF_AUTH_KEY     global API key, with CF_AUTH_EMAIL

Run 'kv <command> --help' for more information on a command.`)
}
