package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hilinkd/hilinkd/pkg/crypto"
	"github.com/hilinkd/hilinkd/pkg/hilink"
)

const usage = `usage: hilinkctl [flags] <command> [args]

device commands:
  info                 session generation and login state
  status               connection status
  signal               signal strength
  usage                traffic counters
  connect              enable mobile data
  disconnect           disable mobile data
  reboot               restart the device
  mode <name>          set the network mode (%v)
  roaming on|off       enable or disable roaming

local commands:
  encrypt-password -key <hex> <password>   seal a modem password for the config file
  hash-password <password>                 bcrypt hash for admin.password_hash
  gen-key                                  random hex key for service.secret_key

flags:
`

func main() {
	host := flag.String("host", "192.168.8.1", "Device address")
	user := flag.String("user", "admin", "Device username")
	pass := flag.String("pass", "", "Device password")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	debug := flag.Bool("debug", false, "Log protocol traffic")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, hilink.NetworkModeNames())
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "encrypt-password":
		exit(encryptPassword(os.Stdout, args[1:]))
		return
	case "gen-key":
		key, err := crypto.GenerateKey()
		exit(err)
		fmt.Println(key)
		return
	case "hash-password":
		if len(args) != 2 {
			exit(fmt.Errorf("hash-password needs exactly one password"))
		}
		hash, err := crypto.HashPassword(args[1])
		exit(err)
		fmt.Println(hash)
		return
	}

	name := args[0]
	var op operation
	if name != "info" {
		var err error
		op, err = parseCommand(name, args[1:])
		exit(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*(*timeout))
	defer cancel()

	client, err := hilink.Dial(ctx, hilink.Options{
		Host:     *host,
		Username: *user,
		Password: *pass,
		Timeout:  *timeout,
		Logger:   &log.Logger,
	})
	exit(err)
	defer client.Close()

	if op == nil {
		exit(printJSON(os.Stdout, map[string]interface{}{
			"generation":    client.Generation().String(),
			"state":         client.State().String(),
			"loginRequired": client.Session().LoginRequired(),
		}))
		return
	}

	result, err := op(ctx, client)
	exit(err)
	if result != nil {
		exit(printJSON(os.Stdout, result))
	}
}

// device is the part of *hilink.Client the commands use.
type device interface {
	Status(ctx context.Context) (*hilink.ModemStatus, error)
	Signal(ctx context.Context) (*hilink.SignalInfo, error)
	Usage(ctx context.Context) (*hilink.DataUsage, error)
	ConnectData(ctx context.Context) error
	DisconnectData(ctx context.Context) error
	Reboot(ctx context.Context) error
	SetNetworkMode(ctx context.Context, mode hilink.NetworkMode) error
	SetRoaming(ctx context.Context, enabled bool) error
}

// operation runs one command. A non-nil result is printed as JSON.
type operation func(ctx context.Context, d device) (interface{}, error)

// parseCommand checks the arguments before anything is sent to the device.
func parseCommand(name string, args []string) (operation, error) {
	action := func(fn func(device, context.Context) error) operation {
		return func(ctx context.Context, d device) (interface{}, error) {
			return nil, fn(d, ctx)
		}
	}

	switch name {
	case "status":
		return func(ctx context.Context, d device) (interface{}, error) { return d.Status(ctx) }, nil
	case "signal":
		return func(ctx context.Context, d device) (interface{}, error) { return d.Signal(ctx) }, nil
	case "usage":
		return func(ctx context.Context, d device) (interface{}, error) { return d.Usage(ctx) }, nil
	case "connect":
		return action(device.ConnectData), nil
	case "disconnect":
		return action(device.DisconnectData), nil
	case "reboot":
		return action(device.Reboot), nil
	case "mode":
		if len(args) != 1 {
			return nil, fmt.Errorf("mode needs one of %v", hilink.NetworkModeNames())
		}
		mode, err := hilink.ParseNetworkMode(args[0])
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, d device) (interface{}, error) {
			return nil, d.SetNetworkMode(ctx, mode)
		}, nil
	case "roaming":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return nil, fmt.Errorf("roaming needs on or off")
		}
		enabled := args[0] == "on"
		return func(ctx context.Context, d device) (interface{}, error) {
			return nil, d.SetRoaming(ctx, enabled)
		}, nil
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func encryptPassword(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("encrypt-password", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	keyHex := fs.String("key", os.Getenv("HILINK_SECRET_KEY"), "Hex AES key (16, 24 or 32 bytes)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("encrypt-password needs exactly one password")
	}

	key, err := crypto.ParseKey(*keyHex)
	if err != nil {
		return err
	}
	sealed, err := crypto.SealSecret(key, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, sealed)
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exit(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "hilinkctl:", err)
	os.Exit(1)
}
