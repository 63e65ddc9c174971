// Command dbus-pure is a demo client for the dbus-pure library. It
// connects to a bus, enumerates names, and reads the MPRIS playback
// status of any running media players.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/mds/slice"
	"github.com/kr/pretty"
	"github.com/rs/zerolog"

	dbus "github.com/tdryer/dbus-pure"
)

var globalArgs struct {
	UseSystemBus bool   `flag:"system,Connect to the system bus instead of the session bus"`
	BusPath      string `flag:"bus,Connect to the bus socket at this path"`
	Config       string `flag:"config,Path to a TOML config file"`
	Verbose      bool   `flag:"v,Log the protocol exchange to stderr"`
}

func busConn(ctx context.Context) (*dbus.Conn, error) {
	cfgPath := globalArgs.Config
	explicit := cfgPath != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			cfgPath = filepath.Join(home, ".config", "dbus-pure.toml")
		}
	}
	cfg, err := loadConfig(cfgPath, explicit)
	if err != nil {
		return nil, err
	}

	var opts []dbus.Option
	if cfg.AuthIdentity != "" {
		opts = append(opts, dbus.WithAuthIdentity(cfg.AuthIdentity))
	}
	if globalArgs.Verbose {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
		opts = append(opts, dbus.WithLogger(logger))
	}

	path := globalArgs.BusPath
	if path == "" {
		path = cfg.BusPath
	}

	var conn *dbus.Conn
	switch {
	case path != "":
		conn, err = dbus.Dial(ctx, path, opts...)
	case globalArgs.UseSystemBus:
		conn, err = dbus.SystemBus(ctx, opts...)
	default:
		conn, err = dbus.SessionBus(ctx, opts...)
	}
	if err != nil {
		return nil, err
	}

	// The bus routes nothing for a client until it has said Hello.
	if _, err := conn.Call(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus",
		"org.freedesktop.DBus", "Hello", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending Hello: %w", err)
	}
	return conn, nil
}

func main() {
	root := &command.C{
		Name:     "dbus-pure",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "list-names",
				Usage: "list-names",
				Help:  "List the names connected to the bus.",
				Run:   command.Adapt(runListNames),
			},
			{
				Name:  "playback-status",
				Usage: "playback-status",
				Help:  "Print the playback status of every MPRIS media player on the bus.",
				Run:   command.Adapt(runPlaybackStatus),
			},
			{
				Name:  "call",
				Usage: "call destination path interface member",
				Help:  "Call a method with no arguments and dump the reply.",
				Run:   command.Adapt(runCall),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func listNames(ctx context.Context, conn *dbus.Conn) ([]string, error) {
	ret, err := conn.Call(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus",
		"org.freedesktop.DBus", "ListNames", nil)
	if err != nil {
		return nil, err
	}
	arr, ok := ret.(dbus.Array)
	if !ok {
		return nil, fmt.Errorf("ListNames returned %T, want array", ret)
	}
	names, ok := arr.Strings()
	if !ok {
		return nil, fmt.Errorf("ListNames returned array of %q, want strings", arr.Elem)
	}
	slices.Sort(names)
	return names, nil
}

func runListNames(env *command.Env) error {
	conn, err := busConn(env.Context())
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	names, err := listNames(env.Context(), conn)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runPlaybackStatus(env *command.Env) error {
	ctx := env.Context()
	conn, err := busConn(ctx)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	names, err := listNames(ctx, conn)
	if err != nil {
		return err
	}
	players := slices.Collect(slice.Select(names, func(n string) bool {
		return strings.HasPrefix(n, "org.mpris.MediaPlayer2.")
	}))
	if len(players) == 0 {
		fmt.Println("no media players found")
		return nil
	}

	for _, player := range players {
		ret, err := conn.Call(ctx, player, "/org/mpris/MediaPlayer2",
			"org.freedesktop.DBus.Properties", "Get",
			dbus.Struct{Fields: []dbus.Value{
				dbus.String("org.mpris.MediaPlayer2.Player"),
				dbus.String("PlaybackStatus"),
			}})
		if err != nil {
			fmt.Printf("%s: %v\n", player, err)
			continue
		}
		v, ok := ret.(dbus.Variant)
		if !ok {
			return fmt.Errorf("Get returned %T, want variant", ret)
		}
		status, ok := v.Value.(dbus.String)
		if !ok {
			return fmt.Errorf("PlaybackStatus is %q, want string", v.Value.Signature())
		}
		fmt.Printf("%s is %s\n", player, status)
	}
	return nil
}

func runCall(env *command.Env, destination, path, iface, member string) error {
	conn, err := busConn(env.Context())
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	ret, err := conn.Call(env.Context(), destination, dbus.ObjectPath(path), iface, member, nil)
	if err != nil {
		return err
	}
	if ret == nil {
		fmt.Println("(no return value)")
		return nil
	}
	fmt.Printf("%# v\n", pretty.Formatter(ret))
	return nil
}
