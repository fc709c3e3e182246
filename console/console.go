// Package console runs named map commands against the maps of a server.
//
// Commands are registered once at init time and then looked up by the first word of a command
// line, with the remaining words passed as arguments.
package console

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/rdk/logging"

	"go.viam.com/mapserver/posegraph"
)

// ErrUnknownCommand is returned when no command is registered under a name.
var ErrUnknownCommand = errors.New("unknown command")

// CommandFunc modifies a map in place.
type CommandFunc func(ctx context.Context, m *posegraph.Map, args []string, logger logging.Logger) error

// Command is a registered map command.
type Command struct {
	Name        string
	Description string
	Run         CommandFunc
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Command{}
)

// RegisterCommand makes a command available to every Console. It panics on a duplicate name.
func RegisterCommand(cmd Command) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if cmd.Name == "" || strings.ContainsAny(cmd.Name, " \t\n") {
		panic(fmt.Sprintf("invalid command name %q", cmd.Name))
	}
	if cmd.Run == nil {
		panic(fmt.Sprintf("command %q has no function", cmd.Name))
	}
	if _, ok := registry[cmd.Name]; ok {
		panic(fmt.Sprintf("command %q already registered", cmd.Name))
	}
	registry[cmd.Name] = cmd
}

// LookupCommand returns the command registered under name.
func LookupCommand(name string) (Command, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	cmd, ok := registry[name]
	return cmd, ok
}

// RegisteredCommands returns the registered command names, sorted.
func RegisteredCommands() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MapStore gives exclusive access to a stored map.
type MapStore interface {
	WithWriteAccess(key string, fn func(m *posegraph.Map) error) error
}

// Console runs command lines against the maps of a MapStore.
type Console struct {
	store  MapStore
	logger logging.Logger
}

// New returns a Console over store.
func New(store MapStore, logger logging.Logger) *Console {
	return &Console{store: store, logger: logger}
}

// ValidateCommand checks that a command line names a registered command.
func ValidateCommand(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	if _, ok := LookupCommand(fields[0]); !ok {
		return errors.Wrapf(ErrUnknownCommand, "%q", fields[0])
	}
	return nil
}

// RunCommand runs a command line against the map stored under mapKey while holding its write lock.
func (c *Console) RunCommand(ctx context.Context, mapKey, command string) error {
	ctx, span := trace.StartSpan(ctx, "console::RunCommand")
	defer span.End()

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	cmd, ok := LookupCommand(fields[0])
	if !ok {
		return errors.Wrapf(ErrUnknownCommand, "%q", fields[0])
	}
	c.logger.Debugw("running command", "map", mapKey, "command", command)
	err := c.store.WithWriteAccess(mapKey, func(m *posegraph.Map) error {
		return cmd.Run(ctx, m, fields[1:], c.logger.Sublogger(cmd.Name))
	})
	if err != nil {
		return errors.Wrapf(err, "command %q on map %q", command, mapKey)
	}
	return nil
}
