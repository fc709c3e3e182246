// Package inbox watches a directory for submap tickets and hands them to a map server node.
//
// A ticket is a JSON file named *.submap.json holding the robot name and the folder of the
// submap. Writers should create the ticket elsewhere and rename it into the inbox. Submitted
// tickets are moved to the processed directory, unreadable ones to the rejected directory.
// A ticket the node refuses is left in place and picked up again on the next start.
package inbox

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

const (
	// TicketSuffix marks the files the inbox reads.
	TicketSuffix = ".submap.json"
	// ProcessedDir and RejectedDir are created inside the inbox.
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// Submitter accepts submaps for merging.
type Submitter interface {
	Submit(robotName, path string) bool
}

// Ticket announces a submap that is ready to be merged.
type Ticket struct {
	RobotName string `json:"robot_name"`
	// Path is the submap folder, relative paths are resolved against the inbox.
	Path string `json:"path"`
}

// errIncomplete means the ticket is still being written.
var errIncomplete = errors.New("ticket is incomplete")

// Inbox watches a directory for tickets.
type Inbox struct {
	dir       string
	submitter Submitter
	logger    logging.Logger

	watcher *fsnotify.Watcher
	workers *goutils.StoppableWorkers
}

// New creates the inbox directories and submits every ticket already present, in name order,
// before watching for new ones.
func New(dir string, submitter Submitter, logger logging.Logger) (*Inbox, error) {
	for _, sub := range []string{ProcessedDir, RejectedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, errors.Wrap(err, "cannot create inbox")
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}
	if err := watcher.Add(dir); err != nil {
		return nil, multiCloseErr(errors.Wrapf(err, "failed to watch inbox %q", dir), watcher)
	}

	ib := &Inbox{
		dir:       dir,
		submitter: submitter,
		logger:    logger,
		watcher:   watcher,
	}
	if err := ib.scan(); err != nil {
		return nil, multiCloseErr(err, watcher)
	}
	ib.workers = goutils.NewBackgroundStoppableWorkers(ib.watchLoop)
	logger.Infow("watching inbox for submaps", "dir", dir)
	return ib, nil
}

func multiCloseErr(err error, watcher *fsnotify.Watcher) error {
	return multierr.Combine(err, watcher.Close())
}

// Close stops watching the inbox.
func (ib *Inbox) Close() error {
	ib.workers.Stop()
	return ib.watcher.Close()
}

func (ib *Inbox) scan() error {
	entries, err := os.ReadDir(ib.dir)
	if err != nil {
		return errors.Wrapf(err, "cannot read inbox %q", ib.dir)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && isTicket(e.Name())
	})
	sort.Strings(names)
	for _, name := range names {
		ib.handle(filepath.Join(ib.dir, name), true)
	}
	return nil
}

func (ib *Inbox) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ib.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isTicket(filepath.Base(event.Name)) || filepath.Dir(event.Name) != filepath.Clean(ib.dir) {
				continue
			}
			ib.handle(event.Name, false)
		case err, ok := <-ib.watcher.Errors:
			if !ok {
				return
			}
			ib.logger.Errorw("inbox watcher error", "error", err)
		}
	}
}

// handle submits one ticket. Incomplete tickets are skipped unless final is set, in which case
// they are rejected.
func (ib *Inbox) handle(path string, final bool) {
	ticket, err := readTicket(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// already handled after an earlier event
		return
	case errors.Is(err, errIncomplete) && !final:
		ib.logger.Debugw("waiting for ticket to be written", "ticket", path)
		return
	case err != nil:
		ib.logger.Warnw("rejecting submap ticket", "ticket", path, "error", err)
		ib.move(path, RejectedDir)
		return
	}

	submapPath := ticket.Path
	if !filepath.IsAbs(submapPath) {
		submapPath = filepath.Join(ib.dir, submapPath)
	}
	if ticket.RobotName == "" {
		ib.logger.Warnw("submap ticket has no robot name", "ticket", path)
	}
	if !ib.submitter.Submit(ticket.RobotName, submapPath) {
		ib.logger.Warnw("submap was not accepted, leaving ticket in the inbox", "ticket", path)
		return
	}
	ib.move(path, ProcessedDir)
}

func (ib *Inbox) move(path, sub string) {
	target := filepath.Join(ib.dir, sub, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		ib.logger.Errorw("cannot move submap ticket", "ticket", path, "target", target, "error", err)
	}
}

func isTicket(name string) bool {
	return strings.HasSuffix(name, TicketSuffix)
}

func readTicket(path string) (Ticket, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return Ticket{}, err
	}
	var ticket Ticket
	if err := json.Unmarshal(data, &ticket); err != nil {
		var syntaxErr *json.SyntaxError
		if len(data) == 0 || errors.Is(err, io.ErrUnexpectedEOF) ||
			(errors.As(err, &syntaxErr) && syntaxErr.Offset >= int64(len(data))) {
			return Ticket{}, errIncomplete
		}
		return Ticket{}, errors.Wrap(err, "invalid ticket")
	}
	if ticket.Path == "" {
		return Ticket{}, errors.New("ticket has no submap path")
	}
	return ticket, nil
}
