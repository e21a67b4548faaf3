package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/tux3ce/pkg/blockdev"
	"github.com/calvinalkan/tux3ce/pkg/commit"
)

var shellCommands = []string{
	"dirty", "orphan-add", "orphan-del", "defer-free", "pin",
	"commit", "rollup", "end-change", "status", "log", "help", "exit", "quit",
}

type shell struct {
	vol      *commit.Volume
	dev      *blockdev.Device
	liner    *liner.State
	histPath string
}

func newShell(vol *commit.Volume, dev *blockdev.Device) *shell {
	return &shell{
		vol:      vol,
		dev:      dev,
		histPath: filepath.Join(os.TempDir(), "tux3ce_history"),
	}
}

func (s *shell) run() error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(s.completer)

	if f, err := os.Open(s.histPath); err == nil {
		s.liner.ReadHistory(f)
		f.Close()
	}

	for {
		line, err := s.liner.Prompt("tux3ce> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				break
			}

			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.liner.AppendHistory(line)

		if s.dispatch(line) {
			break
		}
	}

	if f, err := os.Create(s.histPath); err == nil {
		s.liner.WriteHistory(f)
		f.Close()
	}

	return nil
}

func (s *shell) completer(line string) []string {
	var out []string

	for _, c := range shellCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}

	return out
}

// dispatch runs one command line and reports whether the shell should exit.
func (s *shell) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help":
		s.printHelp()
	case "dirty":
		err = s.cmdDirty(args)
	case "orphan-add":
		err = s.cmdOrphan(args, s.vol.AddOrphan)
	case "orphan-del":
		err = s.cmdOrphan(args, s.vol.RemoveOrphan)
	case "defer-free":
		err = s.cmdDeferFree(args)
	case "pin":
		err = s.cmdPin(args)
	case "commit":
		err = s.cmdCommit(args)
	case "rollup":
		err = s.vol.Commit(commit.ForceRollup)
	case "end-change":
		s.vol.BeginChange()
		err = s.vol.EndChange()
	case "status":
		s.printStatus()
	case "log":
		err = s.cmdLog(args)
	default:
		fmt.Printf("unknown command %q, try 'help'\n", cmd)
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
	}

	return false
}

func (s *shell) printHelp() {
	fmt.Println(`commands:
  dirty <inode> [sync|datasync|pages...]   mark an inode dirty
  orphan-add <inode>                       stage an orphan insertion
  orphan-del <inode>                       stage an orphan deletion
  defer-free <block> <count>               stash a deferred free
  pin <inode>                              add an inode to the pinned list
  commit [force-rollup|no-rollup]          run do_commit directly
  rollup                                   commit with a forced rollup
  end-change                               run the begin/end promotion protocol
  status                                   print the current superblock snapshot
  log <head-block> <steps>                 walk and decode the log chain
  exit | quit | q                          leave the shell`)
}

func (s *shell) cmdDirty(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dirty <inode> [sync|datasync|pages...]")
	}

	inode, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad inode: %w", err)
	}

	var flags commit.DirtyState

	if len(args) == 1 {
		flags = commit.DirtySync | commit.DirtyPages
	}

	for _, f := range args[1:] {
		switch f {
		case "sync":
			flags |= commit.DirtySync
		case "datasync":
			flags |= commit.DirtyDatasync
		case "pages":
			flags |= commit.DirtyPages
		default:
			return fmt.Errorf("unknown dirty flag %q", f)
		}
	}

	s.vol.MarkInodeDirty(inode, flags)

	return nil
}

func (s *shell) cmdOrphan(args []string, apply func(uint64)) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: orphan-add|orphan-del <inode>")
	}

	inode, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad inode: %w", err)
	}

	apply(inode)

	return nil
}

func (s *shell) cmdDeferFree(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: defer-free <block> <count>")
	}

	block, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad block: %w", err)
	}

	count, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("bad count: %w", err)
	}

	return s.vol.DeferFree(block, uint16(count))
}

func (s *shell) cmdPin(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: pin <inode>")
	}

	inode, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad inode: %w", err)
	}

	s.vol.PinBuffer(inode)

	return nil
}

func (s *shell) cmdCommit(args []string) error {
	mode := commit.AllowRollup

	if len(args) == 1 {
		switch args[0] {
		case "force-rollup":
			mode = commit.ForceRollup
		case "no-rollup":
			mode = commit.NoRollup
		default:
			return fmt.Errorf("unknown commit mode %q", args[0])
		}
	}

	return s.vol.Commit(mode)
}

func (s *shell) printStatus() {
	snap := s.vol.Snapshot()

	fmt.Printf("delta=%d rollup=%d logchain=%d logcount=%d freeblocks=%d nextalloc=%d\n",
		snap.Delta, snap.Rollup, snap.Logchain, snap.Logcount, snap.Freeblocks, snap.Nextalloc)
}

func (s *shell) cmdLog(args []string) error {
	head := s.vol.Snapshot().Logchain
	steps := 10

	if len(args) >= 1 {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad head block: %w", err)
		}

		head = v
	}

	if len(args) >= 2 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad step count: %w", err)
		}

		steps = v
	}

	blocks, err := commit.WalkLogChain(s.dev, head, steps)
	if err != nil {
		return err
	}

	for _, b := range blocks {
		fmt.Printf("block %d (logchain -> %d):\n", b.Addr, b.Logchain)

		for _, e := range b.Entries {
			fmt.Printf("  %s block=%d count=%d freeblocks=%d\n", e.Kind, e.Block, e.Count, e.Freeblocks)
		}
	}

	return nil
}
