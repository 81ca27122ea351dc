package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/chzyer/readline"
	"github.com/veesix-networks/gidd/pkg/events"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/gidmgmt"
	"github.com/veesix-networks/gidd/pkg/logger"
	"gopkg.in/yaml.v3"
)

var errExit = errors.New("exit")

type Shell struct {
	svc       *gidmgmt.Service
	reclaimer *gidcache.Reclaimer
	bus       events.Bus
	logger    *slog.Logger

	mu      sync.Mutex
	rl      *readline.Instance
	stopped bool
}

func NewShell(svc *gidmgmt.Service, reclaimer *gidcache.Reclaimer, bus events.Bus) *Shell {
	return &Shell{
		svc:       svc,
		reclaimer: reclaimer,
		bus:       bus,
		logger:    logger.Get(logger.Shell),
	}
}

func (s *Shell) completer() readline.AutoCompleter {
	devices := func(string) []string { return s.svc.Devices() }
	return readline.NewPrefixCompleter(
		readline.PcItem("show",
			readline.PcItem("gids", readline.PcItemDynamic(devices)),
			readline.PcItem("devices"),
			readline.PcItem("interfaces"),
			readline.PcItem("queue"),
			readline.PcItem("stats"),
			readline.PcItem("log-levels"),
		),
		readline.PcItem("set",
			readline.PcItem("log-level", readline.PcItemDynamic(logComponents)),
		),
		readline.PcItem("clear",
			readline.PcItem("log-level", readline.PcItemDynamic(logComponents)),
		),
		readline.PcItem("rescan"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

var componentNames = []string{
	logger.Main,
	logger.GIDCache,
	logger.GIDMgmt,
	logger.Netlink,
	logger.Events,
	logger.Metrics,
	logger.Device,
	logger.Shell,
}

func logComponents(string) []string {
	return componentNames
}

func (s *Shell) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gidd> ",
		HistoryFile:     os.ExpandEnv("$HOME/.gidd_history"),
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		rl.Close()
		return nil
	}
	s.rl = rl
	s.mu.Unlock()
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					return nil
				}
				continue
			} else if err == io.EOF {
				return nil
			}
			return err
		}

		if err := s.Exec(rl.Stdout(), line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(rl.Stderr(), "Error: %v\n", err)
		}
	}
}

// Stop interrupts a running Run.
func (s *Shell) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.rl != nil {
		s.rl.Close()
	}
}

// Exec runs a single command line and writes its output to w.
func (s *Shell) Exec(w io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	s.logger.Debug("Shell command", "line", line)

	switch fields[0] {
	case "exit", "quit":
		return errExit
	case "help", "?":
		s.help(w)
		return nil
	case "rescan":
		if err := s.svc.Rescan(); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rescan queued")
		return nil
	case "show":
		if len(fields) < 2 {
			return fmt.Errorf("show: missing argument")
		}
		return s.show(w, fields[1], fields[2:])
	case "set":
		if len(fields) != 4 || fields[1] != "log-level" {
			return fmt.Errorf("usage: set log-level <component|default> <level>")
		}
		return s.setLogLevel(w, fields[2], logger.LogLevel(fields[3]))
	case "clear":
		if len(fields) != 3 || fields[1] != "log-level" {
			return fmt.Errorf("usage: clear log-level <component>")
		}
		logger.ClearComponentLevel(fields[2])
		fmt.Fprintf(w, "%s uses the default level\n", fields[2])
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func (s *Shell) help(w io.Writer) {
	fmt.Fprintln(w, "show gids [device]   GID tables of attached devices")
	fmt.Fprintln(w, "show devices         attached devices and port state")
	fmt.Fprintln(w, "show interfaces      known host interfaces")
	fmt.Fprintln(w, "show queue           update dispatcher queue")
	fmt.Fprintln(w, "show stats           dispatcher, reclaim and event counters")
	fmt.Fprintln(w, "show log-levels      default and per-component log levels")
	fmt.Fprintln(w, "set log-level C L    change the level of component C (or default)")
	fmt.Fprintln(w, "clear log-level C    drop the level override of component C")
	fmt.Fprintln(w, "rescan               resolve every interface again")
	fmt.Fprintln(w, "exit                 leave the shell")
}

func (s *Shell) show(w io.Writer, what string, args []string) error {
	switch what {
	case "gids":
		return s.showGIDs(w, args)
	case "devices":
		return s.showDevices(w)
	case "interfaces":
		return s.showInterfaces(w)
	case "queue":
		st := s.svc.Dispatcher().Stats()
		fmt.Fprintf(w, "Queue: %d/%d  enqueued %d  processed %d  dropped %d\n",
			st.QueueLen, st.QueueCap, st.Enqueued, st.Processed, st.Dropped)
		return nil
	case "stats":
		return s.showStats(w)
	case "log-levels":
		return s.showLogLevels(w)
	default:
		return fmt.Errorf("show: unknown argument %q", what)
	}
}

func (s *Shell) showGIDs(w io.Writer, args []string) error {
	names := s.svc.Devices()
	if len(args) > 0 {
		if s.svc.Manager(args[0]) == nil {
			return fmt.Errorf("device %s not attached", args[0])
		}
		names = args[:1]
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tPORT\tINDEX\tGID\tTYPE\tINTERFACE\tVERSION")
	for _, name := range names {
		mgr := s.svc.Manager(name)
		if mgr == nil {
			continue
		}
		for port := 1; port <= mgr.Ports(); port++ {
			entries, err := mgr.Entries(port)
			if err != nil {
				fmt.Fprintf(tw, "%s\t%d\t-\t%v\t\t\t\n", name, port, err)
				continue
			}
			for _, e := range entries {
				iface := "-"
				if e.Attrs.Iface != nil {
					iface = e.Attrs.Iface.Name()
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%d\n",
					name, port, e.Index, e.ID, e.Attrs.Kind, iface, e.Version)
			}
		}
	}
	return tw.Flush()
}

func (s *Shell) showDevices(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSTATE\tPORT\tACTIVE\tUSED\tSIZE\tFAILURES")
	for _, name := range s.svc.Devices() {
		mgr := s.svc.Manager(name)
		if mgr == nil {
			continue
		}
		for port := 1; port <= mgr.Ports(); port++ {
			st, err := mgr.Stats(port)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%d\t%d\n",
				name, mgr.State(), port, mgr.IsActive(port), st.Used, st.Size, st.ProgramFailures)
		}
	}
	return tw.Flush()
}

func (s *Shell) showInterfaces(w io.Writer) error {
	reg := s.svc.Registry()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tSTATE\tUP\tADDRESSES")
	for _, h := range reg.List() {
		var addrs []string
		for _, ip := range reg.IPv4Addresses(h.Index) {
			addrs = append(addrs, ip.String())
		}
		for _, ip := range reg.IPv6Addresses(h.Index) {
			addrs = append(addrs, ip.String())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", h.Index, h.Name(), h.State(), h.IsUp(), strings.Join(addrs, ","))
	}
	return tw.Flush()
}

type shellStats struct {
	Dispatcher gidmgmt.DispatcherStats `yaml:"dispatcher"`
	Reclaim    gidcache.ReclaimStats   `yaml:"reclaim"`
	Events     events.Stats            `yaml:"events"`
}

func (s *Shell) showStats(w io.Writer) error {
	st := shellStats{Dispatcher: s.svc.Dispatcher().Stats()}
	if s.reclaimer != nil {
		st.Reclaim = s.reclaimer.Stats()
	}
	if s.bus != nil {
		st.Events = s.bus.Stats()
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return err
	}
	return enc.Close()
}

func (s *Shell) setLogLevel(w io.Writer, component string, level logger.LogLevel) error {
	if !logger.ValidLevel(level) {
		return fmt.Errorf("unknown log level %q", level)
	}

	if component == "default" {
		logger.SetDefaultLevel(level)
	} else {
		logger.SetComponentLevel(component, level)
	}

	fmt.Fprintf(w, "%s log level set to %s\n", component, level)
	return nil
}

func (s *Shell) showLogLevels(w io.Writer) error {
	levels := logger.GetComponentLevels()
	names := make([]string, 0, len(levels))
	for name := range levels {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tLEVEL")
	fmt.Fprintf(tw, "default\t%s\n", logger.GetDefaultLevel())
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, levels[name])
	}
	return tw.Flush()
}
