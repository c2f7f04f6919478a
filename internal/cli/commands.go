// Package cli implements the interactive console: connection control,
// live status tables and raw request helpers.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/rustpanel-project/rustpanel/internal/bridge"
	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/db"
	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/monitor"
	"github.com/rustpanel-project/rustpanel/internal/protocol"
	"github.com/rustpanel-project/rustpanel/internal/rpc"
)

// Monitor is the part of monitor.Manager the console drives.
type Monitor interface {
	Status() monitor.Status
	MapInfo() (events.MapInfo, bool)
	Entities() []events.MapEntity
	Players() []events.Player
	Connect(ctx context.Context, host string, port int, password string, save bool) error
	Disconnect()
	Console(ctx context.Context, command string) error
	Chat(ctx context.Context, message string) error
	Send(ctx context.Context, frame []byte) error
}

// SavedServers looks up saved servers. It may be nil.
type SavedServers interface {
	ListServers(ctx context.Context) ([]db.Server, error)
	GetServer(ctx context.Context, id int64) (db.Server, error)
	LastServer(ctx context.Context) (db.Server, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	monitor  Monitor
	servers  SavedServers

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI handler reading commands from in.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, mon Monitor, servers SavedServers, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		monitor:  mon,
		servers:  servers,
		in:       in,
		out:      out,
	}
}

// Start runs the read-eval loop until ctx is cancelled, input ends or the
// user quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nRustPanel console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "rustpanel> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.handleLine(ctx, line); quit {
				return
			}
		}
	}
}

// handleLine executes one input line and reports whether the loop should
// end.
func (c *CLI) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	rest := strings.TrimSpace(line[len(parts[0]):])

	if cmd == "quit" || cmd == "exit" || cmd == "q" {
		fmt.Fprintln(c.out, "Shutting down RustPanel...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true
	}

	if err := c.execute(ctx, cmd, parts[1:], rest); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

// execute processes a single CLI command. rest is the raw text after the
// command word, used where spacing matters.
func (c *CLI) execute(ctx context.Context, cmd string, args []string, rest string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "entities", "e":
		c.printEntities(args)
	case "monuments", "map":
		return c.printMonuments()
	case "connect":
		return c.cmdConnect(ctx, args)
	case "disconnect":
		c.monitor.Disconnect()
		fmt.Fprintln(c.out, "Disconnected")
	case "console", "rcon":
		if rest == "" {
			return fmt.Errorf("usage: console <command>")
		}
		if err := c.monitor.Console(ctx, rest); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Sent: %s\n", rest)
	case "chat", "say":
		if rest == "" {
			return fmt.Errorf("usage: chat <message>")
		}
		if err := c.monitor.Chat(ctx, rest); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Chat sent: %s\n", rest)
	case "request", "req":
		return c.cmdRequest(ctx, args)
	case "rpcid":
		return c.cmdRPCID(args)
	case "servers":
		return c.printServers(ctx)
	case "setconfig":
		return c.cmdSetConfig(args)
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	tw := c.table([]string{"Command", "Description"})
	for _, row := range [][]string{
		{"status", "Connection state and server info"},
		{"players", "Tracked players"},
		{"entities [type]", "Latest map entities, optionally one type"},
		{"monuments", "Map size and monuments"},
		{"connect <host[:port]> [password] [--save]", "Connect to a bridge"},
		{"connect [#id] [password]", "Reconnect to a saved or the last server"},
		{"disconnect", "Close the bridge connection"},
		{"console <command>", "Run a server console command"},
		{"chat <message>", "Send a chat message"},
		{"request <name>", "Send an argument-less request"},
		{"rpcid <name|0xID>", "Show the wire id for an operation"},
		{"servers", "Saved servers"},
		{"setconfig <section> <key> <value>", "Update a configuration value"},
		{"quit", "Shut down RustPanel"},
	} {
		tw.Append(row)
	}
	tw.Render()
}

func (c *CLI) printStatus() {
	st := c.monitor.Status()

	fmt.Fprintf(c.out, "\n  State:        %s\n", st.State)
	if st.Address != "" {
		fmt.Fprintf(c.out, "  Address:      %s\n", st.Address)
	}
	if st.LastError != "" {
		fmt.Fprintf(c.out, "  Last error:   %s\n", st.LastError)
	}
	if st.Server != nil {
		s := st.Server
		fmt.Fprintf(c.out, "  Hostname:     %s\n", s.Hostname)
		fmt.Fprintf(c.out, "  Map:          %s\n", s.MapName)
		fmt.Fprintf(c.out, "  Players:      %d/%d (queued %d, joining %d)\n",
			s.PlayerCount, s.MaxPlayers, s.QueuedPlayers, s.JoiningPlayers)
		fmt.Fprintf(c.out, "  Entities:     %d\n", s.EntityCount)
		fmt.Fprintf(c.out, "  FPS:          %.1f\n", s.FPS)
		fmt.Fprintf(c.out, "  Game time:    %s\n", st.GameTime)
		fmt.Fprintf(c.out, "  Uptime:       %s\n", st.Uptime)
	}
	fmt.Fprintf(c.out, "  Tracked:      %d entities, %d players\n\n", st.Entities, st.Players)
}

func (c *CLI) printPlayers() {
	players := c.monitor.Players()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players tracked")
		return
	}

	tw := c.table([]string{"Steam ID", "Name", "Online", "Dead", "Position"})
	for _, p := range players {
		tw.Append([]string{
			strconv.FormatUint(p.SteamID, 10),
			p.DisplayName,
			yesNo(p.Online),
			yesNo(p.Dead),
			fmt.Sprintf("%.0f, %.0f", p.X, p.Y),
		})
	}
	tw.Render()
}

func (c *CLI) printEntities(args []string) {
	list := c.monitor.Entities()

	counts := make(map[string]int)
	tw := c.table([]string{"ID", "Type", "Label", "Position", "Rotation"})
	shown := 0
	for _, e := range list {
		kind := e.Type.String()
		counts[kind]++
		if len(args) > 0 && kind != args[0] {
			continue
		}
		shown++
		tw.Append([]string{
			strconv.FormatUint(e.EntityID, 10),
			kind,
			e.Label,
			fmt.Sprintf("%.0f, %.0f", e.X, e.Y),
			fmt.Sprintf("%.0f", e.Rotation),
		})
	}
	if shown == 0 {
		fmt.Fprintln(c.out, "No entities")
		return
	}
	tw.Render()

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	summary := make([]string, 0, len(kinds))
	for _, k := range kinds {
		summary = append(summary, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	fmt.Fprintf(c.out, "Total %d: %s\n", len(list), strings.Join(summary, " "))
}

func (c *CLI) printMonuments() error {
	info, ok := c.monitor.MapInfo()
	if !ok {
		return fmt.Errorf("map info not received yet")
	}

	fmt.Fprintf(c.out, "World size %d, image %dx%d (%d bytes)\n",
		info.WorldSize, info.ImageWidth, info.ImageHeight, len(info.Image))

	tw := c.table([]string{"Monument", "X", "Y"})
	for _, m := range info.Monuments {
		tw.Append([]string{m.Name, fmt.Sprintf("%.3f", m.X), fmt.Sprintf("%.3f", m.Y)})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdConnect(ctx context.Context, args []string) error {
	save := false
	positional := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--save" {
			save = true
			continue
		}
		positional = append(positional, a)
	}

	var (
		host     string
		port     int
		password string
	)
	switch {
	case len(positional) == 0 || strings.HasPrefix(positional[0], "#"):
		srv, err := c.savedServer(ctx, positional)
		if err != nil {
			return err
		}
		host, port, password = srv.Host, srv.Port, srv.Password
		// keep the stored credential unless a new one is given
		save = save && len(positional) > 1
	default:
		var err error
		host, port, err = splitHostPort(positional[0])
		if err != nil {
			return err
		}
	}
	if len(positional) > 1 {
		password = positional[1]
	}

	fmt.Fprintf(c.out, "Connecting to %s:%d...\n", host, port)
	if err := c.monitor.Connect(ctx, host, port, password, save); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Connected to %s\n", c.monitor.Status().Address)
	return nil
}

// savedServer resolves "#<id>" or, with no arguments, the last connected
// server.
func (c *CLI) savedServer(ctx context.Context, positional []string) (db.Server, error) {
	if c.servers == nil {
		return db.Server{}, fmt.Errorf("usage: connect <host[:port]> [password] [--save] (history database is disabled)")
	}
	if len(positional) == 0 {
		srv, err := c.servers.LastServer(ctx)
		if errors.Is(err, db.ErrNotFound) {
			return db.Server{}, fmt.Errorf("no previous server, usage: connect <host[:port]> [password] [--save]")
		}
		return srv, err
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(positional[0], "#"), 10, 64)
	if err != nil || id < 1 {
		return db.Server{}, fmt.Errorf("invalid server id: %s", positional[0])
	}
	srv, err := c.servers.GetServer(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.Server{}, fmt.Errorf("no saved server #%d", id)
	}
	return srv, err
}

// splitHostPort accepts "host" or "host:port", defaulting the bridge port.
func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, bridge.DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port: %s", portStr)
	}
	return host, port, nil
}

func (c *CLI) cmdRequest(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: request <name>")
	}
	frame, ok := rpc.SimpleRequest(args[0])
	if !ok {
		return fmt.Errorf("unknown or parameterised operation: %s", args[0])
	}
	if err := c.monitor.Send(ctx, frame); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent %s (%d bytes)\n", args[0], len(frame))
	return nil
}

func (c *CLI) cmdRPCID(args []string) error {
	if len(args) < 1 {
		tw := c.table([]string{"Name", "ID"})
		for _, name := range protocol.Names() {
			tw.Append([]string{name, fmt.Sprintf("0x%08X", protocol.RPCID(name))})
		}
		tw.Render()
		return nil
	}

	arg := args[0]
	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		id, err := strconv.ParseUint(arg[2:], 16, 32)
		if err != nil {
			return fmt.Errorf("invalid id: %s", arg)
		}
		fmt.Fprintln(c.out, protocol.DescribeID(uint32(id)))
		return nil
	}

	id := protocol.RPCID(arg)
	fmt.Fprintf(c.out, "%s = %d (0x%08X)\n", arg, id, id)
	return nil
}

func (c *CLI) printServers(ctx context.Context) error {
	if c.servers == nil {
		return fmt.Errorf("history database is disabled")
	}
	list, err := c.servers.ListServers(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(c.out, "No saved servers")
		return nil
	}

	tw := c.table([]string{"ID", "Name", "Address", "Password", "Last Connected"})
	for _, s := range list {
		last := "-"
		if !s.LastConnected.IsZero() {
			last = s.LastConnected.Local().Format("2006-01-02 15:04")
		}
		tw.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
			yesNo(s.SavePassword),
			last,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: setconfig <section> <key> <value>")
	}

	section, key := args[0], args[1]
	raw := strings.Join(args[2:], " ")

	var value interface{} = raw
	if n, err := strconv.Atoi(raw); err == nil {
		value = n
	} else if b, err := strconv.ParseBool(raw); err == nil {
		value = b
	}

	err := c.cfg.UpdateField(section, key, value)
	if err != nil && value != interface{}(raw) {
		// numeric-looking text for a string field
		err = c.cfg.UpdateField(section, key, raw)
	}
	if err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s.%s = %s\n", section, key, raw)
	return nil
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
