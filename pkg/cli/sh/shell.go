package sh

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/sugawarayuuta/sonnet"

	"github.com/robotalks/ec.go/pkg/ec"
	env "github.com/robotalks/ec.go/pkg/env/host"
	"github.com/robotalks/ec.go/pkg/transport/mqtt"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	Timeout     time.Duration

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *Conn
}

// Conn is a connected device link.
type Conn struct {
	Ctx    context.Context
	Cancel func()
	Name   string
	Link   *ec.Link
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	timeout    = 30 * time.Second

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&timeout, "timeout", timeout, "Timeout of a command.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// LinkFrom gets the connected Link from ishell context.
func LinkFrom(c *ishell.Context) *ec.Link {
	return ShellFrom(c).Conn.Link
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// Do runs fn against the connected device, bounded by the command
// timeout, and prints its result.
func Do(c *ishell.Context, fn func(ctx context.Context, link *ec.Link) (any, error)) error {
	s := ShellFrom(c)
	if s.Conn == nil {
		err := fmt.Errorf("not connected")
		c.Err(err)
		return err
	}
	ctx, cancel := context.WithTimeout(s.Conn.Ctx, s.Timeout)
	defer cancel()
	res, err := fn(ctx, s.Conn.Link)
	if err != nil {
		c.Err(err)
		return err
	}
	return s.Print(c, res)
}

// Print prints a result as JSON or text.
func (s *Shell) Print(c *ishell.Context, res any) error {
	if s.OutputJSON {
		if res == nil {
			res = struct{}{}
		}
		out, err := sonnet.Marshal(res)
		if err != nil {
			c.Err(err)
			return err
		}
		c.Println(string(out))
		return nil
	}
	switch v := res.(type) {
	case nil:
		c.Println("OK")
	case fmt.Stringer:
		c.Println(v.String())
	default:
		c.Printf("%+v\n", v)
	}
	return nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// SelectDevice discovers devices and asks for a choice.
func (s *Shell) SelectDevice() (*mqtt.DeviceMeta, error) {
	devices, err := s.Config.Discover(context.TODO())
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	var index int
	if len(devices) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 devices discovered in non-interactive mode")
		}
		items := make([]string, len(devices))
		for n, dev := range devices {
			items[n] = FormatMeta(dev)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}
	return &devices[index], nil
}

// FormatMeta prints DeviceMeta into friendly string for display.
func FormatMeta(meta mqtt.DeviceMeta) string {
	if meta.Version == "" {
		return meta.ID
	}
	return meta.ID + ": " + meta.Version
}

// Connect connects to the device configured in conf.
func (s *Shell) Connect(conf *env.Config) error {
	conn := &Conn{Name: conf.ID}
	if conn.Name == "" {
		conn.Name = conf.URL
	}
	conn.Ctx, conn.Cancel = context.WithCancel(context.Background())
	link, err := conf.Connect(conn.Ctx)
	if err != nil {
		conn.Cancel()
		return err
	}
	conn.Link = link
	s.Disconnect()
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conn.Name))
	return nil
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Link.Close()
		s.Conn.Cancel()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.URL)
		}
		if err := s.Connect(s.Config); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.URL, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd lists devices announced on the MQTT broker.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			devices, err := s.Config.Discover(context.TODO())
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if devices == nil {
					devices = []mqtt.DeviceMeta{}
				}
				s.Print(c, devices)
				return
			}
			if len(devices) == 0 {
				c.Println("No devices found")
				return
			}
			for _, dev := range devices {
				c.Println(FormatMeta(dev))
			}
		},
	}

	// ConnectCmd connects a device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[URL|ID]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			conf := *s.Config
			switch {
			case len(c.Args) > 0 && isURL(c.Args[0]):
				conf.URL = c.Args[0]
			case len(c.Args) > 0:
				conf.ID = c.Args[0]
			case conf.ID == "" && isMQTT(conf.URL):
				meta, err := s.SelectDevice()
				if err != nil {
					c.Err(err)
					return
				}
				if meta == nil {
					c.Err(fmt.Errorf("no device discovered"))
					return
				}
				conf.ID = meta.ID
			}
			if err := s.Connect(&conf); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current device.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).WithAutoConnect(!isMQTT(env.Default().URL) || env.Default().ID != "").Run(flag.Args()...)
}
