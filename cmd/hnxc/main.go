package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ianlancetaylor/demangle"
	"github.com/spf13/cobra"

	"github.com/zboralski/hnxc/internal/emulator"
	"github.com/zboralski/hnxc/internal/guest"
	"github.com/zboralski/hnxc/internal/libc"
	glog "github.com/zboralski/hnxc/internal/log"
	"github.com/zboralski/hnxc/internal/rt"
	"github.com/zboralski/hnxc/internal/sysno"
	"github.com/zboralski/hnxc/internal/trace"
	"github.com/zboralski/hnxc/internal/trampoline"
	"github.com/zboralski/hnxc/internal/ui/colorize"
)

var (
	verbose   bool
	tableSpec string
	rootDir   string
	maxInsn   uint64
	traceRun  bool
	shortIO   int

	onGuest bool
	idle    bool
	catPath string
	emitTo  string
)

// exitStatus carries a guest's nonzero exit status out of a command.
type exitStatus int

func (s exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(s))
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hnxc",
		Short: "Minimal C library runtime over raw syscalls",
		Long: `hnxc runs programs against a minimal C library whose only way into a kernel is
a single syscall trampoline.

The host kernel is reached through the native trampoline. Anything else runs on an
emulated AArch64 CPU with a small kernel that services svc #0 traps, so the same
programs can be pointed at a different syscall numbering by swapping one table.

Examples:
  hnxc hello                          # greeting through the host kernel
  hnxc hello --guest --table hnx      # same wrappers, emulated kernel, hnx numbers
  hnxc demo --trace                   # built-in _start on the emulated CPU
  hnxc demo --idle                    # entry point that never calls exit
  hnxc demo --cat /etc/motd --root .  # read a file from the guest root
  hnxc run hello.elf                  # static AArch64 executable
  hnxc table linux-arm64              # show a syscall table`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			glog.Init(verbose)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	pf.StringVarP(&tableSpec, "table", "t", "", "syscall table: host, hnx, linux-arm64 or a .yaml file")
	pf.StringVar(&rootDir, "root", "", "host directory the guest sees as / (default: no filesystem)")
	pf.Uint64VarP(&maxInsn, "max-insn", "n", guest.DefaultBudget, "instruction budget for guest runs")
	pf.BoolVar(&traceRun, "trace", false, "print every guest instruction and syscall")
	pf.IntVar(&shortIO, "short-io", 0, "cap guest reads and writes at this many bytes")

	helloCmd := &cobra.Command{
		Use:   "hello",
		Short: "Write the greeting through libc and exit",
		Args:  cobra.NoArgs,
		RunE:  runHello,
	}
	helloCmd.Flags().BoolVar(&onGuest, "guest", false, "use the emulated kernel instead of the host")

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a built-in _start on the emulated CPU",
		Args:  cobra.NoArgs,
		RunE:  runDemo,
	}
	demoCmd.Flags().BoolVar(&idle, "idle", false, "spin after writing instead of exiting")
	demoCmd.Flags().StringVar(&catPath, "cat", "", "copy this guest file to stdout instead of greeting")
	demoCmd.Flags().StringVar(&emitTo, "emit", "", "write the program as a static ELF to this path and stop")

	runCmd := &cobra.Command{
		Use:   "run <binary.elf>",
		Short: "Run a static AArch64 executable from its entry point",
		Args:  cobra.ExactArgs(1),
		RunE:  runELF,
	}

	tableCmd := &cobra.Command{
		Use:   "table [name|file.yaml]",
		Short: "Show syscall tables",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showTable,
	}

	rootCmd.AddCommand(helloCmd, demoCmd, runCmd, tableCmd)

	if err := rootCmd.Execute(); err != nil {
		var status exitStatus
		if errors.As(err, &status) {
			os.Exit(int(status))
		}
		fmt.Fprintln(os.Stderr, colorize.Error("hnxc: "+err.Error()))
		os.Exit(1)
	}
}

// resolveTable returns the --table value, or def when it was not given.
func resolveTable(def string) (*sysno.Table, error) {
	spec := tableSpec
	if spec == "" {
		spec = def
	}
	return sysno.Resolve(spec)
}

func runHello(cmd *cobra.Command, args []string) error {
	if onGuest {
		return runHelloGuest()
	}

	tab, err := resolveTable(sysno.HostTarget)
	if err != nil {
		return err
	}
	c, err := libc.New(tab, trampoline.Traced(trampoline.NewNative(), tab, glog.L))
	if err != nil {
		return err
	}
	rt.Start(c, rt.Hello)
	return nil
}

func runHelloGuest() error {
	m, tab, err := newMachine()
	if err != nil {
		return err
	}
	defer m.Close()

	c, err := libc.New(tab, trampoline.Traced(m.Trampoline(), tab, glog.L))
	if err != nil {
		return err
	}
	if err := rt.New(c).Run(rt.Hello); !errors.Is(err, libc.ErrExitReturned) {
		return err
	}
	status, _ := m.Kernel.Exited()
	if status != 0 {
		return exitStatus(status)
	}
	return nil
}

func newMachine() (*guest.Machine, *sysno.Table, error) {
	tab, err := resolveTable("linux-arm64")
	if err != nil {
		return nil, nil, err
	}
	m, err := guest.NewMachine(guest.Config{
		Table:   tab,
		Root:    rootDir,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Pid:     os.Getpid(),
		ShortIO: shortIO,
		Logger:  glog.L,
	})
	if err != nil {
		return nil, nil, err
	}
	m.SetBudget(maxInsn)
	return m, tab, nil
}

func buildProgram(tab *sysno.Table) (*guest.Program, error) {
	switch {
	case catPath != "":
		return guest.CatProgram(tab, catPath)
	case idle:
		return guest.IdleProgram(tab)
	}
	return guest.HelloProgram(tab)
}

func runDemo(cmd *cobra.Command, args []string) error {
	if emitTo != "" {
		tab, err := resolveTable("linux-arm64")
		if err != nil {
			return err
		}
		p, err := buildProgram(tab)
		if err != nil {
			return err
		}
		if err := os.WriteFile(emitTo, p.ELF(), 0o755); err != nil {
			return fmt.Errorf("emit: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s %s (%d bytes, %s)\n",
			colorize.Header("▶"), emitTo, len(p.ELF()), tab.Target())
		return nil
	}

	m, tab, err := newMachine()
	if err != nil {
		return err
	}
	defer m.Close()

	p, err := buildProgram(tab)
	if err != nil {
		return err
	}
	entry, err := m.LoadProgram(p)
	if err != nil {
		return err
	}
	return execute(m, "built-in", entry, nil)
}

func runELF(cmd *cobra.Command, args []string) error {
	m, _, err := newMachine()
	if err != nil {
		return err
	}
	defer m.Close()

	info, err := m.LoadELF(args[0])
	if err != nil {
		return err
	}
	return execute(m, args[0], info.Entry, info.Labels())
}

// execute runs the guest, printing the trace to stderr so it never mixes into the
// guest's stdout. labels names function entry addresses.
func execute(m *guest.Machine, name string, entry uint64, labels map[uint64]string) error {
	events := &trace.Collector{}
	m.Kernel.OnSyscall = func(e *trace.Event) {
		events.Add(e)
		if traceRun {
			fmt.Fprintln(os.Stderr, formatEvent(e))
		}
	}

	if traceRun {
		printHeader(name, m.Kernel, entry)
		m.Emu.HookCode(func(e *emulator.Emulator, addr uint64, size uint32) {
			if addr < emulator.TrampolineBase+emulator.TrampolineSize && addr >= emulator.TrampolineBase {
				return
			}
			if label, ok := labels[addr]; ok {
				fmt.Fprintf(os.Stderr, "%s:\n", colorize.Syscall(demangle.Filter(label)))
			}
			insn, err := e.MemReadU32(addr)
			if err != nil {
				return
			}
			fmt.Fprintln(os.Stderr, formatLine(addr, insn))
		})
	}

	status, err := m.Exec(entry)
	if traceRun {
		printStats(m.Emu.Executed(), events, status, err)
	}
	if err != nil {
		return err
	}
	if status != 0 {
		return exitStatus(status)
	}
	return nil
}

func formatLine(addr uint64, insn uint32) string {
	var b strings.Builder
	b.WriteString(colorize.Address(addr))
	b.WriteString("  ")
	b.WriteString(colorize.HexBytes(fmt.Sprintf("%08X", insn)))
	b.WriteString("  ")
	b.WriteString(colorize.Instruction(guest.Disasm(insn)))
	return b.String()
}

func formatEvent(e *trace.Event) string {
	var b strings.Builder
	b.WriteString(strings.Repeat(" ", 20))
	b.WriteString(colorize.Comment("; "))
	b.WriteString(colorize.Tag(strings.Join(e.Tags.Strings(), " ")))
	b.WriteByte(' ')
	b.WriteString(colorize.Syscall(e.Name))
	b.WriteString(colorize.Detail("(" + e.Detail + ")"))
	b.WriteString(" = ")
	b.WriteString(colorize.Result(e.Ret))
	if e.Failed() {
		b.WriteString(" " + colorize.Error(trampoline.Errno(-e.Ret).Error()))
	}
	return b.String()
}

func printHeader(name string, k *guest.Kernel, entry uint64) {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, name); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
	}
	w := os.Stderr
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s hnxc ─ guest run\n", colorize.Header("▶"))
	fmt.Fprintf(w, "  %s %s\n", colorize.Detail("Program:"), name)
	fmt.Fprintf(w, "  %s %s  %s %s\n",
		colorize.Detail("Table:"), colorize.Syscall(k.Table().Target()),
		colorize.Detail("Entry:"), colorize.Address(entry))
	fmt.Fprintf(w, "  %s %s\n", colorize.Detail("Session:"), k.Session())
	fmt.Fprintln(w)
}

func printStats(insns uint64, events *trace.Collector, status int, err error) {
	w := os.Stderr
	fmt.Fprintln(w)
	fmt.Fprint(w, colorize.Border("───────────────────────────────────────── "))
	fmt.Fprintf(w, "%s insn  %s syscalls",
		colorize.Number(fmt.Sprintf("%d", insns)),
		colorize.Number(fmt.Sprintf("%d", len(events.Events()))))
	if n := events.Count(trace.Error); n > 0 {
		fmt.Fprintf(w, "  %s", colorize.Error(fmt.Sprintf("%d failed", n)))
	}
	if err != nil {
		fmt.Fprintf(w, "  %s", colorize.Error(err.Error()))
	} else {
		fmt.Fprintf(w, "  %s %d", colorize.Detail("exit"), status)
	}
	fmt.Fprintln(w)
}

func showTable(cmd *cobra.Command, args []string) error {
	specs := sysno.Targets()
	if len(args) == 1 {
		specs = args
	} else if tableSpec != "" {
		specs = []string{tableSpec}
	}

	for i, spec := range specs {
		tab, err := sysno.Resolve(spec)
		if err != nil {
			if len(specs) > 1 && errors.Is(err, sysno.ErrNoHostTable) {
				fmt.Println(colorize.Detail(spec + ": " + err.Error()))
				continue
			}
			return err
		}
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(renderTable(tab))
	}
	return nil
}

func renderTable(tab *sysno.Table) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorize.ColorHeader))
	name := lipgloss.NewStyle().Foreground(lipgloss.Color(colorize.ColorAddress)).PaddingRight(2)
	number := lipgloss.NewStyle().Foreground(lipgloss.Color(colorize.ColorNumber)).Align(lipgloss.Right)

	rows := make([][]string, 0, tab.Len())
	for _, n := range tab.Names() {
		rows = append(rows, []string{string(n), fmt.Sprintf("%d", tab.MustLookup(n))})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(colorize.ColorBorder))).
		Headers("SYSCALL", "NR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 0:
				return name
			}
			return number
		})

	title := lipgloss.NewStyle().Bold(true).Render(tab.Target())
	return title + "\n" + t.String()
}
