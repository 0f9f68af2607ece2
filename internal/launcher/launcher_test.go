package launcher_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nixpig/stsh/internal/jobmanager"
	"github.com/nixpig/stsh/internal/launcher"
	"github.com/nixpig/stsh/internal/pipeline"
	"github.com/nixpig/stsh/internal/signals"
	"golang.org/x/sys/unix"
)

type fakeTerminal struct {
	given     []int
	reclaimed int

	ctty   int
	hasTTY bool
}

func (f *fakeTerminal) Ctty() (int, bool) {
	return f.ctty, f.hasTTY
}

func (f *fakeTerminal) Give(pgid int) error {
	f.given = append(f.given, pgid)
	return nil
}

func (f *fakeTerminal) Reclaim() error {
	f.reclaimed++
	return nil
}

type testEnv struct {
	launcher *launcher.Launcher
	table    *jobmanager.Table
	relay    *signals.Relay
	terminal *fakeTerminal
	out      *bytes.Buffer
	stderr   *os.File
	dir      string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		table:    jobmanager.NewTable(),
		terminal: &fakeTerminal{},
		out:      &bytes.Buffer{},
		dir:      t.TempDir(),
	}

	logger := slog.New(slog.DiscardHandler)

	env.relay = signals.NewRelay(env.table, logger)
	env.relay.Install()

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("failed to open %s: '%v'", os.DevNull, err)
	}

	stdout, err := os.Create(filepath.Join(env.dir, "stdout"))
	if err != nil {
		t.Fatalf("failed to create stdout: '%v'", err)
	}

	env.stderr, err = os.Create(filepath.Join(env.dir, "stderr"))
	if err != nil {
		t.Fatalf("failed to create stderr: '%v'", err)
	}

	t.Cleanup(func() {
		for _, job := range env.table.Jobs() {
			unix.Kill(-job.Pgid(), unix.SIGKILL)
		}

		env.relay.WaitWhile(func() bool { return env.table.Len() > 0 })
		env.relay.Uninstall()

		stdin.Close()
		stdout.Close()
		env.stderr.Close()
	})

	env.launcher = launcher.NewLauncher(
		env.table,
		env.relay,
		env.terminal,
		launcher.Stdio{Stdin: stdin, Stdout: stdout, Stderr: env.stderr},
		env.out,
		logger,
	)

	return env
}

func (env *testEnv) launch(t *testing.T, line string) (*jobmanager.Job, error) {
	t.Helper()

	p, err := pipeline.Parse(line)
	if err != nil {
		t.Fatalf("failed to parse '%s': '%v'", line, err)
	}

	return env.launcher.Launch(p)
}

func (env *testEnv) path(name string) string {
	return filepath.Join(env.dir, name)
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read '%s': '%v'", path, err)
	}

	return string(data)
}

func openDescriptors(t *testing.T) int {
	t.Helper()

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot list open descriptors: '%v'", err)
	}

	return len(entries)
}

func TestLaunchForeground(t *testing.T) {
	t.Run("Test output redirection", func(t *testing.T) {
		env := setupTestEnv(t)

		out := env.path("out.txt")

		job, err := env.launch(t, "echo Hello, world! > "+out)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if env.table.ContainsJob(job.Num()) {
			t.Errorf("expected job to be removed once it terminated")
		}

		if got := readFile(t, out); got != "Hello, world!\n" {
			t.Errorf("expected output: got '%s', want '%s'", got, "Hello, world!\n")
		}

		if len(env.terminal.given) != 1 || env.terminal.given[0] != job.Pgid() {
			t.Errorf("expected terminal given to '%d': got '%v'", job.Pgid(), env.terminal.given)
		}

		if env.terminal.reclaimed != 1 {
			t.Errorf("expected terminal reclaimed once: got '%d'", env.terminal.reclaimed)
		}

		if env.out.Len() != 0 {
			t.Errorf("expected no launch notice for foreground job: got '%s'", env.out)
		}
	})

	t.Run("Test input and output redirection round trip", func(t *testing.T) {
		env := setupTestEnv(t)

		in, out := env.path("in.txt"), env.path("out.txt")

		if err := os.WriteFile(in, []byte("line one\nline two\n"), 0644); err != nil {
			t.Fatalf("failed to write input: '%v'", err)
		}

		if _, err := env.launch(t, "cat < "+in+" > "+out); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if got := readFile(t, out); got != "line one\nline two\n" {
			t.Errorf("expected output to match input: got '%s'", got)
		}
	})

	t.Run("Test three stage pipeline leaks no descriptors", func(t *testing.T) {
		env := setupTestEnv(t)

		in, out := env.path("in.txt"), env.path("out.txt")

		if err := os.WriteFile(in, []byte("b\na\nb\nc\n"), 0644); err != nil {
			t.Fatalf("failed to write input: '%v'", err)
		}

		before := openDescriptors(t)

		job, err := env.launch(t, "sort < "+in+" | uniq | wc -l > "+out)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if after := openDescriptors(t); after != before {
			t.Errorf("expected open descriptors: got '%d', want '%d'", after, before)
		}

		if len(job.Processes()) != 3 {
			t.Errorf("expected processes: got '%d', want '%d'", len(job.Processes()), 3)
		}

		// wc only sees end of file if no stage kept a pipe end open.
		if got := strings.TrimSpace(readFile(t, out)); got != "3" {
			t.Errorf("expected line count: got '%s', want '%s'", got, "3")
		}
	})

	t.Run("Test processes share the first process group", func(t *testing.T) {
		env := setupTestEnv(t)

		job, err := env.launch(t, "sleep 30 | sleep 30 &")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		for _, p := range job.Processes() {
			pgid, err := unix.Getpgid(p.PID())
			if err != nil {
				t.Fatalf("failed to get pgid of '%d': '%v'", p.PID(), err)
			}

			if pgid != job.Pgid() {
				t.Errorf("expected pgid: got '%d', want '%d'", pgid, job.Pgid())
			}
		}

		if job.Pgid() != job.Processes()[0].PID() {
			t.Errorf("expected pgid to be the first pid")
		}
	})
}

func TestLaunchTerminalHandoff(t *testing.T) {
	t.Run("Test foreground leader takes the terminal before exec", func(t *testing.T) {
		env := setupTestEnv(t)

		// Not a terminal, so the handoff in the child fails and the failure
		// surfaces from the launch.
		notTTY, err := os.Open(os.DevNull)
		if err != nil {
			t.Fatalf("failed to open %s: '%v'", os.DevNull, err)
		}
		defer notTTY.Close()

		env.terminal.ctty = int(notTTY.Fd())
		env.terminal.hasTTY = true

		_, err = env.launch(t, "true")
		if !errors.Is(err, launcher.ErrLaunch) || !errors.Is(err, unix.ENOTTY) {
			t.Errorf("expected launch error: got '%v', want '%v'", err, unix.ENOTTY)
		}

		if env.table.Len() != 0 {
			t.Errorf("expected job to be discarded: got '%d' jobs", env.table.Len())
		}

		if env.terminal.reclaimed != 0 {
			t.Errorf("expected terminal not to be reclaimed: got '%d'", env.terminal.reclaimed)
		}
	})

	t.Run("Test background job does not take the terminal", func(t *testing.T) {
		env := setupTestEnv(t)

		notTTY, err := os.Open(os.DevNull)
		if err != nil {
			t.Fatalf("failed to open %s: '%v'", os.DevNull, err)
		}
		defer notTTY.Close()

		env.terminal.ctty = int(notTTY.Fd())
		env.terminal.hasTTY = true

		if _, err := env.launch(t, "sleep 30 &"); err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}

		if len(env.terminal.given) != 0 {
			t.Errorf("expected terminal not to be given: got '%v'", env.terminal.given)
		}
	})

	t.Run("Test resume runs after the terminal is given", func(t *testing.T) {
		env := setupTestEnv(t)

		job, err := env.launch(t, "sleep 30 &")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		env.table.MoveToForeground(job)

		resumed := false
		err = env.launcher.Foreground(job, func() {
			resumed = true

			if len(env.terminal.given) != 1 || env.terminal.given[0] != job.Pgid() {
				t.Errorf("expected terminal given before resume: got '%v'", env.terminal.given)
			}

			unix.Kill(-job.Pgid(), unix.SIGKILL)
		})
		if err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}

		if !resumed {
			t.Error("expected resume to be called")
		}

		if env.terminal.reclaimed != 1 {
			t.Errorf("expected terminal reclaimed once: got '%d'", env.terminal.reclaimed)
		}
	})
}

func TestLaunchBackground(t *testing.T) {
	env := setupTestEnv(t)

	job, err := env.launch(t, "sleep 100 &")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if job.Placement() != jobmanager.PlacementBackground {
		t.Errorf("expected placement: got '%s', want '%s'", job.Placement(), jobmanager.PlacementBackground)
	}

	pid := job.Processes()[0].PID()

	wantNotice := "[1] " + strconv.Itoa(pid) + "\n"
	if env.out.String() != wantNotice {
		t.Errorf("expected notice: got '%s', want '%s'", env.out, wantNotice)
	}

	if len(env.terminal.given) != 0 {
		t.Errorf("expected terminal not to be given to background job")
	}

	if err := env.relay.Signal(pid, unix.SIGINT); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	env.relay.WaitWhile(func() bool { return env.table.ContainsJob(job.Num()) })

	if env.table.ContainsProcess(pid) {
		t.Errorf("expected pid to be untracked once terminated")
	}
}

func TestLaunchErrors(t *testing.T) {
	t.Run("Test empty pipeline", func(t *testing.T) {
		env := setupTestEnv(t)

		if _, err := env.launcher.Launch(&pipeline.Pipeline{}); !errors.Is(err, launcher.ErrEmptyPipeline) {
			t.Errorf("expected ErrEmptyPipeline: got '%v'", err)
		}

		if env.table.Len() != 0 {
			t.Errorf("expected no job to be created")
		}
	})

	t.Run("Test command not found", func(t *testing.T) {
		env := setupTestEnv(t)

		_, err := env.launch(t, "non-existent-program --flag")
		if !errors.Is(err, launcher.ErrCommandNotFound) {
			t.Errorf("expected ErrCommandNotFound: got '%v'", err)
		}

		if !strings.Contains(err.Error(), "non-existent-program: command not found") {
			t.Errorf("expected error to name the command: got '%v'", err)
		}

		if env.table.Len() != 0 {
			t.Errorf("expected job to be discarded")
		}
	})

	t.Run("Test missing input file", func(t *testing.T) {
		env := setupTestEnv(t)

		before := openDescriptors(t)

		_, err := env.launch(t, "cat < "+env.path("missing.txt"))
		if !errors.Is(err, launcher.ErrLaunch) {
			t.Errorf("expected ErrLaunch: got '%v'", err)
		}

		if env.table.Len() != 0 {
			t.Errorf("expected job to be discarded")
		}

		if after := openDescriptors(t); after != before {
			t.Errorf("expected open descriptors: got '%d', want '%d'", after, before)
		}
	})

	t.Run("Test stage not found in pipeline", func(t *testing.T) {
		env := setupTestEnv(t)

		out := env.path("out.txt")

		job, err := env.launch(t, "non-existent-program | echo still runs > "+out)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if len(job.Processes()) != 1 {
			t.Errorf("expected processes: got '%d', want '%d'", len(job.Processes()), 1)
		}

		if got := readFile(t, out); got != "still runs\n" {
			t.Errorf("expected output: got '%s'", got)
		}

		if got := readFile(t, env.stderr.Name()); !strings.Contains(got, "non-existent-program: command not found") {
			t.Errorf("expected error on stderr: got '%s'", got)
		}
	})
}
