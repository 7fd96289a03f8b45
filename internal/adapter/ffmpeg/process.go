package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	diagnosticLines = 20
	progressBuffer  = 32
)

// process is a started ffmpeg command. Stdout carries the -progress
// key=value stream; stderr is kept as a short diagnostic tail.
type process struct {
	cmd      *exec.Cmd
	progress chan float64
	done     chan struct{}
	tail     *lineTail
	log      zerolog.Logger

	mu  sync.Mutex
	err error
}

func start(ctx context.Context, bin string, args []string, log zerolog.Logger) (*process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	log.Debug().Str("bin", bin).Strs("args", args).Msg("starting ffmpeg")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	p := &process{
		cmd:      cmd,
		progress: make(chan float64, progressBuffer),
		done:     make(chan struct{}),
		tail:     newLineTail(diagnosticLines),
		log:      log,
	}

	var g errgroup.Group
	g.Go(func() error { return p.readProgress(stdout) })
	g.Go(func() error { return p.tail.consume(stderr) })

	go func() {
		drainErr := g.Wait()
		waitErr := cmd.Wait()
		p.mu.Lock()
		switch {
		case waitErr != nil:
			p.err = fmt.Errorf("ffmpeg exited: %w", waitErr)
		case drainErr != nil:
			p.err = fmt.Errorf("read ffmpeg output: %w", drainErr)
		}
		p.mu.Unlock()
		close(p.progress)
		close(p.done)
	}()

	return p, nil
}

func (p *process) Progress() <-chan float64 { return p.progress }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *process) Diagnostics() string {
	return p.tail.String()
}

func (p *process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd.Process == nil {
		return nil
	}
	p.log.Debug().Int("pid", p.cmd.Process.Pid).Msg("killing ffmpeg")
	return p.cmd.Process.Kill()
}

// readProgress forwards every out_time token. A slow consumer loses
// intermediate values rather than stalling ffmpeg.
func (p *process) readProgress(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		seconds, ok := parseProgressLine(scanner.Text())
		if !ok {
			continue
		}
		select {
		case p.progress <- seconds:
		default:
		}
	}
	return scanner.Err()
}

// parseProgressLine extracts encoded output time in seconds from one line of
// the -progress stream. out_time_ms is in microseconds despite its name.
func parseProgressLine(line string) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return float64(us) / 1e6, true
	case "out_time":
		return parseClock(value)
	}
	return 0, false
}

// parseClock converts HH:MM:SS.micro into seconds.
func parseClock(v string) (float64, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + s, true
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.add(scanner.Text())
	}
	return scanner.Err()
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
