package watch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ExportError reports an abnormal end of an export process run: a
// non-zero exit status, or any output on standard error.
type ExportError struct {
	ExitCode int
	Command  []string
	Stderr   string
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export process %q exited with code %d: %s",
		strings.Join(e.Command, " "), e.ExitCode, e.Stderr)
}

// LineSource produces one restartable stream of raw event records per
// Start call. Implemented by ExportDriver (ibcmd subprocess) and
// TailSource (pre-exported file).
type LineSource interface {
	Start(ctx context.Context, checkpoint string) (*Stream, error)
}

// Stream is one run of a line source. Lines is closed when the run
// ends; Wait must be called afterwards and reports how it ended.
type Stream struct {
	Lines <-chan string
	wait  func() error
}

// Wait blocks until the run has fully terminated. It returns nil on a
// clean end of stream and *ExportError on subprocess failure.
func (s *Stream) Wait() error {
	return s.wait()
}

// ExportDriver launches and supervises the external export subprocess,
// exposing its standard output as a stream of decoded text lines.
type ExportDriver struct {
	Exec       string
	LogDir     string
	Format     string
	FollowMsec int

	logger  hclog.Logger
	decoder *encoding.Decoder
}

func NewExportDriver(dc DispatchContext, logger hclog.Logger) *ExportDriver {
	return &ExportDriver{
		Exec:       dc.ExecPath,
		LogDir:     dc.LogDir,
		Format:     dc.Format,
		FollowMsec: dc.FollowMsec,
		logger:     logger,
		decoder:    decoderFor(runtime.GOOS),
	}
}

// decoderFor selects the output decoding once per process launch. The
// export tool writes CP866 on Windows and UTF-8 everywhere else; nil
// means pass-through.
func decoderFor(goos string) *encoding.Decoder {
	if goos == "windows" {
		return charmap.CodePage866.NewDecoder()
	}
	return nil
}

// Args builds the subprocess argument list. Order matters: the export
// tool is positional-argument sensitive, and --from is present only
// when resuming from a non-empty checkpoint.
func (d *ExportDriver) Args(checkpoint string) []string {
	args := []string{
		"eventlog", "export",
		"--format", d.Format,
		"--follow", strconv.Itoa(d.FollowMsec),
		"--skip-root",
	}

	if checkpoint != "" {
		args = append(args, "--from", checkpoint)
	}

	return append(args, d.LogDir)
}

// Start launches the export subprocess with stdout and stderr piped and
// stdin held open. Lines arrive on the returned stream until the
// process exits; in follow mode that is effectively forever.
func (d *ExportDriver) Start(ctx context.Context, checkpoint string) (*Stream, error) {
	args := d.Args(checkpoint)
	lctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(lctx, d.Exec, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting %s: %w", d.Exec, err)
	}

	d.logger.Info("export process started", "exec", d.Exec, "args", args)

	lines := make(chan string)
	var stderrBuf bytes.Buffer
	var readErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(lines)

		// Records have no upper size bound, so read without a line
		// length cap. A read failure kills the process; otherwise it
		// would block forever on a full stdout pipe.
		reader := bufio.NewReaderSize(stdout, 64*1024)
		for {
			chunk, err := reader.ReadString('\n')
			if err == nil {
				select {
				case lines <- d.decode([]byte(strings.TrimRight(chunk, "\r\n"))):
				case <-lctx.Done():
					return
				}
				continue
			}
			if err == io.EOF {
				if chunk != "" {
					select {
					case lines <- d.decode([]byte(chunk)):
					case <-lctx.Done():
					}
				}
				return
			}
			readErr = err
			cancel()
			return
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderrBuf, stderr)
	}()

	command := append([]string{d.Exec}, args...)
	wait := func() error {
		wg.Wait()
		_ = stdin.Close()

		waitErr := cmd.Wait()
		cancel()
		errOutput := strings.TrimSpace(stderrBuf.String())

		if waitErr == nil && errOutput == "" && readErr == nil {
			return nil
		}

		if readErr != nil && errOutput == "" {
			errOutput = fmt.Sprintf("reading export output: %v", readErr)
		}

		code := cmd.ProcessState.ExitCode()
		if code == 0 {
			// Clean exit status, but the tool complained on stderr.
			code = 1
		}
		return &ExportError{ExitCode: code, Command: command, Stderr: errOutput}
	}

	return &Stream{Lines: lines, wait: wait}, nil
}

func (d *ExportDriver) decode(raw []byte) string {
	if d.decoder == nil {
		return string(raw)
	}
	decoded, err := d.decoder.Bytes(raw)
	if err != nil {
		d.logger.Warn("line decoding failed, passing raw bytes through", "error", err)
		return string(raw)
	}
	return string(decoded)
}
