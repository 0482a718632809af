// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/charmbracelet/log"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/changedetection/internal/logger"
)

// Sentence talkers of the tracker link. Commands go out as $PETC, the tracker
// answers with $PETR replies and streams file contents as $PETD chunks.
const (
	commandTalker = "PETC"
	typeReply     = "ETR"
	typeData      = "ETD"

	statusOK    = "OK"
	statusError = "ERR"
	statusAbort = "ABORT"
)

// Reply is a parsed $PETR sentence.
type Reply struct {
	nmea.BaseSentence
	Command string
	Status  string
	Detail  string
}

// Chunk is a parsed $PETD file transfer sentence.
type Chunk struct {
	nmea.BaseSentence
	Seq     int64
	Payload string
}

var sentenceParser = nmea.SentenceParser{
	CustomParsers: map[string]nmea.ParserFunc{
		typeReply: func(s nmea.BaseSentence) (nmea.Sentence, error) {
			p := nmea.NewParser(s)
			return Reply{
				BaseSentence: s,
				Command:      p.String(0, "command"),
				Status:       p.String(1, "status"),
				Detail:       p.String(2, "detail"),
			}, p.Err()
		},
		typeData: func(s nmea.BaseSentence) (nmea.Sentence, error) {
			p := nmea.NewParser(s)
			return Chunk{
				BaseSentence: s,
				Seq:          p.Int64(0, "seq"),
				Payload:      p.String(1, "payload"),
			}, p.Err()
		},
	},
}

var fieldReplacer = strings.NewReplacer(",", ";", "*", "+", "$", " ", "\r", " ", "\n", " ")

// EncodeCommand frames a command sentence with its checksum and line terminator.
func EncodeCommand(cmd string, args ...string) string {
	fields := make([]string, 0, len(args)+2)
	fields = append(fields, commandTalker, cmd)
	for _, a := range args {
		fields = append(fields, fieldReplacer.Replace(a))
	}
	body := strings.Join(fields, ",")
	return "$" + body + "*" + nmea.Checksum(body) + "\r\n"
}

// SerialOptions configures a serial link.
type SerialOptions struct {
	PortName string
	BaudRate uint
	Timeout  time.Duration // per command reply
	Logger   *log.Logger
}

// Link is a Device speaking the sentence protocol over a byte stream.
type Link struct {
	open    func() (io.ReadWriteCloser, error)
	timeout time.Duration
	log     *log.Logger

	mu    sync.Mutex
	port  io.ReadWriteCloser
	lines chan string
	done  chan struct{}
	quit  chan struct{}
	rerr  error
}

// NewSerialLink returns a Link that opens the serial port on Connect.
func NewSerialLink(opts SerialOptions) *Link {
	serialOpts := serial.OpenOptions{
		PortName:        opts.PortName,
		BaudRate:        opts.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	return newLink(func() (io.ReadWriteCloser, error) {
		return serial.Open(serialOpts)
	}, opts.Timeout, opts.Logger)
}

// NewLink returns a Link over an already open stream.
func NewLink(rwc io.ReadWriteCloser, timeout time.Duration, l *log.Logger) *Link {
	return newLink(func() (io.ReadWriteCloser, error) { return rwc, nil }, timeout, l)
}

func newLink(open func() (io.ReadWriteCloser, error), timeout time.Duration, l *log.Logger) *Link {
	if l == nil {
		l = logger.New("tracker-link")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Link{open: open, timeout: timeout, log: l}
}

// Connect opens the stream, starts the reader and pings the tracker.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.port != nil {
		l.mu.Unlock()
		return errors.New("link already connected")
	}
	port, err := l.open()
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("open port: %w", err)
	}
	l.port = port
	l.lines = make(chan string, 64)
	l.done = make(chan struct{})
	l.quit = make(chan struct{})
	l.mu.Unlock()

	go l.readLoop(port, l.lines, l.done, l.quit)

	if _, err := l.command(ctx, l.timeout, "PING"); err != nil {
		l.mu.Lock()
		l.port = nil
		close(l.quit)
		l.mu.Unlock()
		_ = port.Close()
		return err
	}
	return nil
}

func (l *Link) readLoop(r io.Reader, lines chan<- string, done chan<- struct{}, quit <-chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		select {
		case lines <- line:
		case <-quit:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	l.mu.Lock()
	l.rerr = err
	l.mu.Unlock()
}

// next returns the next valid sentence. Corrupt lines are logged and skipped.
func (l *Link) next(ctx context.Context, deadline <-chan time.Time) (nmea.Sentence, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, errors.New("timeout waiting for tracker reply")
		case <-l.done:
			l.mu.Lock()
			err := l.rerr
			l.mu.Unlock()
			return nil, fmt.Errorf("link closed: %w", err)
		case line := <-l.lines:
			s, err := sentenceParser.Parse(line)
			if err != nil {
				l.log.Warn("dropping malformed sentence", "line", line, "err", err)
				continue
			}
			return s, nil
		}
	}
}

// command sends cmd and waits for its reply. A zero timeout waits until ctx ends.
func (l *Link) command(ctx context.Context, timeout time.Duration, cmd string, args ...string) (Reply, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return Reply{}, errors.New("link not connected")
	}
	if _, err := io.WriteString(port, EncodeCommand(cmd, args...)); err != nil {
		return Reply{}, fmt.Errorf("write %s: %w", cmd, err)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		s, err := l.next(ctx, deadline)
		if err != nil {
			return Reply{}, fmt.Errorf("%s: %w", cmd, err)
		}
		r, ok := s.(Reply)
		if !ok || r.Command != cmd {
			l.log.Debug("ignoring unsolicited sentence", "sentence", s.String())
			continue
		}
		switch r.Status {
		case statusOK:
			return r, nil
		case statusAbort:
			return r, fmt.Errorf("%s: %w: %s", cmd, ErrCalibrationAborted, r.Detail)
		default:
			return r, fmt.Errorf("%s rejected: %s", cmd, r.Detail)
		}
	}
}

func (l *Link) simple(cmd string, args ...string) error {
	_, err := l.command(context.Background(), l.timeout, cmd, args...)
	return err
}

// Setup selects the tracked eyes.
func (l *Link) Setup(eyes string) error { return l.simple("SETUP", eyes) }

// OpenFile creates the device-side recording file.
func (l *Link) OpenFile(name string) error { return l.simple("OPEN", name) }

// Calibrate runs the device calibration routine. It has no reply deadline.
func (l *Link) Calibrate(ctx context.Context) error {
	_, err := l.command(ctx, 0, "CAL")
	return err
}

// Message writes a marker into the recording.
func (l *Link) Message(text string) error { return l.simple("MSG", text) }

// Status sets the tracker host status line.
func (l *Link) Status(text string) error { return l.simple("STATUS", text) }

func (l *Link) StartRecording() error { return l.simple("START") }
func (l *Link) StopRecording() error  { return l.simple("STOP") }
func (l *Link) SetOffline() error     { return l.simple("OFFLINE") }
func (l *Link) CloseFile() error      { return l.simple("CLOSE") }

// ReceiveFile streams a device file into w and checks the announced byte count.
func (l *Link) ReceiveFile(ctx context.Context, name string, w io.Writer) (int64, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return 0, errors.New("link not connected")
	}
	if _, err := io.WriteString(port, EncodeCommand("XFER", name)); err != nil {
		return 0, fmt.Errorf("write XFER: %w", err)
	}

	var (
		total   int64
		nextSeq int64
	)
	for {
		timer := time.NewTimer(l.timeout)
		s, err := l.next(ctx, timer.C)
		timer.Stop()
		if err != nil {
			return total, fmt.Errorf("XFER: %w", err)
		}
		switch m := s.(type) {
		case Chunk:
			if m.Seq != nextSeq {
				return total, fmt.Errorf("XFER: chunk %d out of order, want %d", m.Seq, nextSeq)
			}
			nextSeq++
			data, err := base64.StdEncoding.DecodeString(m.Payload)
			if err != nil {
				return total, fmt.Errorf("XFER: chunk %d: %w", m.Seq, err)
			}
			n, err := w.Write(data)
			total += int64(n)
			if err != nil {
				return total, fmt.Errorf("XFER: write: %w", err)
			}
		case Reply:
			if m.Command != "XFER" {
				continue
			}
			if m.Status != statusOK {
				return total, fmt.Errorf("XFER rejected: %s", m.Detail)
			}
			want, err := strconv.ParseInt(m.Detail, 10, 64)
			if err != nil {
				return total, fmt.Errorf("XFER: bad byte count %q", m.Detail)
			}
			if want != total {
				return total, fmt.Errorf("XFER: received %d bytes, tracker sent %d", total, want)
			}
			return total, nil
		}
	}
}

// Disconnect says goodbye and closes the stream. The goodbye is best effort.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return nil
	}
	if err := l.simple("BYE"); err != nil {
		l.log.Warn("tracker did not acknowledge disconnect", "err", err)
	}
	l.mu.Lock()
	l.port = nil
	close(l.quit)
	l.mu.Unlock()
	return port.Close()
}
