// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pyserver implements remote.Session on top of a Python server process.
//
// The host listens on a loopback TCP port and starts the interpreter with an embedded server script,
// which connects back and greets with its process id. Messages in both directions are frames: a 4-byte
// big-endian length followed by a UTF-8 JSON document, or by raw bytes for CSV and Arrow payloads.
package pyserver

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/rapidsml/remote"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//go:embed server.py
var serverScript []byte

// closeGracePeriod is how long Close waits for the server to exit after a shutdown before killing it.
const closeGracePeriod = 5 * time.Second

// Session is a remote.Session backed by a Python server process.
type Session struct {
	handle remote.Handle
	opts   Options

	cmd        *exec.Cmd
	output     *bytes.Buffer // Process stdout/stderr, only read after exit.
	exited     chan struct{}
	scriptPath string
	pid        int

	mu     sync.Mutex
	conn   net.Conn
	broken error
	closed bool
}

var _ remote.Session = (*Session)(nil)

// Start validates the environment of handle, starts a server and waits for it to connect back.
//
// Failures to validate or start return a *remote.EnvironmentError with a diagnostics report.
func Start(handle remote.Handle, opts Options) (*Session, error) {
	ctx := context.Background()
	if opts.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.StartTimeout)
		defer cancel()
	}
	report := CheckEnvironment(ctx, handle, opts)
	if !report.OK() {
		return nil, &remote.EnvironmentError{Handle: handle, Report: report.String(), Cause: report.Err}
	}
	klog.V(1).Infof("pyserver: environment %s ok (python %s)", handle, report.PythonVersion)

	s, err := launch(ctx, handle, opts)
	if err != nil {
		report.Err = err
		if s != nil && s.output != nil {
			report.Output = s.output.String()
		}
		return nil, &remote.EnvironmentError{Handle: handle, Report: report.String(), Cause: err}
	}
	return s, nil
}

// launch starts the server process and accepts its connection. On error, the returned session (if not nil)
// only carries the captured output of the process, which has been killed.
func launch(ctx context.Context, handle remote.Handle, opts Options) (*Session, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "listening on loopback for the server connection")
	}
	defer func() { _ = listener.Close() }()
	port := listener.Addr().(*net.TCPAddr).Port

	scriptFile, err := os.CreateTemp("", "rapidsml_server_*.py")
	if err != nil {
		return nil, errors.Wrap(err, "creating server script")
	}
	scriptPath := scriptFile.Name()
	_, err = scriptFile.Write(serverScript)
	if closeErr := scriptFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(scriptPath)
		return nil, errors.Wrapf(err, "writing server script to %q", scriptPath)
	}

	command := opts.command(handle)
	args := []string{scriptPath, strconv.Itoa(port)}
	if opts.Debug {
		args = append(args, "debug")
	}
	s := &Session{
		handle:     handle,
		opts:       opts,
		cmd:        exec.Command(command, args...),
		output:     &bytes.Buffer{},
		exited:     make(chan struct{}),
		scriptPath: scriptPath,
	}
	s.cmd.Env = opts.environ()
	s.cmd.Stdout = s.output
	s.cmd.Stderr = s.output
	if err = s.cmd.Start(); err != nil {
		_ = os.Remove(scriptPath)
		return s, errors.Wrapf(err, "starting %q", command)
	}
	go func() {
		_ = s.cmd.Wait()
		close(s.exited)
	}()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept()
		accepted <- acceptResult{conn, err}
	}()
	select {
	case res := <-accepted:
		if res.err != nil {
			err = errors.Wrap(res.err, "accepting server connection")
		} else {
			s.conn = res.conn
		}
	case <-s.exited:
		err = errors.Errorf("server process exited before connecting (%s)", s.cmd.ProcessState)
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "waiting for the server to connect")
	}
	if err == nil {
		err = s.readGreeting(opts.StartTimeout)
	}
	if err != nil {
		s.kill()
		return s, err
	}
	klog.V(1).Infof("pyserver: server for %s started, pid %d, port %d", handle, s.pid, port)
	return s, nil
}

// newSession wraps an established connection, after the greeting. Used by tests.
func newSession(handle remote.Handle, conn net.Conn, opts Options) *Session {
	return &Session{handle: handle, opts: opts, conn: conn}
}

func (s *Session) readGreeting(timeout time.Duration) error {
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}
	resp, err := readResponse(s.conn)
	if err != nil {
		return errors.WithMessage(err, "reading server greeting")
	}
	if resp.Response != responsePID {
		return errors.Errorf("unexpected server greeting %q", resp.Response)
	}
	s.pid = resp.PID
	return nil
}

// kill terminates the process and removes the server script, for a session that failed to start.
func (s *Session) kill() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
	if s.scriptPath != "" {
		_ = os.Remove(s.scriptPath)
	}
}

// Handle implements remote.Session.
func (s *Session) Handle() remote.Handle { return s.handle }

// PID returns the process id reported by the server.
func (s *Session) PID() int { return s.pid }

// roundTrip sends req, followed by payload if not nil, and reads the response.
// It must be called with s.mu held.
//
// I/O errors and deadlines break the session and are returned wrapping remote.ErrTransport. An error
// response from the server is returned as a plain error.
func (s *Session) roundTrip(req *request, payload []byte) (*response, error) {
	if s.closed {
		return nil, remote.TransportErrorf(nil, "session %s is closed", s.handle)
	}
	if s.broken != nil {
		return nil, remote.TransportErrorf(s.broken, "session %s is broken", s.handle)
	}
	req.Debug = s.opts.Debug
	if s.opts.ScriptTimeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.opts.ScriptTimeout))
		defer func() { _ = s.conn.SetDeadline(time.Time{}) }()
	}
	start := time.Now()
	err := writeJSON(s.conn, req)
	if err == nil && payload != nil {
		klog.V(2).Infof("pyserver: %s sending %s payload", req.Command, humanize.Bytes(uint64(len(payload))))
		err = writeFrame(s.conn, payload)
	}
	var resp *response
	if err == nil {
		resp, err = readResponse(s.conn)
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			err = errors.WithMessagef(err, "command %q exceeded the script timeout of %s", req.Command, s.opts.ScriptTimeout)
		}
		s.broken = err
		klog.Errorf("pyserver: session %s broken: %+v", s.handle, err)
		return nil, remote.TransportErrorf(err, "command %q on %s", req.Command, s.handle)
	}
	klog.V(2).Infof("pyserver: %s took %s", req.Command, time.Since(start))
	if resp.Response == responseError {
		return nil, errors.Errorf("remote %s failed: %s", req.Command, resp.ErrorMessage)
	}
	if resp.Response != responseOK {
		return nil, errors.Errorf("remote %s: unexpected response %q", req.Command, resp.Response)
	}
	return resp, nil
}

func (s *Session) call(req *request, payload []byte) (*response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundTrip(req, payload)
}

// ExecuteScript implements remote.Session.
func (s *Session) ExecuteScript(script string) (stdout, stderr string, err error) {
	if s.opts.Debug {
		klog.Infof("pyserver: executing on %s:\n%s", s.handle, script)
	}
	resp, err := s.call(&request{Command: cmdExecuteScript, Script: script}, nil)
	if err != nil {
		return "", "", err
	}
	return resp.ScriptOut, resp.ScriptError, nil
}

// VariableExists implements remote.Session.
func (s *Session) VariableExists(name string) (bool, error) {
	resp, err := s.call(&request{Command: cmdVariableIsSet, VariableName: name}, nil)
	if err != nil {
		return false, err
	}
	return resp.VariableExists, nil
}

// VariableAsText implements remote.Session.
func (s *Session) VariableAsText(name string) (string, error) {
	resp, err := s.call(&request{Command: cmdGetVariableValue, VariableName: name, VariableEncoding: encodingString}, nil)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(resp.VariableValue, &text); err != nil {
		return "", errors.Wrapf(err, "decoding text value of %q", name)
	}
	return text, nil
}

// VariableAsJSON implements remote.Session.
func (s *Session) VariableAsJSON(name string) (any, error) {
	resp, err := s.call(&request{Command: cmdGetVariableValue, VariableName: name, VariableEncoding: encodingJSON}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.VariableValue) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(resp.VariableValue, &value); err != nil {
		return nil, errors.Wrapf(err, "decoding JSON value of %q", name)
	}
	return value, nil
}

// PutCSV implements remote.Session.
func (s *Session) PutCSV(header remote.FrameHeader, csv []byte) error {
	req := &request{
		Command:      cmdPutInstances,
		Header:       &frameHeader{FrameName: header.Name, DateAtts: header.DateColumns},
		NumInstances: header.NumRows,
	}
	var payload []byte
	if header.NumRows > 0 {
		payload = csv
	}
	_, err := s.call(req, payload)
	return err
}

// PutArrow implements remote.Session.
func (s *Session) PutArrow(frame string, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.call(&request{Command: cmdIPCInstances, Header: &frameHeader{FrameName: frame}}, payload)
	return err
}

// OpenShared implements remote.Session.
func (s *Session) OpenShared(buf remote.SharedBuffer) error {
	req := &request{
		Command:    cmdShareInstances,
		Header:     &frameHeader{FrameName: buf.Frame, Columns: buf.Columns},
		DataHandle: buf.IPCHandle,
		DataType:   buf.DType,
		DataShape:  buf.Shape[:],
		Device:     buf.Device,
	}
	_, err := s.call(req, nil)
	return err
}

// CloseShared implements remote.Session.
func (s *Session) CloseShared(frame string) error {
	_, err := s.call(&request{Command: cmdCloseSharedInstances, Header: &frameHeader{FrameName: frame}}, nil)
	return err
}

// DebugBuffer returns and clears what the server printed outside of scripts.
func (s *Session) DebugBuffer() (stdout, stderr string, err error) {
	resp, err := s.call(&request{Command: cmdGetDebugBuffer}, nil)
	if err != nil {
		return "", "", err
	}
	return resp.StdOut, resp.StdErr, nil
}

// Close implements remote.Session: it asks the server to shut down, and kills it if it doesn't exit
// within a grace period.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.broken == nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(closeGracePeriod))
		if err := writeJSON(s.conn, &request{Command: cmdShutdown}); err != nil {
			klog.Warningf("pyserver: failed to send shutdown to %s: %v", s.handle, err)
		}
	}
	err := s.conn.Close()
	if s.cmd != nil {
		select {
		case <-s.exited:
		case <-time.After(closeGracePeriod):
			klog.Warningf("pyserver: server %s (pid %d) didn't exit, killing it", s.handle, s.pid)
			_ = s.cmd.Process.Kill()
			<-s.exited
		}
		if s.opts.Debug && s.output.Len() > 0 {
			klog.Infof("pyserver: output of server %s:\n%s", s.handle, s.output.String())
		}
	}
	if s.scriptPath != "" {
		if rmErr := os.Remove(s.scriptPath); rmErr != nil && !os.IsNotExist(rmErr) {
			klog.Warningf("pyserver: failed to remove %q: %v", s.scriptPath, rmErr)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "closing connection to %s", s.handle)
	}
	return nil
}
