// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pyserver

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Commands understood by the server.
const (
	cmdPutInstances         = "put_instances"
	cmdIPCInstances         = "ipc_instances"
	cmdShareInstances       = "share_instances"
	cmdCloseSharedInstances = "close_shared_instances"
	cmdExecuteScript        = "execute_script"
	cmdVariableIsSet        = "variable_is_set"
	cmdGetVariableValue     = "get_variable_value"
	cmdGetDebugBuffer       = "get_debug_buffer"
	cmdShutdown             = "shutdown"
)

// Response kinds.
const (
	responseOK    = "ok"
	responseError = "error"
	responsePID   = "pid_response"
)

// Variable encodings for cmdGetVariableValue.
const (
	encodingJSON   = "json"
	encodingString = "string"
)

// MaxFrameSize is the largest frame accepted from the server.
const MaxFrameSize = math.MaxUint32

type frameHeader struct {
	FrameName string   `json:"frame_name"`
	DateAtts  []string `json:"date_atts,omitempty"`
	Columns   []string `json:"columns,omitempty"`
}

type request struct {
	Command          string       `json:"command"`
	Header           *frameHeader `json:"header,omitempty"`
	NumInstances     int          `json:"num_instances,omitempty"`
	Script           string       `json:"script,omitempty"`
	VariableName     string       `json:"variable_name,omitempty"`
	VariableEncoding string       `json:"variable_encoding,omitempty"`
	DataHandle       string       `json:"data_handle,omitempty"`
	DataType         string       `json:"data_type,omitempty"`
	DataShape        []int        `json:"data_shape,omitempty"`
	Device           int          `json:"device,omitempty"`
	Debug            bool         `json:"debug,omitempty"`
}

type response struct {
	Response       string          `json:"response"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	PID            int             `json:"pid,omitempty"`
	ScriptOut      string          `json:"script_out,omitempty"`
	ScriptError    string          `json:"script_error,omitempty"`
	VariableExists bool            `json:"variable_exists,omitempty"`
	VariableValue  json.RawMessage `json:"variable_value,omitempty"`
	StdOut         string          `json:"std_out,omitempty"`
	StdErr         string          `json:"std_err,omitempty"`
}

// writeFrame writes a 4-byte big-endian length followed by data.
func writeFrame(w io.Writer, data []byte) error {
	if uint64(len(data)) > MaxFrameSize {
		return errors.Errorf("frame of %d bytes is too large", len(data))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return errors.Wrap(err, "writing frame length")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "writing frame of %d bytes", len(data))
	}
	return nil
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, errors.Wrap(err, "reading frame length")
	}
	size := binary.BigEndian.Uint32(prefix[:])
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrapf(err, "reading frame of %d bytes", size)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding message")
	}
	return writeFrame(w, data)
}

func readResponse(r io.Reader) (*response, error) {
	data, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	resp := &response{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, errors.Wrapf(err, "decoding response %q", truncate(string(data), 200))
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
