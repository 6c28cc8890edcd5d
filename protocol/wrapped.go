package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WrappedCommand binds a Command to a correlation id so a caller can pair it
// with its eventual Response.
type WrappedCommand struct {
	CorrelationID uuid.UUID
	Cmd           Command
}

// WrappedResponse binds a Response to the correlation id of the Command it
// answers.
type WrappedResponse struct {
	CorrelationID uuid.UUID
	Res           Response
}

// Wrap allocates a fresh correlation id and binds cmd to it.
func Wrap(cmd Command) WrappedCommand {
	return WrappedCommand{CorrelationID: uuid.New(), Cmd: cmd}
}

// WrapResponse binds res to an existing correlation id, normally copied
// verbatim from the WrappedCommand being answered.
func WrapResponse(res Response, correlationID uuid.UUID) WrappedResponse {
	return WrappedResponse{CorrelationID: correlationID, Res: res}
}

type wireEnvelope struct {
	UUID    string          `json:"uuid"`
	Cmd     json.RawMessage `json:"cmd,omitempty"`
	Res     json.RawMessage `json:"res,omitempty"`
}

// EncodeWrappedCommand renders the envelope {"uuid":"...","cmd":{...}}.
func EncodeWrappedCommand(w WrappedCommand) (string, error) {
	cmdStr, err := EncodeCommand(w.Cmd)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(wireEnvelope{UUID: w.CorrelationID.String(), Cmd: json.RawMessage(cmdStr)})
	if err != nil {
		return "", fmt.Errorf("protocol: encode wrapped command: %w", err)
	}
	return string(out), nil
}

// DecodeWrappedCommand parses the envelope form back into a WrappedCommand.
func DecodeWrappedCommand(raw string) (WrappedCommand, error) {
	var env wireEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return WrappedCommand{}, &ParseError{Raw: raw, Reason: err.Error()}
	}
	id, err := uuid.Parse(env.UUID)
	if err != nil {
		return WrappedCommand{}, &ParseError{Raw: raw, Reason: "bad uuid: " + err.Error()}
	}
	if len(env.Cmd) == 0 {
		return WrappedCommand{}, &ParseError{Raw: raw, Reason: "missing cmd field"}
	}
	cmd, err := DecodeCommand(string(env.Cmd))
	if err != nil {
		return WrappedCommand{}, err
	}
	return WrappedCommand{CorrelationID: id, Cmd: cmd}, nil
}

// EncodeWrappedResponse renders the envelope {"uuid":"...","res":{...}}.
func EncodeWrappedResponse(w WrappedResponse) (string, error) {
	resStr, err := EncodeResponse(w.Res)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(wireEnvelope{UUID: w.CorrelationID.String(), Res: json.RawMessage(resStr)})
	if err != nil {
		return "", fmt.Errorf("protocol: encode wrapped response: %w", err)
	}
	return string(out), nil
}

// DecodeWrappedResponse parses the envelope form back into a WrappedResponse.
func DecodeWrappedResponse(raw string) (WrappedResponse, error) {
	var env wireEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return WrappedResponse{}, &ParseError{Raw: raw, Reason: err.Error()}
	}
	id, err := uuid.Parse(env.UUID)
	if err != nil {
		return WrappedResponse{}, &ParseError{Raw: raw, Reason: "bad uuid: " + err.Error()}
	}
	if len(env.Res) == 0 {
		return WrappedResponse{}, &ParseError{Raw: raw, Reason: "missing res field"}
	}
	res, err := DecodeResponse(string(env.Res))
	if err != nil {
		return WrappedResponse{}, err
	}
	return WrappedResponse{CorrelationID: id, Res: res}, nil
}
