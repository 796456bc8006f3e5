package broker

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"ikarusms/internal/protocol"
)

// result labels used in logs and metrics
const (
	resultOK            = "ok"
	resultDuplicate     = "duplicate"
	resultMalformed     = "malformed"
	resultUnknownMaster = "unknown_master"
	resultUnknownSlave  = "unknown_slave"
	resultMasterOffline = "master_offline"
)

// Dispatcher turns one request line into one response line. It never fails:
// every outcome, including malformed input, is a response.
type Dispatcher struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// metrics may be nil.
func NewDispatcher(registry *Registry, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, metrics: metrics, logger: logger}
}

func (d *Dispatcher) Handle(line string) string {
	start := time.Now()

	req, err := protocol.ParseRequest(line)
	if err != nil {
		d.logger.Warn("malformed_request", "error", err.Error())
		d.metrics.observe("", resultMalformed, time.Since(start))
		return protocol.ResponseMalformed
	}

	response, result := d.dispatch(req)
	d.metrics.observe(commandLabel(req.Command), result, time.Since(start))
	d.logger.Debug("request_handled",
		"command", req.Command,
		"identifier", req.Identifier,
		"result", result,
	)
	return response
}

// Reject answers a request that was refused before parsing, such as one over
// the size limit. It is counted like any other malformed request.
func (d *Dispatcher) Reject() string {
	d.metrics.observe("", resultMalformed, 0)
	return protocol.ResponseMalformed
}

// commandLabel keeps client-chosen tokens out of metric labels.
func commandLabel(command string) string {
	switch command {
	case protocol.CmdLoginMaster, protocol.CmdLogoutMaster,
		protocol.CmdLoginSlave, protocol.CmdLogoutSlave,
		protocol.CmdSyncMaster, protocol.CmdSyncSlave:
		return command
	}
	return "unknown"
}

func (d *Dispatcher) dispatch(req protocol.Request) (string, string) {
	switch req.Command {
	case protocol.CmdLoginMaster:
		if !d.registry.LoginMaster(req.Identifier) {
			return protocol.ResponseMasterExists, resultDuplicate
		}
		return protocol.ResponseOK, resultOK

	case protocol.CmdLogoutMaster:
		d.registry.LogoutMaster(req.Identifier)
		return protocol.ResponseOK, resultOK

	case protocol.CmdLoginSlave:
		if !d.registry.LoginSlave(req.Identifier, d.requiredMaster(req)) {
			return protocol.ResponseSlaveExists, resultDuplicate
		}
		return protocol.ResponseOK, resultOK

	case protocol.CmdLogoutSlave:
		d.registry.LogoutSlave(req.Identifier)
		return protocol.ResponseOK, resultOK

	case protocol.CmdSyncMaster:
		snapshot, err := d.registry.SyncMaster(req.Identifier, d.statePayload(req))
		if err != nil {
			return d.code(err)
		}
		return d.encodeState(snapshot), resultOK

	case protocol.CmdSyncSlave:
		snapshot, err := d.registry.SyncSlave(req.Identifier, d.statePayload(req))
		if err != nil {
			return d.code(err)
		}
		return d.encodeState(snapshot), resultOK
	}

	d.logger.Warn("unknown_command", "command", req.Command, "identifier", req.Identifier)
	return protocol.ResponseMalformed, resultMalformed
}

// requiredMaster decodes the serialized master id of a slave login. Anything
// that is not a string leaves the slave without a master, so its syncs are
// answered like an unknown slave's.
func (d *Dispatcher) requiredMaster(req protocol.Request) string {
	if !req.HasPayload {
		return ""
	}
	v, err := protocol.Unmarshal(req.Payload)
	if err != nil {
		d.logger.Warn("invalid_payload", "command", req.Command, "identifier", req.Identifier, "error", err.Error())
		return ""
	}
	id, _ := v.(string)
	return id
}

// statePayload decodes a sync payload; absent or undecodable payloads count
// as no data.
func (d *Dispatcher) statePayload(req protocol.Request) map[string]any {
	if !req.HasPayload {
		return nil
	}
	state, err := protocol.UnmarshalMapping(req.Payload)
	if err != nil {
		d.logger.Warn("invalid_payload", "command", req.Command, "identifier", req.Identifier, "error", err.Error())
		return nil
	}
	return state
}

func (d *Dispatcher) encodeState(state map[string]any) string {
	s, err := protocol.Marshal(state)
	if err != nil {
		d.logger.Error("state_encoding_failed", "error", err.Error())
		return "null"
	}
	return s
}

func (d *Dispatcher) code(err error) (string, string) {
	switch {
	case errors.Is(err, ErrMasterOffline):
		return strconv.Itoa(protocol.CodeMasterOffline), resultMasterOffline
	case errors.Is(err, ErrSlaveUnknown):
		return strconv.Itoa(protocol.CodeSlaveUnknown), resultUnknownSlave
	default:
		return strconv.Itoa(protocol.CodeSlaveUnknown), resultUnknownMaster
	}
}
