// Package syncclient connects a control node to the broker: it discovers the
// broker, logs in as master or slave, exchanges the tracked changes once per
// cycle and recovers the connection through a recovery alert when the broker
// is lost.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode"

	"ikarusms/internal/engine"
	"ikarusms/internal/microservices/discovery"
	"ikarusms/internal/protocol"
	"ikarusms/internal/tracker"
)

// Alert raised when the broker can no longer be reached.
const (
	LostBrokerCode    = 917
	LostBrokerMessage = "Master lost"
)

var ErrInvalidIdentifier = errors.New("identifier must not be empty or contain whitespace")

type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

type State int32

const (
	StateDisconnected State = iota
	StateDiscovering
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Discoverer resolves the broker endpoint.
type Discoverer func(ctx context.Context) (string, error)

// Node is one master or slave taking part in synchronization. It implements
// engine.Plugin.
type Node struct {
	id             string
	requiredMaster string // slaves only
	role           Role

	tracker  *tracker.Tracker
	notifier engine.Notifier
	filter   tracker.Filter

	discover Discoverer
	dial     Dialer

	// nil while disconnected
	transport Transport
	state     atomic.Int32
	lastLogin string
	logger    *slog.Logger
}

type Option func(*Node)

// WithSharedDomains limits exported values to domains matching the patterns.
func WithSharedDomains(patterns ...string) Option {
	return func(n *Node) { n.filter.Domains = patterns }
}

// WithSharedCommands limits exported commands to names matching the patterns.
func WithSharedCommands(patterns ...string) Option {
	return func(n *Node) { n.filter.Commands = patterns }
}

func WithShareClearedCommands(share bool) Option {
	return func(n *Node) { n.filter.ClearedCommands = share }
}

func WithShareQuitAlerts(share bool) Option {
	return func(n *Node) { n.filter.QuitAlerts = share }
}

func WithShareAlerts(share bool) Option {
	return func(n *Node) { n.filter.Alerts = share }
}

// WithDiscovery configures the broadcast used to find the broker.
func WithDiscovery(cfg discovery.ClientConfig) Option {
	return func(n *Node) {
		n.discover = func(ctx context.Context) (string, error) {
			return discovery.Discover(ctx, cfg)
		}
	}
}

func WithDiscoverer(d Discoverer) Option {
	return func(n *Node) { n.discover = d }
}

func WithDialer(d Dialer) Option {
	return func(n *Node) { n.dial = d }
}

// WithNotifier sets the sink for the lost-broker alert. By default the alert
// goes through the tracker.
func WithNotifier(notifier engine.Notifier) Option {
	return func(n *Node) { n.notifier = notifier }
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// NewMaster creates a master node.
func NewMaster(id string, tr *tracker.Tracker, opts ...Option) (*Node, error) {
	if !validIdentifier(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return newNode(id, "", RoleMaster, tr, opts), nil
}

// NewSlave creates a slave node reporting to requiredMaster.
func NewSlave(id, requiredMaster string, tr *tracker.Tracker, opts ...Option) (*Node, error) {
	if !validIdentifier(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	if !validIdentifier(requiredMaster) {
		return nil, fmt.Errorf("required master %w: %q", ErrInvalidIdentifier, requiredMaster)
	}
	return newNode(id, requiredMaster, RoleSlave, tr, opts), nil
}

func newNode(id, requiredMaster string, role Role, tr *tracker.Tracker, opts []Option) *Node {
	n := &Node{
		id:             id,
		requiredMaster: requiredMaster,
		role:           role,
		tracker:        tr,
		notifier:       tr,
		filter:         tracker.DefaultFilter(),
		dial:           TCPDialer(0),
		logger:         slog.Default(),
	}
	WithDiscovery(discovery.ClientConfig{})(n)
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("node_id", id, "role", string(role))
	return n
}

func validIdentifier(s string) bool {
	return s != "" && strings.IndexFunc(s, unicode.IsSpace) < 0
}

func (n *Node) Identifier() string { return n.id }

func (n *Node) Role() Role { return n.role }

func (n *Node) State() State { return State(n.state.Load()) }

// LastLoginResponse is the broker's answer to the most recent login: "OK",
// or "-1"/"-2" when a session with this id already existed.
func (n *Node) LastLoginResponse() string { return n.lastLogin }

func (n *Node) setState(s State) {
	old := State(n.state.Swap(int32(s)))
	if old != s {
		n.logger.Debug("node_state_changed", "from", old.String(), "to", s.String())
	}
}

// Setup discovers the broker and logs in. Failing to find the broker is
// returned as an error; the node cannot synchronize without it.
func (n *Node) Setup(ctx context.Context) error {
	n.setState(StateDiscovering)

	endpoint, err := n.discover(ctx)
	if err != nil {
		n.setState(StateDisconnected)
		return fmt.Errorf("can not log in on the master-slave broker, is it running? %w", err)
	}
	n.logger.Info("broker_found", "endpoint", endpoint)

	transport := n.dial(endpoint)
	response, err := n.login(ctx, transport)
	if err != nil {
		n.setState(StateDisconnected)
		return err
	}
	n.lastLogin = response
	if response != protocol.ResponseOK {
		n.logger.Warn("login_not_accepted", "response", response)
	}

	n.transport = transport
	n.setState(StateConnected)
	return nil
}

// Update exchanges this cycle's changes with the broker and applies the
// answer. The tracked changes are dropped afterwards whether or not the
// exchange worked.
func (n *Node) Update(ctx context.Context) error {
	if n.transport == nil {
		return nil
	}

	changes := n.tracker.FilteredChanges(n.filter)
	response, err := n.exchange(ctx, changes)
	n.tracker.Reset()

	if err != nil {
		if errors.Is(err, ErrTransport) {
			n.lose(err)
			return nil
		}
		return err
	}

	if response == nil {
		return nil
	}
	if response.Changes == nil {
		n.logger.Warn("sync_rejected", "code", response.Code)
		return nil
	}
	n.tracker.ApplyChanges(response.Changes)
	return nil
}

// TearDown logs out. Failures are ignored as the node is going away anyway.
func (n *Node) TearDown(ctx context.Context) error {
	if n.transport != nil {
		command := protocol.CmdLogoutMaster
		if n.role == RoleSlave {
			command = protocol.CmdLogoutSlave
		}
		line, _ := protocol.FormatRequest(command, n.id, nil)
		if _, err := n.transport.Send(ctx, line); err != nil {
			n.logger.Debug("logout_failed", "error", err.Error())
		}
		n.transport = nil
	}
	n.setState(StateTerminated)
	return nil
}

func (n *Node) login(ctx context.Context, transport Transport) (string, error) {
	var (
		line string
		err  error
	)
	if n.role == RoleSlave {
		line, err = protocol.FormatRequest(protocol.CmdLoginSlave, n.id, n.requiredMaster)
	} else {
		line, err = protocol.FormatRequest(protocol.CmdLoginMaster, n.id, nil)
	}
	if err != nil {
		return "", err
	}

	response, err := transport.Send(ctx, line)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	return response, nil
}

func (n *Node) exchange(ctx context.Context, changes *protocol.ChangeSet) (*protocol.SyncResponse, error) {
	command := protocol.CmdSyncMaster
	if n.role == RoleSlave {
		command = protocol.CmdSyncSlave
	}
	line, err := protocol.FormatRequest(command, n.id, changes)
	if err != nil {
		return nil, err
	}

	raw, err := n.transport.Send(ctx, line)
	if err != nil {
		return nil, err
	}

	response, err := protocol.ParseSyncResponse(raw)
	if err != nil {
		n.logger.Warn("sync_response_unreadable", "error", err.Error())
		return nil, nil
	}
	return response, nil
}

// lose drops the connection and raises the lost-broker alert. The alert's
// recovery re-runs Setup; the sink keeps retrying it until it succeeds.
func (n *Node) lose(cause error) {
	n.transport = nil
	n.setState(StateDisconnected)
	n.logger.Error("broker_lost", "error", cause.Error())

	n.notifier.TriggerAlert(engine.NewRecoveryAlert(LostBrokerCode, LostBrokerMessage, n.id, n.Setup))
}
