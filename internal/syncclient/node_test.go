package syncclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ikarusms/internal/engine"
	"ikarusms/internal/tracker"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, line string) (string, error) {
	args := m.Called(line)
	return args.String(0), args.Error(1)
}

func fixedBroker(endpoint string) Discoverer {
	return func(context.Context) (string, error) { return endpoint, nil }
}

func newTestNode(t *testing.T, role Role, transport Transport, opts ...Option) (*Node, *tracker.Tracker, *engine.Memory) {
	t.Helper()
	mem := engine.NewMemory(0, nil)
	tr := tracker.New(mem)
	opts = append([]Option{
		WithDiscoverer(fixedBroker("127.0.0.1:9000")),
		WithDialer(func(string) Transport { return transport }),
	}, opts...)

	var (
		node *Node
		err  error
	)
	if role == RoleSlave {
		node, err = NewSlave("slave", "my-master", tr, opts...)
	} else {
		node, err = NewMaster("my-master", tr, opts...)
	}
	require.NoError(t, err)
	return node, tr, mem
}

func TestNewNode_RejectsWhitespaceIdentifiers(t *testing.T) {
	tr := tracker.New(engine.NewMemory(0, nil))

	for _, id := range []string{"", "my master", "tab\tid", "new\nline"} {
		_, err := NewMaster(id, tr)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "id %q", id)
	}

	_, err := NewSlave("slave", "my master", tr)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = NewSlave("slave", "my-master", tr)
	assert.NoError(t, err)
}

func TestSetup_MasterLogsIn(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Send", "lgim my-master").Return("OK", nil).Once()

	node, _, _ := newTestNode(t, RoleMaster, transport)

	require.NoError(t, node.Setup(context.Background()))
	assert.Equal(t, StateConnected, node.State())
	assert.Equal(t, "OK", node.LastLoginResponse())
	transport.AssertExpectations(t)
}

func TestSetup_SlaveSendsSerializedMaster(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Send", `lgis slave "my-master"`).Return("-2", nil).Once()

	node, _, _ := newTestNode(t, RoleSlave, transport)

	require.NoError(t, node.Setup(context.Background()))
	// a rejected login is reported but does not stop the node
	assert.Equal(t, StateConnected, node.State())
	assert.Equal(t, "-2", node.LastLoginResponse())
}

func TestSetup_FailsWithoutBroker(t *testing.T) {
	transport := &mockTransport{}
	errNoReply := errors.New("no reply")
	node, _, _ := newTestNode(t, RoleMaster, transport, WithDiscoverer(func(context.Context) (string, error) {
		return "", errNoReply
	}))

	err := node.Setup(context.Background())

	assert.ErrorIs(t, err, errNoReply)
	assert.Equal(t, StateDisconnected, node.State())
	transport.AssertNotCalled(t, "Send", mock.Anything)
}

func TestUpdate_ExchangesAndAppliesResponse(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Send", "lgim my-master").Return("OK", nil)
	transport.On("Send", `syncm my-master {"c":{"start":true}}`).
		Return(`{"cc":["start"],"v":{"temp":{"t1":20}}}`, nil).Once()

	node, tr, mem := newTestNode(t, RoleMaster, transport)
	require.NoError(t, node.Setup(context.Background()))

	tr.PutCommand("start", true)
	require.NoError(t, node.Update(context.Background()))

	assert.False(t, mem.HasCommand("start"))
	v, ok := mem.Value("t1", "temp")
	require.True(t, ok)
	assert.Equal(t, float64(20), v)
	// applied changes are not exported again
	assert.True(t, tr.FilteredChanges(tracker.DefaultFilter()).IsEmpty())
	transport.AssertExpectations(t)
}

func TestUpdate_SendsOnlySharedChanges(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Send", `lgis slave "my-master"`).Return("OK", nil)
	transport.On("Send", `syncs slave {"c":{"pump.on":true},"v":{"sensor":{"t":1}}}`).Return("{}", nil).Once()

	node, tr, _ := newTestNode(t, RoleSlave, transport,
		WithSharedDomains("sensor*"),
		WithSharedCommands("pump.*"),
		WithShareClearedCommands(false),
		WithShareQuitAlerts(false),
	)
	require.NoError(t, node.Setup(context.Background()))

	tr.PutValue(1, "t", "sensor")
	tr.PutValue(2, "x", "private")
	tr.PutCommand("pump.on", true)
	tr.PutCommand("light.on", true)
	tr.ClearCommand("pump.off")
	tr.QuitAlert("a1")

	require.NoError(t, node.Update(context.Background()))
	transport.AssertExpectations(t)
}

func TestUpdate_RejectedSyncKeepsConnection(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Send", `lgis slave "my-master"`).Return("OK", nil)
	transport.On("Send", "syncs slave {}").Return("-2", nil)

	node, tr, _ := newTestNode(t, RoleSlave, transport)
	require.NoError(t, node.Setup(context.Background()))

	require.NoError(t, node.Update(context.Background()))

	assert.Equal(t, StateConnected, node.State())
	assert.True(t, tr.FilteredChanges(tracker.DefaultFilter()).IsEmpty())
}

func TestUpdate_TransportErrorRaisesRecoveryAlert(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Send", "lgim my-master").Return("OK", nil).Once()
	transport.On("Send", `syncm my-master {"c":{"lost":true}}`).
		Return("", fmt.Errorf("%w: connection reset", ErrTransport)).Once()

	node, tr, mem := newTestNode(t, RoleMaster, transport)
	require.NoError(t, node.Setup(context.Background()))

	tr.PutCommand("lost", true)
	require.NoError(t, node.Update(context.Background()))

	assert.Equal(t, StateDisconnected, node.State())
	alerts := mem.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, LostBrokerCode, alerts[0].Code)
	assert.Equal(t, LostBrokerMessage, alerts[0].Message)
	assert.NotNil(t, alerts[0].Recovery)

	// changes of the failed cycle are not retried
	exported := tr.FilteredChanges(tracker.DefaultFilter())
	assert.Nil(t, exported.Commands)

	// disconnected: nothing is sent
	require.NoError(t, node.Update(context.Background()))
	transport.AssertExpectations(t)
}

func TestRecovery_RetriesUntilBrokerIsBack(t *testing.T) {
	brokerUp := false
	transport := &mockTransport{}
	transport.On("Send", "lgim my-master").Return("OK", nil)
	transport.On("Send", "syncm my-master {}").Return("", ErrTransport).Once()

	node, _, mem := newTestNode(t, RoleMaster, transport, WithDiscoverer(func(context.Context) (string, error) {
		if !brokerUp {
			return "", errors.New("no reply")
		}
		return "127.0.0.1:9000", nil
	}))
	brokerUp = true
	require.NoError(t, node.Setup(context.Background()))
	brokerUp = false

	require.NoError(t, node.Update(context.Background()))
	require.Len(t, mem.Alerts(), 1)

	mem.RunRecoveries(context.Background())
	mem.RunRecoveries(context.Background())
	assert.Len(t, mem.Alerts(), 1)
	assert.Equal(t, StateDisconnected, node.State())

	brokerUp = true
	mem.RunRecoveries(context.Background())
	assert.Empty(t, mem.Alerts())
	assert.Equal(t, StateConnected, node.State())
}

func TestTearDown_LogsOutAndIgnoresFailures(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Send", `lgis slave "my-master"`).Return("OK", nil)
	transport.On("Send", "lgos slave").Return("", ErrTransport).Once()

	node, _, _ := newTestNode(t, RoleSlave, transport)
	require.NoError(t, node.Setup(context.Background()))

	assert.NoError(t, node.TearDown(context.Background()))
	assert.Equal(t, StateTerminated, node.State())
	transport.AssertExpectations(t)
}

func TestTearDown_WithoutConnection(t *testing.T) {
	transport := &mockTransport{}
	node, _, _ := newTestNode(t, RoleMaster, transport)

	assert.NoError(t, node.TearDown(context.Background()))
	transport.AssertNotCalled(t, "Send", mock.Anything)
}
