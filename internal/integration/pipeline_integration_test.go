package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/fabric"
	"github.com/oshokin/alarm-pipeline/internal/receiver"
	"github.com/oshokin/alarm-pipeline/internal/service/common"
	pipelineserver "github.com/oshokin/alarm-pipeline/internal/service/server"
	"github.com/oshokin/alarm-pipeline/internal/service/simulator"
)

const (
	// clientID owns account 1234 in the test configuration.
	clientID = "client-1"
	// waitTimeout bounds every asynchronous expectation.
	waitTimeout = 5 * time.Second
)

// freeAddr reserves a free loopback port and releases it for the server.
func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// startNATS runs an embedded NATS server for the event sink.
func startNATS(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go ns.Start()

	require.True(t, ns.ReadyForConnections(waitTimeout))
	t.Cleanup(ns.Shutdown)

	return ns
}

// startPipeline writes a configuration for cfg and runs the pipeline until
// the test ends.
func startPipeline(t *testing.T, cfg *config.Config) {
	t.Helper()

	// Create cancellable context for server lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")

	// Create temporary configuration file.
	require.NoError(t, config.Save(cfgPath, cfg))

	done := make(chan error, 1)

	// Start server in background goroutine.
	go func() {
		done <- pipelineserver.Run(ctx, &pipelineserver.Options{ConfigPath: cfgPath})
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Error("pipeline did not stop")
		}
	})

	// Wait until the HTTP surface answers.
	healthURL := "http://" + cfg.HTTP.ListenAddr + "/healthz"

	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL) //nolint:noctx // Polling loop in test code.
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, waitTimeout, 20*time.Millisecond)
}

// subscribe connects a fabric client for clientID and waits until the
// server confirmed the subscription.
func subscribe(ctx context.Context, t *testing.T, endpoint string) *fabric.Connector {
	t.Helper()

	connector := fabric.NewConnector(endpoint,
		fabric.WithClientID(clientID),
		fabric.WithChannels(fabric.ClientChannel(clientID)))

	go func() {
		_ = connector.Run(ctx)
	}()

	t.Cleanup(connector.Close)

	waitFor(t, connector, func(msg fabric.Message) bool {
		return msg.Type == fabric.TypeSubscribed
	})

	return connector
}

// waitFor reads messages until match accepts one and returns it.
func waitFor(t *testing.T, connector *fabric.Connector, match func(fabric.Message) bool) fabric.Message {
	t.Helper()

	timeout := time.After(waitTimeout)

	for {
		select {
		case msg, ok := <-connector.Messages():
			require.True(t, ok, "connector closed")

			if match(msg) {
				return msg
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for fabric message")
		}
	}
}

// testConfig returns a configuration listening on free loopback ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.Receiver.ListenAddr = freeAddr(t)
	cfg.GRPC.ListenAddr = freeAddr(t)
	cfg.HTTP.ListenAddr = freeAddr(t)
	cfg.Rules.Path = filepath.Join(t.TempDir(), "rules.yaml")
	cfg.Accounts = map[string]string{simulator.DefaultAccount: clientID}

	return cfg
}

// TestPipeline_ReceiverToFabric sends a burglary report over the panel
// receiver and expects the ACK, the processed event, the intrusion
// notification, the camera recording request and the NATS copy.
func TestPipeline_ReceiverToFabric(t *testing.T) {
	t.Parallel()

	ns := startNATS(t)

	recordings := make(chan string, 4)
	camera := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recordings <- r.Method + " " + r.URL.Path

		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(camera.Close)

	cfg := testConfig(t)
	cfg.NATS.URL = ns.ClientURL()
	cfg.Camera.BaseURL = camera.URL

	// Listen for processed events before the pipeline starts publishing.
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	published := make(chan *nats.Msg, 4)
	_, err = nc.ChanSubscribe(cfg.NATS.EventsSubject, published)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	startPipeline(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	connector := subscribe(ctx, t, "ws://"+cfg.HTTP.ListenAddr+"/ws")

	samples, err := simulator.Samples(simulator.DefaultAccount, event.ProtocolContactID)
	require.NoError(t, err)

	// The first Contact ID sample is a new burglary alarm (130).
	conn, err := net.DialTimeout("tcp", cfg.Receiver.ListenAddr, waitTimeout)
	require.NoError(t, err)

	defer func() {
		_ = conn.Close()
	}()

	require.NoError(t, conn.SetDeadline(time.Now().Add(waitTimeout)))

	_, err = conn.Write([]byte(samples[0].Payload + "\r\n"))
	require.NoError(t, err)

	ack, err := bufio.NewReader(conn).ReadByte()
	require.NoError(t, err)
	require.Equal(t, receiver.ACK, ack)

	// Rule actions run concurrently with the event broadcast, so either
	// message may come first.
	received := make(map[fabric.MessageType]fabric.Message)

	for len(received) < 2 {
		msg := waitFor(t, connector, func(msg fabric.Message) bool {
			return msg.Type == fabric.TypeEvent || msg.Type == fabric.TypeNotification
		})
		received[msg.Type] = msg
	}

	eventMsg := received[fabric.TypeEvent]
	require.Equal(t, fabric.StatusProcessed, eventMsg.Status)

	var ev event.AlarmEvent
	require.NoError(t, eventMsg.Decode(&ev))
	require.Equal(t, "130", ev.EventCode)
	require.Equal(t, clientID, ev.ClientID)
	require.NotEmpty(t, ev.ID)

	notificationMsg := received[fabric.TypeNotification]

	var n event.Notification
	require.NoError(t, notificationMsg.Decode(&n))
	require.Equal(t, "default-intrusion", n.RuleID)
	require.Equal(t, clientID, n.ClientID)

	select {
	case got := <-recordings:
		require.Equal(t, "POST /api/cameras/"+rule.DefaultCameraID+"/record", got)
	case <-time.After(waitTimeout):
		require.FailNow(t, "camera recording was not requested")
	}

	select {
	case msg := <-published:
		require.Equal(t, ev.ID, msg.Header.Get("x-event-id"))

		var sunk event.AlarmEvent
		require.NoError(t, json.Unmarshal(msg.Data, &sunk))
		require.Equal(t, ev.ID, sunk.ID)
	case <-time.After(waitTimeout):
		require.FailNow(t, "event was not published to NATS")
	}
}

// TestPipeline_IngestAPI submits SIA and Contact ID payloads through the
// gRPC ingest API and checks rejections of malformed input.
func TestPipeline_IngestAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	startPipeline(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	connector := subscribe(ctx, t, "ws://"+cfg.HTTP.ListenAddr+"/ws")

	// Connect to the ingest API with timeout.
	c, err := common.Dial(ctx, cfg.GRPC.ListenAddr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	samples, err := simulator.Samples(simulator.DefaultAccount, event.ProtocolSIA)
	require.NoError(t, err)

	accepted, err := c.Submit(ctx, "", samples[0].Payload)
	require.NoError(t, err)
	require.Equal(t, event.ProtocolSIA, accepted.Protocol)
	require.Equal(t, "BA", accepted.EventCode)
	require.Equal(t, clientID, accepted.ClientID)

	eventMsg := waitFor(t, connector, func(msg fabric.Message) bool {
		return msg.Type == fabric.TypeEvent
	})

	var ev event.AlarmEvent
	require.NoError(t, eventMsg.Decode(&ev))
	require.Equal(t, accepted.ID, ev.ID)

	_, err = c.Submit(ctx, event.ProtocolContactID, "not a report")
	require.Error(t, err)
}
