//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".." // relative to ./e2e

const mqttPort = nat.Port("1883/tcp")

type telemetryMsg struct {
	NodeID      string  `json:"node_id"`
	Temperature float64 `json:"temperature_c"`
	Voltage     float64 `json:"voltage_v"`
}

func TestSmoke_PollPublishServe(t *testing.T) {
	repoRoot := repoRootPath(t)
	brokerHost, brokerPort := startMosquitto(t)

	gatewayBin := buildBinary(t, repoRoot, "./cmd", "wotnode-gateway")
	nodeBin := buildBinary(t, repoRoot, "./cmd/fakenode", "fakenode")

	nodePort := pickFreeUDPPort(t)
	localPort := pickFreeUDPPort(t)
	httpAddr := pickFreeAddr(t)

	msgs := subscribe(t, brokerHost, brokerPort, "e2e/attic/telemetry")

	node := start(t, nodeBin,
		"APP_ENV=dev",
		"FAKENODE_ADDR=127.0.0.1:"+strconv.Itoa(nodePort),
	)
	gateway := start(t, gatewayBin,
		"APP_ENV=dev",
		"LOG_LEVEL=debug",
		"HTTP_ADDR="+httpAddr,
		"SQLITE_PATH="+filepath.Join(t.TempDir(), "wotnode.db"),
		"UDP_BIND_ADDR=127.0.0.1",
		"UDP_LOCAL_PORT="+strconv.Itoa(localPort),
		"UDP_REMOTE_PORT="+strconv.Itoa(nodePort),
		"BROADCAST_ADDR=127.0.0.1",
		"POLL_INTERVAL=500ms",
		"MQTT_ENABLED=true",
		"MQTT_BROKER="+brokerHost,
		"MQTT_PORT="+brokerPort.Port(),
		"MQTT_CLIENT_ID=wotnode-e2e",
		"MQTT_TOPIC_PREFIX=e2e",
		"NODE_ID=attic",
	)

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+httpAddr+"/healthz", 10*time.Second)

	select {
	case m := <-msgs:
		if m.NodeID != "attic" {
			t.Errorf("mqtt node_id=%q want=attic", m.NodeID)
		}
		if m.Voltage < 3.0 || m.Voltage > 4.2 {
			t.Errorf("mqtt voltage=%v out of range", m.Voltage)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("no telemetry published to mqtt")
	}

	waitForOK(t, client, "http://"+httpAddr+"/api/snapshot", 5*time.Second)

	stop(t, gateway)
	stop(t, node)
}

func startMosquitto(t *testing.T) (string, nat.Port) {
	t.Helper()
	ctx := context.Background()

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "eclipse-mosquitto:2",
			ExposedPorts: []string{string(mqttPort)},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
			WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, port
}

func subscribe(t *testing.T, host string, port nat.Port, topic string) <-chan telemetryMsg {
	t.Helper()
	out := make(chan telemetryMsg, 16)

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", host, port.Port())).
		SetClientID("wotnode-e2e-subscriber")
	client := paho.NewClient(opts)
	if tok := client.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect: %v", tok.Error())
	}
	t.Cleanup(func() { client.Disconnect(250) })

	tok := client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		var msg telemetryMsg
		if err := json.Unmarshal(m.Payload(), &msg); err != nil {
			t.Errorf("telemetry payload: %v", err)
			return
		}
		select {
		case out <- msg:
		default:
		}
	})
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe %s: %v", topic, tok.Error())
	}
	return out
}

func repoRootPath(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}
	return repo
}

func buildBinary(t *testing.T, repoRoot, pkg, name string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), name)

	build := exec.Command("go", "build", "-o", out, pkg)
	build.Dir = repoRoot
	build.Env = os.Environ()
	if b, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, string(b))
	}
	return out
}

func start(t *testing.T, bin string, env ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", bin, err)
	}
	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	})
	return cmd
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func pickFreeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp :0: %v", err)
	}
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("not OK after %s: %s", timeout, url)
}

func stop(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-time.After(10 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatalf("%s did not exit in time", cmd.Path)
	case err := <-done:
		if err != nil {
			t.Fatalf("%s exited with %v", cmd.Path, err)
		}
	}
}
