package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/infrastructure/config"
	"github.com/wattwise/wattsync/internal/infrastructure/influxdb"
)

// fakeInflux answers ping and captures line protocol posted to the write endpoint.
func fakeInflux(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	writes := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			writes <- string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, writes
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "wattsync",
		Bucket:        "power",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv, _ := fakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestDevicePowerPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	tests := []struct {
		name       string
		dev        device.Device
		wantFields string
	}{
		{
			name:       "on reports usage",
			dev:        device.Normalize(device.Device{DeviceID: 3, HouseID: 7, DeviceType: device.TypeHVAC, PowerRating: "250W", On: true}),
			wantFields: "on=1i,power_watts=250i",
		},
		{
			name:       "off reports zero",
			dev:        device.Normalize(device.Device{DeviceID: 3, HouseID: 7, DeviceType: device.TypeHVAC, PowerRating: "250W"}),
			wantFields: "on=0i,power_watts=0i",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(influxdb.DevicePowerPoint(tt.dev, at), time.Second)
			want := "device_power,device_id=3,device_type=HVAC,house_id=7 " + tt.wantFields + " 1700000000\n"
			if line != want {
				t.Errorf("line protocol = %q, want %q", line, want)
			}
		})
	}
}

func TestConnectionStatusPoint(t *testing.T) {
	line := write.PointToLineProtocol(influxdb.ConnectionStatusPoint(7, "connected", time.Unix(10, 0)), time.Second)
	want := `sync_connection,house_id=7 status="connected" 10` + "\n"
	if line != want {
		t.Errorf("line protocol = %q, want %q", line, want)
	}
}

func TestWriteDevicePower(t *testing.T) {
	srv, writes := fakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	dev := device.Normalize(device.Device{DeviceID: 5, HouseID: 2, DeviceType: device.TypeLighting, PowerRating: "60W", On: true})
	client.WriteDevicePower(dev, time.Now())
	client.WriteConnectionStatus(2, "connected", time.Now())
	client.Flush()

	var body string
	deadline := time.After(5 * time.Second)
	for !strings.Contains(body, "sync_connection") {
		select {
		case b := <-writes:
			body += b
		case <-deadline:
			t.Fatalf("timed out waiting for write, got %q", body)
		}
	}
	if !strings.Contains(body, "device_power,device_id=5,device_type=Lighting,house_id=2 on=1i,power_watts=60i") {
		t.Errorf("write body = %q", body)
	}
}

func TestClose(t *testing.T) {
	srv, _ := fakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after Close are dropped silently.
	client.WriteDevicePower(device.Device{DeviceID: 1}, time.Now())
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}
