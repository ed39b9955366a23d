package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kwv/scenepose/pose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publishingApp returns an App wired to a connected mock MQTT client
func publishingApp() (*App, *pose.MockClient) {
	mock := pose.NewMockClient()
	mock.SetConnected(true)

	app := serviceApp()
	app.Publisher = pose.NewPublisher(mock, "scenepose")
	return app, mock
}

// TestMQTTServiceConfigLoading tests configuration loading for MQTT service
func TestMQTTServiceConfigLoading(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"
  publishPrefix: "scenepose"
  clientId: "test-client"

cameras:
  - id: cam-a
    topic: "scenepose/cam-a/frames"
    color: "#FF0000"
  - id: cam-b
    topic: "scenepose/cam-b/frames"
    color: "#00FF00"
`,
		},
		{
			name: "missing topic with broker",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"

cameras:
  - id: cam-a
    color: "#FF0000"
`,
			shouldError: true,
			errorMsg:    "topic is required",
		},
		{
			name: "no cameras defined",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"

cameras: []
`,
			shouldError: true,
			errorMsg:    "at least one camera",
		},
		{
			name: "bad loss policy",
			configYAML: `estimator:
  lossPolicy: sometimes
cameras:
  - id: cam-a
`,
			shouldError: true,
			errorMsg:    "unknown loss policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(tt.configYAML), 0644))

			app := &App{DataDir: dir, ConfigFile: "config.yaml"}
			err := app.loadConfig(true)
			if tt.shouldError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Len(t, app.Config.Cameras, 2)
		})
	}
}

// TestMessageHandlerPublishes checks the MQTT frame path end to end: decode,
// estimate, record and publish.
func TestMessageHandlerPublishes(t *testing.T) {
	app, mock := publishingApp()
	frame := syntheticFrame("cam-a", 80, 21)
	raw := frameBody(t, frame)

	app.handleMessage(t.Context())("cam-a", raw, frame, nil)

	_, ok := app.StateTracker.GetPose("cam-a")
	require.True(t, ok)

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "scenepose/cam-a", msgs[0].Topic)
	assert.Equal(t, "scenepose/poses", msgs[1].Topic)
	assert.True(t, msgs[0].Retain)

	var cp pose.CameraPose
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &cp))
	assert.Equal(t, "cam-a", cp.CameraID)
	assert.InDelta(t, 1.5, cp.Position.X, 0.01)
}

func TestMessageHandlerErrorCases(t *testing.T) {
	tests := []struct {
		name  string
		frame *pose.Frame
		err   error
	}{
		{"decode error", nil, errors.New("unknown format")},
		{"too few correspondences", syntheticFrame("cam-a", 5, 22), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, mock := publishingApp()
			app.handleMessage(t.Context())("cam-a", []byte("payload"), tt.frame, tt.err)

			assert.False(t, app.StateTracker.HasPoses())
			assert.Empty(t, mock.GetPublishedMessages())
		})
	}
}

func TestMessageHandlerPublishFailure(t *testing.T) {
	app, mock := publishingApp()
	mock.SetConnected(false)

	frame := syntheticFrame("cam-a", 80, 23)
	app.handleMessage(t.Context())("cam-a", nil, frame, nil)

	// the pose is still tracked when publishing fails
	_, ok := app.StateTracker.GetPose("cam-a")
	assert.True(t, ok)
	assert.Empty(t, mock.GetPublishedMessages())
}

func TestHandleReset(t *testing.T) {
	app, mock := publishingApp()
	for i, seed := range []int64{31, 32} {
		f := syntheticFrame("cam-a", 80, seed)
		f.Timestamp = int64(1700000000 + i)
		_, err := app.processFrame(t.Context(), f)
		require.NoError(t, err)
	}
	require.Len(t, app.StateTracker.GetTrajectories()["cam-a"], 2)

	app.handleReset("cam-a")

	assert.Empty(t, app.StateTracker.GetTrajectories()["cam-a"])
	_, ok := app.StateTracker.GetPose("cam-a")
	assert.True(t, ok, "latest pose survives a trajectory reset")
	_, ok = app.Publisher.GetPose("cam-a")
	assert.False(t, ok)
	assert.NotEmpty(t, mock.GetPublishedMessages())
}

func TestResetViaMQTT(t *testing.T) {
	app, _ := publishingApp()
	_, err := app.processFrame(t.Context(), syntheticFrame("cam-a", 80, 33))
	require.NoError(t, err)

	mock := pose.NewMockClient()
	client := pose.NewMQTTClientForTesting(mock, app.Config, app.handleMessage(t.Context()))
	client.SetResetHandler(app.handleReset)
	require.NoError(t, mock.Connect().Error())
	assert.True(t, client.IsConnected())

	mock.SimulateMessage("scenepose/cam-a/reset", []byte("{}"))
	assert.Empty(t, app.StateTracker.GetTrajectories()["cam-a"])
}

func TestPollCamera(t *testing.T) {
	frame := syntheticFrame("", 80, 41)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(frame)
	}))
	defer server.Close()

	app, mock := publishingApp()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		app.pollCamera(ctx, "cam-b", server.URL, time.Hour)
		close(done)
	}()

	require.Eventually(t, app.StateTracker.HasPoses, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pollCamera did not stop after cancel")
	}

	_, ok := app.StateTracker.GetPose("cam-b")
	assert.True(t, ok, "frames without a camera ID take the polled camera's ID")
	assert.NotEmpty(t, mock.GetPublishedMessages())
}

func TestPollCamera_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	app := serviceApp()
	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	app.pollCamera(ctx, "cam-a", server.URL, 50*time.Millisecond)
	assert.False(t, app.StateTracker.HasPoses())
}
