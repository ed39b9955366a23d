package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/scenepose/pose"
	"golang.org/x/sync/errgroup"
)

const (
	// pollInterval is how often cameras with an apiUrl are polled for frames
	pollInterval = 5 * time.Second
	// staleAfter marks cached poses as stale in --status
	staleAfter = 24 * time.Hour
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *pose.Config
	StateTracker *pose.StateTracker
	MQTTClient   *pose.MQTTClient
	Publisher    *pose.Publisher
	Out          io.Writer

	// CLI Flags (effectively dependencies)
	DataDir      string
	ConfigFile   string
	PoseCache    string
	Reference    string
	OutputFile   string
	RenderFormat string
	VectorFormat string
	GridSpacing  float64
	Tolerance    float64
	Seed         int64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: pose.NewStateTracker(0),
		Out:          os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.DataDir = opts.DataDir
	a.ConfigFile = opts.ConfigFile
	a.PoseCache = opts.PoseCache
	a.Reference = opts.Reference
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.GridSpacing = opts.GridSpacing
	a.Tolerance = opts.Tolerance
	a.Seed = opts.Seed
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// resolvePaths returns the config and pose cache paths, relative to DataDir
// when they are still the defaults.
func (a *App) resolvePaths() (string, string) {
	configPath := a.ConfigFile
	cachePath := a.PoseCache
	if configPath == "" {
		configPath = "config.yaml"
	}
	if cachePath == "" {
		cachePath = pose.DefaultPoseCachePath
	}
	if a.DataDir != "" && a.DataDir != "." {
		if configPath == "config.yaml" {
			configPath = filepath.Join(a.DataDir, configPath)
		}
		if cachePath == pose.DefaultPoseCachePath {
			cachePath = filepath.Join(a.DataDir, cachePath)
		}
	}
	return configPath, cachePath
}

// loadConfig loads the config file into a.Config. When required is false a
// missing or invalid file falls back to an empty config with default
// estimator settings.
func (a *App) loadConfig(required bool) error {
	if a.Config != nil {
		return nil
	}
	configPath, _ := a.resolvePaths()
	config, err := pose.LoadConfig(configPath)
	if err != nil {
		if required {
			return fmt.Errorf("failed to load config: %w (looked at %s)", err, configPath)
		}
		log.Printf("Using default estimator settings: %v", err)
		a.Config = &pose.Config{}
		return nil
	}
	log.Printf("Loaded config from %s", configPath)
	a.Config = config
	return nil
}

func (a *App) applyColors() {
	if a.Config == nil {
		return
	}
	for _, cc := range a.Config.Cameras {
		if cc.Color != "" {
			a.StateTracker.SetColor(cc.ID, cc.Color)
		}
	}
}

func (a *App) gridSpacing() float64 {
	if a.GridSpacing > 0 {
		return a.GridSpacing
	}
	if a.Config != nil && a.Config.GridSpacing > 0 {
		return a.Config.GridSpacing
	}
	return 1
}

// estimateFrame runs the estimator on a frame using the configured settings
func (a *App) estimateFrame(ctx context.Context, frame *pose.Frame) (pose.CameraPose, error) {
	var settings pose.EstimatorSettings
	if a.Config != nil {
		settings = a.Config.Estimator
	}
	cfg, err := settings.EstimatorConfig(a.Seed)
	if err != nil {
		return pose.CameraPose{}, err
	}
	if d := settings.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	camera, candidates := frame.Points()
	start := time.Now()
	res, err := pose.Estimate(ctx, camera, candidates, cfg)
	if err != nil {
		return pose.CameraPose{}, fmt.Errorf("estimate %s: %w", frame.CameraID, err)
	}
	return pose.FramePose(frame, res, time.Since(start))
}

// processFrame estimates a frame, records it and publishes the pose
func (a *App) processFrame(ctx context.Context, frame *pose.Frame) (pose.CameraPose, error) {
	cp, err := a.estimateFrame(ctx, frame)
	if err != nil {
		return pose.CameraPose{}, err
	}
	a.StateTracker.UpdatePose(cp)

	log.Printf("[ESTIMATE] %s: frame %s -> position (%.3f, %.3f, %.3f) heading %.1f° loss %.0f in %dms",
		cp.CameraID, cp.FrameID, cp.Position.X, cp.Position.Y, cp.Position.Z,
		pose.Heading(cp.Pose), cp.Loss, cp.DurationMS)

	if a.Publisher != nil {
		if err := a.Publisher.PublishPose(cp); err != nil {
			log.Printf("[PUBLISH] Error publishing pose for %s: %v", cp.CameraID, err)
		}
	}
	return cp, nil
}

// loadFrame parses a frame file; a frame without a camera ID is named after the file
func loadFrame(path string) (*pose.Frame, error) {
	frame, err := pose.ParseFrameFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if frame.CameraID == "" {
		frame.CameraID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return frame, nil
}

// RunEstimate estimates the pose for one frame file, prints the report and
// stores the pose in the pose cache.
func (a *App) RunEstimate(path string) error {
	if err := a.loadConfig(false); err != nil {
		return err
	}
	frame, err := loadFrame(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Estimating %s: %d correspondences, %d candidates\n",
		frame.CameraID, len(frame.CameraPoints), frame.CandidateCount())

	cp, err := a.estimateFrame(context.Background(), frame)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, string(data))

	_, cachePath := a.resolvePaths()
	cache, err := pose.LoadPoseCache(cachePath)
	if err != nil {
		log.Printf("Warning: replacing unreadable pose cache %s: %v", cachePath, err)
	}
	if cache == nil {
		cache = pose.NewPoseCache()
	}
	cache.Set(cp)
	if err := pose.SavePoseCache(cachePath, cache); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Saved pose to %s\n", cachePath)
	return nil
}

// RunCompare estimates the pose for one frame file and reports its distance
// from the reference pose.
func (a *App) RunCompare(path string) error {
	if err := a.loadConfig(false); err != nil {
		return err
	}
	reference, err := pose.LoadPoseFile(a.Reference)
	if err != nil {
		return fmt.Errorf("reference %s: %w", a.Reference, err)
	}
	frame, err := loadFrame(path)
	if err != nil {
		return err
	}

	cp, err := a.estimateFrame(context.Background(), frame)
	if err != nil {
		return err
	}
	c, err := pose.CompareToReference(cp.Pose, reference)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "\n=== %s vs %s ===\n", frame.CameraID, filepath.Base(a.Reference))
	fmt.Fprintf(a.Out, "  Rotation error:    %.4f°\n", c.AngleDeg)
	fmt.Fprintf(a.Out, "  Translation error: %.6f\n", c.Distance)
	fmt.Fprintf(a.Out, "  Loss: %.0f after %d rounds (%dms)\n", cp.Loss, cp.Rounds, cp.DurationMS)
	return nil
}

// RunRender draws every cached camera pose to OutputFile
func (a *App) RunRender() error {
	if err := a.loadConfig(false); err != nil {
		return err
	}
	_, cachePath := a.resolvePaths()
	cache, err := pose.LoadPoseCache(cachePath)
	if err != nil {
		return err
	}
	if cache == nil || len(cache.Cameras) == 0 {
		return fmt.Errorf("no cached poses in %s; run --estimate first", cachePath)
	}

	st := pose.NewStateTracker(a.Config.HistorySize)
	for _, cp := range cache.Cameras {
		st.UpdatePose(cp)
	}
	a.StateTracker = st
	a.applyColors()

	f, err := os.Create(a.OutputFile)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := a.renderTo(f, a.RenderFormat, a.VectorFormat); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Rendered %d cameras to %s\n", len(cache.Cameras), a.OutputFile)
	return nil
}

// renderTo writes the tracker in the given format: raster, vector (svg or
// png) or geojson.
func (a *App) renderTo(w io.Writer, format, vectorFormat string) error {
	switch format {
	case "", "raster":
		r := pose.NewTrajectoryRenderer(a.StateTracker)
		r.GridSpacing = a.gridSpacing()
		img, err := r.Render()
		if err != nil {
			return err
		}
		return png.Encode(w, img)
	case "vector":
		r := pose.NewVectorRenderer(a.StateTracker)
		r.GridSpacing = a.gridSpacing()
		r.Tolerance = a.Tolerance
		if vectorFormat == "png" {
			return r.RenderToPNG(w)
		}
		return r.RenderToSVG(w)
	case "geojson":
		fc := pose.TrajectoriesToFeatureCollection(a.StateTracker, a.Tolerance)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(fc)
	default:
		return fmt.Errorf("unknown render format %q", format)
	}
}

// RunStatus prints which configured cameras have a cached pose
func (a *App) RunStatus() error {
	if err := a.loadConfig(false); err != nil {
		return err
	}
	_, cachePath := a.resolvePaths()
	cache, err := pose.LoadPoseCache(cachePath)
	if err != nil {
		return err
	}

	expected := make([]string, 0, len(a.Config.Cameras))
	for _, cc := range a.Config.Cameras {
		expected = append(expected, cc.ID)
	}
	status := cache.Status(expected)

	fmt.Fprintf(a.Out, "\n=== Pose Cache %s ===\n", cachePath)
	if status.LastUpdated.Unix() > 0 {
		fmt.Fprintf(a.Out, "Last updated: %s\n", status.LastUpdated.Format(time.RFC3339))
	} else {
		fmt.Fprintln(a.Out, "Last updated: never")
	}
	if status.LastUpdated.Unix() > 0 && cache.NeedsRefresh(staleAfter) {
		fmt.Fprintf(a.Out, "Warning: poses are older than %s\n", staleAfter)
	}
	for _, id := range status.PosedCameras {
		cp, _ := cache.Get(id)
		fmt.Fprintf(a.Out, "  %s: position (%.3f, %.3f, %.3f) loss %.0f\n",
			id, cp.Position.X, cp.Position.Y, cp.Position.Z, cp.Loss)
	}
	for _, id := range status.MissingCameras {
		fmt.Fprintf(a.Out, "  %s: no pose\n", id)
	}
	return nil
}

// RunService runs MQTT ingestion and/or the HTTP server until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting scenepose service...")

	if err := a.loadConfig(true); err != nil {
		return err
	}
	_, cachePath := a.resolvePaths()
	a.StateTracker = pose.NewStateTrackerWithCache(a.Config.HistorySize, cachePath)
	a.applyColors()
	log.Printf("Pose cache: %s", cachePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.MqttMode {
		mqttClient, err := pose.InitMQTT(a.Config, a.handleMessage(ctx))
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient
		mqttClient.SetResetHandler(a.handleReset)
		a.Publisher = pose.NewPublisher(mqttClient.GetClient(), a.Config.MQTT.PublishPrefix)
		fmt.Fprintln(a.Out, "MQTT pose publisher initialized")
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.HttpMode {
		srv := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Printf("[HTTP] Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("[HTTP] server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, cc := range a.Config.Cameras {
		if cc.ApiURL == nil || *cc.ApiURL == "" {
			continue
		}
		cameraID, apiURL := cc.ID, *cc.ApiURL
		g.Go(func() error {
			a.pollCamera(gctx, cameraID, apiURL, pollInterval)
			return nil
		})
	}

	a.printServiceInfo()

	<-gctx.Done()
	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	err := g.Wait()
	fmt.Fprintln(a.Out, "Service stopped")
	return err
}

// handleMessage returns the MQTT frame handler
func (a *App) handleMessage(ctx context.Context) pose.MessageHandler {
	return func(cameraID string, raw []byte, frame *pose.Frame, err error) {
		if err != nil {
			log.Printf("[MQTT] Error receiving frame for %s (%d bytes): %v", cameraID, len(raw), err)
			return
		}
		if _, err := a.processFrame(ctx, frame); err != nil {
			log.Printf("[ESTIMATE] %s: %v", cameraID, err)
		}
	}
}

// handleReset clears a camera's trajectory and its retained combined entry
func (a *App) handleReset(cameraID string) {
	log.Printf("[MQTT] Reset requested for %s", cameraID)
	a.StateTracker.ResetTrajectory(cameraID)
	if a.Publisher != nil {
		a.Publisher.ClearPose(cameraID)
	}
}

// pollCamera fetches frames from a camera's API until ctx is done
func (a *App) pollCamera(ctx context.Context, cameraID, apiURL string, interval time.Duration) {
	log.Printf("[HTTP] Polling %s every %s: %s", cameraID, interval, apiURL)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		frame, err := pose.FetchFrameFromAPIWithContext(ctx, apiURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[HTTP] %s: %v", cameraID, err)
		} else {
			if frame.CameraID == "" {
				frame.CameraID = cameraID
			}
			if _, err := a.processFrame(ctx, frame); err != nil {
				log.Printf("[ESTIMATE] %s: %v", cameraID, err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, cc := range a.Config.Cameras {
			fmt.Fprintf(a.Out, "    - %s (%s)\n", cc.Topic, cc.ID)
		}
		prefix := a.Config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = pose.DefaultPublishPrefix
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s/{cameraID}\n", prefix)
		fmt.Fprintf(a.Out, "  Combined poses: %s/poses\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET  /health             - Health check")
		fmt.Fprintln(a.Out, "  POST /estimate           - Estimate a pose from frame JSON")
		fmt.Fprintln(a.Out, "  GET  /poses              - Latest pose of every camera")
		fmt.Fprintln(a.Out, "  GET  /trajectory.geojson - Camera trajectories as GeoJSON")
		fmt.Fprintln(a.Out, "  GET  /trajectory.svg     - Camera trajectories as SVG")
		fmt.Fprintln(a.Out, "  GET  /trajectory.png     - Camera trajectories as PNG")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
