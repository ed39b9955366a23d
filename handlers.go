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
	"strconv"
	"time"

	"github.com/kwv/scenepose/pose"
)

// maxFrameBytes bounds POST /estimate request bodies
var maxFrameBytes int64 = 32 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasPoses  bool      `json:"hasPoses"`
			MQTT      bool      `json:"mqtt"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasPoses:  a.StateTracker.HasPoses(),
			MQTT:      a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	// One-shot estimate from a posted frame (raw, gzip or zlib JSON)
	mux.HandleFunc("POST /estimate", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			http.Error(w, fmt.Sprintf("reading body: %v", err), status)
			return
		}
		frame, err := pose.DecodeFrame(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if id := r.URL.Query().Get("camera"); id != "" {
			frame.CameraID = id
		}
		if frame.CameraID == "" {
			http.Error(w, "frame has no cameraId", http.StatusBadRequest)
			return
		}
		if a.Config != nil && len(a.Config.Cameras) > 0 && a.Config.GetCameraByID(frame.CameraID) == nil {
			http.Error(w, fmt.Sprintf("unknown camera %q", frame.CameraID), http.StatusNotFound)
			return
		}

		cp, err := a.processFrame(r.Context(), frame)
		if err != nil {
			log.Printf("[HTTP] /estimate %s: %v", frame.CameraID, err)
			http.Error(w, err.Error(), estimateStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, cp)
	})

	mux.HandleFunc("GET /poses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.StateTracker.GetPoses())
	})

	mux.HandleFunc("GET /poses/{id}", func(w http.ResponseWriter, r *http.Request) {
		cp, ok := a.StateTracker.GetPose(r.PathValue("id"))
		if !ok {
			http.Error(w, "No pose for camera", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, cp)
	})

	mux.HandleFunc("GET /trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		tolerance := a.Tolerance
		if v := r.URL.Query().Get("simplify"); v != "" {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil || t < 0 {
				http.Error(w, "simplify must be a non-negative number", http.StatusBadRequest)
				return
			}
			tolerance = t
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(pose.TrajectoriesToFeatureCollection(a.StateTracker, tolerance)); err != nil {
			log.Printf("Error encoding trajectory GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("GET /trajectory.svg", func(w http.ResponseWriter, r *http.Request) {
		if !a.StateTracker.HasPoses() {
			http.Error(w, "No poses available", http.StatusServiceUnavailable)
			return
		}
		vr := pose.NewVectorRenderer(a.StateTracker)
		vr.GridSpacing = a.gridSpacing()
		vr.Tolerance = a.Tolerance

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := vr.RenderToSVG(w); err != nil {
			log.Printf("Error encoding trajectory SVG: %v", err)
		}
	})

	mux.HandleFunc("GET /trajectory.png", func(w http.ResponseWriter, r *http.Request) {
		tr := pose.NewTrajectoryRenderer(a.StateTracker)
		tr.GridSpacing = a.gridSpacing()
		img, err := tr.Render()
		if err != nil {
			http.Error(w, "No poses available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding trajectory PNG: %v", err)
		}
	})

	// Default route serves HTML page embedding the SVG view
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>scenepose</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#fafafa}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/trajectory.svg" alt="Camera trajectories">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// estimateStatus maps an estimate error to an HTTP status code
func estimateStatus(err error) int {
	switch {
	case errors.Is(err, pose.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pose.ErrInsufficientData), errors.Is(err, pose.ErrDegenerateSample):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
