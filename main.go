package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries parsed CLI flags into an App
type AppOptions struct {
	DataDir      string
	ConfigFile   string
	PoseCache    string
	EstimateFile string
	CompareFile  string
	Reference    string
	RenderOnly   bool
	OutputFile   string
	RenderFormat string
	VectorFormat string
	GridSpacing  float64
	Tolerance    float64
	Seed         int64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	StatusOnly   bool
}

// AppRunner is the set of modes the CLI can dispatch to
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunEstimate(path string) error
	RunCompare(path string) error
	RunRender() error
	RunStatus() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("scenepose", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory holding config.yaml and the pose cache")
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	fs.StringVar(&opts.PoseCache, "pose-cache", ".pose-cache.json", "Path to pose cache file")
	fs.StringVar(&opts.EstimateFile, "estimate", "", "Estimate the pose for a frame JSON file and print the report")
	fs.StringVar(&opts.CompareFile, "compare", "", "Estimate the pose for a frame JSON file and compare it to --reference")
	fs.StringVar(&opts.Reference, "reference", "", "Reference pose JSON (4x4 matrix or object with a pose field)")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render cached camera poses to --output")
	fs.StringVar(&opts.OutputFile, "output", "trajectory.png", "Output file for --render")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster, vector or geojson")
	fs.StringVar(&opts.VectorFormat, "vector-format", "svg", "Vector output format: svg or png")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 0, "Grid line spacing in world units (0 uses config or 1)")
	fs.Float64Var(&opts.Tolerance, "simplify", 0, "Douglas-Peucker tolerance for exported trajectories (0 disables)")
	fs.Int64Var(&opts.Seed, "seed", 0, "Random seed for the estimator (0 uses config or the clock)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode for live pose estimation")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server")
	fs.BoolVar(&opts.StatusOnly, "status", false, "Print pose cache status")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "scenepose version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.EstimateFile != "":
		return app.RunEstimate(opts.EstimateFile)
	case opts.CompareFile != "":
		if opts.Reference == "" {
			return fmt.Errorf("--compare requires --reference")
		}
		return app.RunCompare(opts.CompareFile)
	case opts.RenderOnly:
		return app.RunRender()
	case opts.StatusOnly:
		return app.RunStatus()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "scenepose service starting...")
	fmt.Fprintln(out, "Use --estimate=FRAME.json to estimate a single camera pose")
	fmt.Fprintln(out, "Use --compare=FRAME.json --reference=POSE.json to check an estimate")
	fmt.Fprintln(out, "Use --render to draw cached camera poses")
	fmt.Fprintln(out, "Use --status to show pose cache status")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT, estimator and camera settings")
	fmt.Fprintln(out, "  .pose-cache.json - Last estimated pose per camera")
	return nil
}
