package config

import "flag"

// Flags holds the command-line overrides shared by the terrain tools. Each tool registers
// its own extra flags on FlagSet before calling Parse.
type Flags struct {
	FlagSet *flag.FlagSet

	config      *string
	debug       *bool
	logFile     *string
	backend     *string
	workers     *int
	width       *int
	height      *int
	heightScale *float64
	storeDir    *string
	storeName   *string
}

// NewFlags registers the shared flags on a new FlagSet named after the tool.
func NewFlags(name string) *Flags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &Flags{
		FlagSet:     fs,
		config:      fs.String("config", "", "Path to config file"),
		debug:       fs.Bool("debug", false, "Enable debug logging"),
		logFile:     fs.String("log-file", "", "Write JSON logs to this file"),
		backend:     fs.String("backend", "", "Compute backend (cpu|wgpu)"),
		workers:     fs.Int("workers", 0, "Host backend worker count"),
		width:       fs.Int("width", 0, "Window width"),
		height:      fs.Int("height", 0, "Window height"),
		heightScale: fs.Float64("height-scale", 0, "World height of a normalised sample of 1"),
		storeDir:    fs.String("out", "", "Node store directory"),
		storeName:   fs.String("name", "", "Node store base name"),
	}
}

// Parse parses the tool arguments (without the program name).
func (f *Flags) Parse(args []string) error {
	return f.FlagSet.Parse(args)
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.config
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if *f.debug {
		cfg.Logging.Level = "debug"
	}
	if *f.logFile != "" {
		cfg.Logging.LogFile = *f.logFile
	}
	if *f.backend != "" {
		cfg.Renderer.Backend = *f.backend
	}
	if *f.workers > 0 {
		cfg.Renderer.Workers = *f.workers
	}
	if *f.width > 0 {
		cfg.Window.Width = *f.width
	}
	if *f.height > 0 {
		cfg.Window.Height = *f.height
	}
	if *f.heightScale > 0 {
		cfg.Terrain.HeightScale = float32(*f.heightScale)
	}
	if *f.storeDir != "" {
		cfg.Terrain.StoreDir = *f.storeDir
	}
	if *f.storeName != "" {
		cfg.Terrain.StoreName = *f.storeName
	}
}
