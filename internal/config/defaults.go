package config

const (
	defaultConfigPath      = "~/.config/murmur/config.toml"
	defaultDataDir         = "~/.local/share/murmur"
	defaultLogDir          = "~/.local/share/murmur/logs"
	defaultScratchDir      = "~/.cache/murmur/scratch"
	defaultEventsBind      = "127.0.0.1:7488"
	defaultDeployment      = DeploymentAuto
	defaultServiceDir      = "./python-service"
	defaultStartupTimeout  = 120
	defaultCallTimeout     = 300
	defaultShutdownTimeout = 5
	defaultGracePeriod     = 5
	defaultModelName       = "large-v3"
	defaultModelLanguage   = "de"
	defaultModelDevice     = "mps"
	defaultComputeType     = "float16"
	defaultDraptoBinary    = "drapto"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
)

// Deployment modes understood by the worker path resolver.
const (
	DeploymentAuto        = "auto"
	DeploymentDevelopment = "development"
	DeploymentPackaged    = "packaged"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			ScratchDir: defaultScratchDir,
			EventsBind: defaultEventsBind,
		},
		Worker: Worker{
			Deployment:      defaultDeployment,
			ServiceDir:      defaultServiceDir,
			StartupTimeout:  defaultStartupTimeout,
			CallTimeout:     defaultCallTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			GracePeriod:     defaultGracePeriod,
		},
		Model: Model{
			Name:        defaultModelName,
			Language:    defaultModelLanguage,
			Device:      defaultModelDevice,
			ComputeType: defaultComputeType,
		},
		Encoding: Encoding{
			DraptoBinary: defaultDraptoBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
