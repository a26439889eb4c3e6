package config

const (
	// DefaultConfigDir is the default daemon config directory
	DefaultConfigDir = "/etc/courierd"
	// DaemonConfigFile is the daemon config file in config dir
	DaemonConfigFile = "courierd"
	// DefaultConfigPath is the default path to the daemon config file
	DefaultConfigPath = DefaultConfigDir + "/" + DaemonConfigFile

	// ConfigDirEnvVar is the name of an environment variable which
	// can be set to change the location of config files
	// (e.g. for development)
	ConfigDirEnvVar = "COURIERD_CONFIG_DIR"

	// DefaultExecutable is the heartbeat group submitter threads
	// register under
	DefaultExecutable = "courierd-submitter"

	// DefaultInterval between scheduling cycles
	DefaultInterval = "10s"

	// DefaultRedisServer is the default heartbeat backend address
	DefaultRedisServer = ":6379"

	// DefaultFetchLimit bounds how many requests one cycle fetches
	DefaultFetchLimit = 1000

	// DefaultTransferAccount is the account transfers are submitted
	// under
	DefaultTransferAccount = "courier"
)
