package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents who the daemon runs as.
type ExecMode string

const (
	// ExecModeUser runs under the desktop user's session
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root
	ExecModeSystem ExecMode = "system"
)

const appDirName = "detoxd"

// Paths holds the on-disk locations used by the daemon.
type Paths struct {
	Mode       ExecMode
	DataDir    string // encrypted state and its key
	ConfigPath string // default config file
	LogPath    string // default rotating log file
	IsRoot     bool
}

// DetectPaths resolves locations from the effective UID, following the
// XDG base directories for user mode.
func DetectPaths() *Paths {
	if os.Geteuid() == 0 {
		return &Paths{
			Mode:       ExecModeSystem,
			DataDir:    "/var/lib/" + appDirName,
			ConfigPath: "/etc/" + appDirName + "/config.toml",
			LogPath:    "/var/log/" + appDirName + "/" + appDirName + ".log",
			IsRoot:     true,
		}
	}
	return UserPaths(GetRealUserHome())
}

// UserPaths returns user-mode locations under home, honouring
// XDG_DATA_HOME, XDG_CONFIG_HOME and XDG_STATE_HOME when set.
func UserPaths(home string) *Paths {
	data := xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	conf := xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	state := xdgDir("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))

	return &Paths{
		Mode:       ExecModeUser,
		DataDir:    filepath.Join(data, appDirName),
		ConfigPath: filepath.Join(conf, appDirName, "config.toml"),
		LogPath:    filepath.Join(state, appDirName, appDirName+".log"),
		IsRoot:     os.Geteuid() == 0,
	}
}

func xdgDir(env, fallback string) string {
	if v := os.Getenv(env); v != "" && filepath.IsAbs(v) {
		return v
	}
	return fallback
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the invoking user's home directory, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
