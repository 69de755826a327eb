package boardconfigs

import (
	_ "embed"
	"os"
	"path/filepath"

	"github.com/reusee/studyboard/cmds"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/logs"
)

//go:embed schema.cue
var schema string

var configFlags = cmds.Collect[string]("-config")

func (Module) ConfigsLoader(
	logger logs.Logger,
) configs.Loader {

	var paths []string
	defer func() {
		if len(paths) > 0 {
			logger.Info("config file",
				"paths", paths,
			)
		}
	}()

	// explicit files take precedence
	paths = append(paths, *configFlags...)

	filenames := []string{
		"studyboard.cue",
		".studyboard.cue",
	}

	// working directory
	workingDir, err := os.Getwd()
	if err == nil {
		for _, filename := range filenames {
			path := filepath.Join(workingDir, filename)
			_, err := os.Stat(path)
			if err == nil {
				paths = append(paths, path)
			}
		}
	}

	// user config dir
	configDir, err := os.UserConfigDir()
	if err == nil {
		for _, filename := range filenames {
			path := filepath.Join(configDir, "studyboard", filename)
			_, err := os.Stat(path)
			if err == nil {
				paths = append(paths, path)
			}
		}
	}

	// system wide dir
	for _, filename := range filenames {
		path := filepath.Join("/etc", filename)
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}

	return configs.NewLoader(paths, schema)
}

// Schema returns the cue schema config files are validated against.
func Schema() string {
	return schema
}
