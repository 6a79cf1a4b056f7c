package logger

import log "github.com/sirupsen/logrus"

// SetLevel applies a level name such as "debug" or "warn" to the package
// logger. An empty name keeps the current level.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}
