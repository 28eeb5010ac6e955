package main

import (
	"strings"
	"sync"

	"caravan/internal/config"
	"caravan/internal/jobctl"
	"caravan/internal/jobstore"
	"caravan/internal/logging"
	"caravan/internal/notifications"
	"caravan/internal/trigger"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	configPath string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolvedPath
	})
	return c.config, c.configErr
}

// withStore opens the job store for the duration of one command.
func (c *commandContext) withStore(fn func(*config.Config, *jobstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobstore.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// withController builds a job controller over a freshly opened store.
func (c *commandContext) withController(fn func(*config.Config, *jobstore.Store, *jobctl.Controller) error) error {
	return c.withStore(func(cfg *config.Config, store *jobstore.Store) error {
		ctl := jobctl.NewController(cfg, store, trigger.NewScheduler(cfg), notifications.NewService(cfg), logging.NewNop())
		return fn(cfg, store, ctl)
	})
}
