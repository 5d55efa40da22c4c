package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chatsg/chatsg/config"
	"github.com/chatsg/chatsg/pkg/logger"
)

// watchConfig watches the directory containing path and re-registers
// the agent roster whenever the file's content changes. Only the agent
// set hot-reloads; changes to store/memory/cache wiring still require a
// restart, so those are logged rather than applied.
func watchConfig(path string, a *app) (stop func(), err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	done := make(chan struct{})
	go watchLoop(watcher, absPath, a, done)

	logger.GetLogger().Info("watching config file for changes", "path", absPath)
	return func() {
		close(done)
		watcher.Close()
	}, nil
}

func watchLoop(watcher *fsnotify.Watcher, absPath string, a *app, done <-chan struct{}) {
	configFile := filepath.Base(absPath)
	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-done:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.GetLogger().Warn("config watcher error", "err", err)

		case <-reload:
			applyConfigReload(absPath, a)
		}
	}
}

func applyConfigReload(path string, a *app) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.GetLogger().Warn("config reload failed, keeping previous configuration", "path", path, "err", err)
		return
	}

	providers, err := buildLLMProviders(cfg)
	if err != nil {
		logger.GetLogger().Warn("config reload failed building llm providers", "err", err)
		return
	}

	for name, ac := range cfg.Agents {
		provider, ok := providers[ac.LLM]
		if !ok {
			logger.GetLogger().Warn("config reload: agent references undefined llm, skipping", "agent", name, "llm", ac.LLM)
			continue
		}
		newAgent, err := buildAgent(ac, provider, a.store)
		if err != nil {
			logger.GetLogger().Warn("config reload: rebuild agent failed, skipping", "agent", name, "err", err)
			continue
		}
		if a.registry.Exists(newAgent.GetInfo().Name) {
			if err := a.registry.UnregisterAgent(newAgent.GetInfo().Name); err != nil {
				logger.GetLogger().Warn("config reload: unregister stale agent failed", "agent", name, "err", err)
				continue
			}
		}
		if err := a.registry.RegisterAgent(newAgent); err != nil {
			logger.GetLogger().Warn("config reload: register agent failed", "agent", name, "err", err)
			continue
		}
	}

	if cfg.Session != a.cfg.Session || cfg.Memory != a.cfg.Memory || cfg.Cache != a.cfg.Cache {
		logger.GetLogger().Warn("config reload: session, memory or cache settings changed; they take effect only after a restart", "path", path)
	}

	logger.GetLogger().Info("config reload applied", "path", path, "agentCount", a.registry.Count())
}
