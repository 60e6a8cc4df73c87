package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Settings returns the configuration as a nested map with durations as
// strings and the admin token hash masked.
func (c *Config) Settings() map[string]interface{} {
	indexes := make([]map[string]interface{}, len(c.Indexes))
	for i, idx := range c.Indexes {
		indexes[i] = map[string]interface{}{
			"id":         idx.ID,
			"corpusPath": idx.CorpusPath,
			"encoding":   idx.Encoding,
		}
	}

	tokenHash := ""
	if c.Admin.TokenHash != "" {
		tokenHash = "****"
	}

	return map[string]interface{}{
		"server": map[string]interface{}{
			"addr":         c.Server.Addr,
			"readTimeout":  c.Server.ReadTimeout.String(),
			"writeTimeout": c.Server.WriteTimeout.String(),
			"idleTimeout":  c.Server.IdleTimeout.String(),
			"maxBodyBytes": c.Server.MaxBodyBytes,
		},
		"dispatch": map[string]interface{}{
			"deadline":    c.Dispatch.Deadline.String(),
			"queueName":   c.Dispatch.QueueName,
			"queueSize":   c.Dispatch.QueueSize,
			"concurrency": c.Dispatch.Concurrency,
		},
		"cache": map[string]interface{}{
			"backend":    c.Cache.Backend,
			"path":       c.Cache.Path,
			"ttl":        c.Cache.TTL.String(),
			"refreshTtl": c.Cache.RefreshTTL.String(),
		},
		"logging": map[string]interface{}{
			"format":     c.Logging.Format,
			"level":      c.Logging.Level,
			"file":       c.Logging.File,
			"maxSize":    c.Logging.MaxSize,
			"maxBackups": c.Logging.MaxBackups,
		},
		"metrics": map[string]interface{}{
			"enabled": c.Metrics.Enabled,
		},
		"admin": map[string]interface{}{
			"tokenHash": tokenHash,
		},
		"indexes":     indexes,
		"indexesFile": c.IndexesFile,
	}
}

// Render writes the configuration in format json, yaml or toml.
func (c *Config) Render(w io.Writer, format string) error {
	settings := c.Settings()

	var (
		data []byte
		err  error
	)
	switch format {
	case "", "json":
		data, err = json.MarshalIndent(settings, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(settings)
	case "toml":
		data, err = toml.Marshal(settings)
	default:
		return fmt.Errorf("unknown format %q (want json, yaml or toml)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to render config as %s: %w", format, err)
	}
	_, err = w.Write(data)
	return err
}
