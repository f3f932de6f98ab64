package config

import (
	"context"
	"log/slog"
)

// Log logs the resolved settings in a granular way, masking secrets.
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger.
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "config: repository.url", "value", s.Repository.URL)
	logger.InfoContext(ctx, "config: repository.secureComms", "value", s.Repository.SecureComms)
	logger.InfoContext(ctx, "config: repository.rateLimitQPS", "value", s.Repository.RateLimitQPS)
	logger.InfoContext(ctx, "config: search", "host", s.Search.Host, "port", s.Search.Port, "protocol", s.Search.Protocol)
	logger.InfoContext(ctx, "config: search.index", "name", s.Search.Index.Name, "controlName", s.Search.Index.ControlName)
	logger.InfoContext(ctx, "config: indexer", "cycleInterval", s.Indexer.CycleInterval,
		"maxResults", s.Indexer.MaxResults, "contentThreads", s.Indexer.ContentThreads)
}

// RepositorySettingsLogValue returns a slog.Value for RepositorySettings with masked secrets.
func RepositorySettingsLogValue(s RepositorySettings) slog.Value {
	return slog.GroupValue(
		slog.String("url", s.URL),
		slog.String("secureComms", s.SecureComms),
		slog.String("secret", mask(s.Secret)),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked secrets.
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.Any("repository", RepositorySettingsLogValue(s.Repository)),
		slog.String("searchHost", s.Search.Host),
		slog.Int("searchPort", s.Search.Port),
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
