package backend

import (
	"fmt"

	"presupuesto/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	return Config{
		FetchTimeout:             appConfig.FetchTimeout,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleAPIKey:             appConfig.GoogleAPIKey,
	}, nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{HTTPBackend, SheetsBackend}
}
