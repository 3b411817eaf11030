package app

import (
	"net/http"

	"go.uber.org/zap"

	"parley/internal/config"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home     string         // data directory, e.g. $HOME/.parley
	Settings *config.Config // parsed parley.toml
	Secret   []byte         // storage passphrase
	HTTP     *http.Client   // optional; defaults to one with the relay timeout
	Logger   *zap.Logger    // optional; built from Settings.Logging when nil
}
